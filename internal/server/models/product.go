package models

import "database/sql"

// Product is the owning entity media is attached to. Only the columns the
// media subsystem reads or touches are modelled here.
type Product struct {
	ID             string
	Title          string
	LastModified   sql.NullTime
	LastModifiedBy sql.NullString
}
