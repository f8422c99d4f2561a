// Package models defines server-side data models persisted in the database.
package models

import (
	"database/sql"
	"time"
)

// Media describes one stored object. The bytes live in object storage under URL.
type Media struct {
	// ID is generated by the database on insert.
	ID int64
	// Filename is the human filename supplied by the uploader.
	Filename string
	// URL is the canonical storage key, "<productID>/<sanitized filename>".
	URL string
	// FileType is the content type recorded at upload, if one was known.
	FileType sql.NullString
	// UploadedDate is set by the database.
	UploadedDate time.Time
}

// MediaLink ties a Media row to the product that owns it.
type MediaLink struct {
	MediaID   int64
	ProductID string
	// URL duplicates Media.URL so uniqueness per product can be enforced
	// by a single constraint.
	URL string
	// AddedBy is the principal that uploaded the object.
	AddedBy string
}
