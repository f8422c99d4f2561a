package media

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/ishlearn/internal/common"
	"github.com/dmitrijs2005/ishlearn/internal/server/models"
)

// Decision is the Guard's answer for one candidate upload.
type Decision int

const (
	Proceed Decision = iota
	ProceedAfterEvict
	Reject
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case ProceedAfterEvict:
		return "proceed_after_evict"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Verdict carries the decision and, for ProceedAfterEvict, what to evict.
type Verdict struct {
	Decision Decision
	Evict    []*models.Media
}

type mediaFinder interface {
	FindForProduct(ctx context.Context, productID, url string) ([]*models.Media, error)
}

// Guard decides whether an upload to a storage key may go ahead.
type Guard struct {
	finder mediaFinder
}

func NewGuard(f mediaFinder) *Guard {
	return &Guard{finder: f}
}

// Check looks for media of productID stored under path, or under a legacy
// key that normalizes to path. Nothing found: Proceed. Found without
// override: Reject with common.ErrorDuplicate. Found with override:
// ProceedAfterEvict listing the matches. A failed lookup yields
// common.ErrorStorageUnavailable.
func (g *Guard) Check(ctx context.Context, productID, path string, override bool) (Verdict, error) {
	existing, err := g.finder.FindForProduct(ctx, productID, path)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: duplicate lookup: %w", common.ErrorStorageUnavailable, err)
	}

	if len(existing) == 0 {
		return Verdict{Decision: Proceed}, nil
	}
	if !override {
		return Verdict{Decision: Reject}, common.ErrorDuplicate
	}
	return Verdict{Decision: ProceedAfterEvict, Evict: existing}, nil
}
