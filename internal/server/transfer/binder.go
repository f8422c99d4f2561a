package transfer

import (
	"context"

	"github.com/dmitrijs2005/ishlearn/internal/logging"
)

// Binder handles uploadStart announcements from push channels.
type Binder struct {
	registry *Registry
	logger   logging.Logger
}

func NewBinder(r *Registry, l logging.Logger) *Binder {
	return &Binder{registry: r, logger: l.With("module", "binder")}
}

// Announce binds ch to sessionID when the session is still running and was
// started by the same principal. Anything else is ignored: the upload may
// already have finished, and progress is best effort.
func (b *Binder) Announce(ctx context.Context, ch Channel, sessionID string) bool {
	info, ok := b.registry.Get(sessionID)
	if !ok {
		b.logger.Debug(ctx, "announce for unknown session", "session_id", sessionID, "channel_id", ch.ID())
		return false
	}
	if info.Principal != ch.Principal() {
		b.logger.Warn(ctx, "announce from foreign principal ignored", "session_id", sessionID, "channel_id", ch.ID())
		return false
	}
	if !b.registry.BindChannel(sessionID, ch) {
		return false
	}
	b.logger.Debug(ctx, "channel bound", "session_id", sessionID, "channel_id", ch.ID())
	return true
}
