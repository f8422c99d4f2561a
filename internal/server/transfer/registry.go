// Package transfer tracks uploads that are still running after the HTTP
// request that started them has returned, and routes their progress to
// whichever push channel the uploading client later attaches.
package transfer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Handle is the running upload a session owns.
type Handle interface {
	Wait() error
}

// ErrFrameDropped is wrapped by Channel.Send errors that skipped one frame
// but left the channel usable. Any other Send error unbinds the channel.
var ErrFrameDropped = errors.New("frame dropped")

// Channel is a client push connection. Send must not block; it is called
// with the registry lock held.
type Channel interface {
	ID() string
	Principal() string
	Send(event string, payload any) error
}

// SessionInfo is a snapshot of one session.
type SessionInfo struct {
	ID        string
	Principal string
	Filename  string
	Handle    Handle
	Bound     bool
}

type session struct {
	SessionInfo
	channel Channel
	pending []ProgressEvent
}

// Registry maps session ids to in-flight uploads. All methods are safe for
// concurrent use. Progress published before a channel binds is kept, up to
// a fixed number of events per session, and flushed on bind.
type Registry struct {
	mu         sync.Mutex
	sessions   map[string]*session
	maxPending int
	newID      func() (string, error)
}

func NewRegistry(maxPending int) *Registry {
	if maxPending < 0 {
		maxPending = 0
	}
	return &Registry{
		sessions:   make(map[string]*session),
		maxPending: maxPending,
		newID: func() (string, error) {
			id, err := uuid.NewRandom()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
	}
}

// Register stores h under a fresh random id and returns the id.
func (r *Registry) Register(h Handle, principal, filename string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < 3; attempt++ {
		id, err := r.newID()
		if err != nil {
			return "", fmt.Errorf("session id: %w", err)
		}
		if _, taken := r.sessions[id]; taken {
			continue
		}
		r.sessions[id] = &session{SessionInfo: SessionInfo{
			ID:        id,
			Principal: principal,
			Filename:  filename,
			Handle:    h,
		}}
		return id, nil
	}
	return "", fmt.Errorf("session id: no unique id after retries")
}

func (r *Registry) Get(id string) (SessionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return SessionInfo{}, false
	}
	info := s.SessionInfo
	info.Bound = s.channel != nil
	return info, true
}

// BindChannel attaches ch to the session and flushes buffered progress.
// It returns false when the session no longer exists.
func (r *Registry) BindChannel(id string, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.channel = ch
	for _, ev := range s.pending {
		if err := ch.Send(EventProgress, ev); err != nil && !errors.Is(err, ErrFrameDropped) {
			s.channel = nil
			break
		}
	}
	s.pending = nil
	return true
}

// Publish delivers ev to the bound channel, or buffers it. Events for
// unknown sessions are dropped.
func (r *Registry) Publish(id string, ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return
	}
	if s.channel != nil {
		if err := s.channel.Send(EventProgress, ev); err != nil && !errors.Is(err, ErrFrameDropped) {
			s.channel = nil
		}
		return
	}
	if r.maxPending == 0 {
		return
	}
	if len(s.pending) == r.maxPending {
		s.pending = append(s.pending[:0], s.pending[1:]...)
	}
	s.pending = append(s.pending, ev)
}

// Finish removes the session and sends the terminal event to its channel,
// if one is bound. It reports whether the event was delivered.
func (r *Registry) Finish(id, event string, payload any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	delete(r.sessions, id)
	if s.channel == nil {
		return false
	}
	return s.channel.Send(event, payload) == nil
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Detach clears every reference to ch. The uploads keep running.
func (r *Registry) Detach(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.channel != nil && s.channel.ID() == ch.ID() {
			s.channel = nil
		}
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
