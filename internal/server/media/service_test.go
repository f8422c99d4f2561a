package media

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/dmitrijs2005/ishlearn/internal/common"
	"github.com/dmitrijs2005/ishlearn/internal/logging"
	"github.com/dmitrijs2005/ishlearn/internal/server/objectstore/objectstoretest"
	"github.com/dmitrijs2005/ishlearn/internal/server/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentEvent struct {
	event   string
	payload any
}

type fakeChannel struct {
	id, principal string

	mu     sync.Mutex
	events []sentEvent
}

func (c *fakeChannel) ID() string        { return c.id }
func (c *fakeChannel) Principal() string { return c.principal }

func (c *fakeChannel) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, sentEvent{event, payload})
	return nil
}

func (c *fakeChannel) Events() []sentEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentEvent(nil), c.events...)
}

func (c *fakeChannel) last() sentEvent {
	ev := c.Events()
	if len(ev) == 0 {
		return sentEvent{}
	}
	return ev[len(ev)-1]
}

type serviceFixture struct {
	mem      *memDB
	s3       *objectstoretest.S3
	registry *transfer.Registry
	observer *fakeObserver
	svc      *Service
}

func newServiceFixture(t *testing.T, opts Options) *serviceFixture {
	t.Helper()
	mem := newMemDB()
	mem.grant("p1", "alice")
	s3 := objectstoretest.New()
	reg := transfer.NewRegistry(8)
	obs := &fakeObserver{}
	opts.SpoolDir = t.TempDir()
	svc := NewService(context.Background(), newTxDB(t), &fakeRepoManager{db: mem}, newMemStore(s3), reg, obs, opts, logging.Nop())
	return &serviceFixture{mem: mem, s3: s3, registry: reg, observer: obs, svc: svc}
}

// gate holds every PutObject until the returned func is called.
func (f *serviceFixture) gate() func() {
	ch := make(chan struct{})
	f.s3.PutGate = ch
	return func() { close(ch) }
}

func (f *serviceFixture) upload(t *testing.T, req UploadRequest, body string) *fakeChannel {
	t.Helper()
	release := f.gate()
	id, err := f.svc.Upload(context.Background(), req, strings.NewReader(body))
	require.NoError(t, err)
	ch := &fakeChannel{id: "ch-" + id, principal: req.Principal}
	require.True(t, f.registry.BindChannel(id, ch))
	release()
	f.svc.Wait()
	return ch
}

func TestUpload_StoresAndReportsDone(t *testing.T) {
	f := newServiceFixture(t, Options{})

	ch := f.upload(t, UploadRequest{ProductID: "p1", Filename: "essay.md", Principal: "alice"}, "# essay")

	body, ok := f.s3.Object("p1/essay.md")
	require.True(t, ok)
	assert.Equal(t, "# essay", string(body))
	assert.Equal(t, "text/markdown", f.s3.ContentType("p1/essay.md"))

	rec := f.mem.byURL("p1/essay.md")
	require.NotNil(t, rec)
	assert.Equal(t, "essay.md", rec.Filename)

	events := ch.Events()
	require.GreaterOrEqual(t, len(events), 2)
	progress, ok := events[0].payload.(transfer.ProgressEvent)
	require.True(t, ok)
	assert.Equal(t, transfer.EventProgress, events[0].event)
	assert.Equal(t, int64(7), progress.Loaded)
	assert.Equal(t, int64(7), progress.Total)
	assert.Equal(t, "essay.md", progress.Filename)

	last := ch.last()
	assert.Equal(t, transfer.EventDone, last.event)
	done, ok := last.payload.(transfer.DoneEvent)
	require.True(t, ok)
	assert.Equal(t, rec.ID, done.MediaID)

	assert.Equal(t, 0, f.registry.Len())
	assert.Equal(t, []string{"p1|alice"}, f.mem.touched)
	assert.Equal(t, []recordedUpload{{"ok", 7}}, f.observer.Uploads())
}

func TestUpload_DuplicateWithoutOverrideRejected(t *testing.T) {
	f := newServiceFixture(t, Options{})
	f.upload(t, UploadRequest{ProductID: "p1", Filename: "essay.md", Principal: "alice"}, "v1")

	_, err := f.svc.Upload(context.Background(), UploadRequest{ProductID: "p1", Filename: "essay.md", Principal: "alice"}, strings.NewReader("v2"))
	require.ErrorIs(t, err, common.ErrorDuplicate)

	assert.Equal(t, 1, f.mem.countURL("p1/essay.md"))
	body, _ := f.s3.Object("p1/essay.md")
	assert.Equal(t, "v1", string(body))
	assert.Equal(t, 0, f.registry.Len())
}

func TestUpload_OverrideReplacesRecord(t *testing.T) {
	f := newServiceFixture(t, Options{})
	f.upload(t, UploadRequest{ProductID: "p1", Filename: "essay.md", Principal: "alice"}, "v1")
	first := f.mem.byURL("p1/essay.md")
	require.NotNil(t, first)

	ch := f.upload(t, UploadRequest{ProductID: "p1", Filename: "essay.md", Principal: "alice", Override: true}, "v2")

	assert.Equal(t, transfer.EventDone, ch.last().event)
	assert.Equal(t, 1, f.mem.countURL("p1/essay.md"))
	second := f.mem.byURL("p1/essay.md")
	assert.NotEqual(t, first.ID, second.ID)
	body, _ := f.s3.Object("p1/essay.md")
	assert.Equal(t, "v2", string(body))
}

func TestUpload_OverrideDeletesLegacyObject(t *testing.T) {
	f := newServiceFixture(t, Options{})
	f.mem.add("p1", "my essay.md", "p1/my essay.md")
	f.s3.Seed("p1/my essay.md", []byte("old"), "text/markdown", nil)

	ch := f.upload(t, UploadRequest{ProductID: "p1", Filename: "my essay.md", Principal: "alice", Override: true}, "new")

	assert.Equal(t, transfer.EventDone, ch.last().event)
	_, ok := f.s3.Object("p1/my essay.md")
	assert.False(t, ok)
	_, ok = f.s3.Object("p1/my_essay.md")
	assert.True(t, ok)
	assert.Nil(t, f.mem.byURL("p1/my essay.md"))
	assert.NotNil(t, f.mem.byURL("p1/my_essay.md"))
}

func TestUpload_RejectedBeforeAnyIO(t *testing.T) {
	tests := []struct {
		name    string
		req     UploadRequest
		setup   func(*memDB)
		wantErr error
	}{
		{
			name:    "missing project",
			req:     UploadRequest{Filename: "essay.md", Principal: "alice"},
			wantErr: common.ErrorValidation,
		},
		{
			name:    "missing filename",
			req:     UploadRequest{ProductID: "p1", Filename: "  ", Principal: "alice"},
			wantErr: common.ErrorValidation,
		},
		{
			name:    "empty filename is rejected before authorization",
			req:     UploadRequest{ProductID: "p1", Filename: "", Principal: "mallory"},
			setup:   func(m *memDB) { m.canWriteErr = errors.New("must not be called") },
			wantErr: common.ErrorValidation,
		},
		{
			name:    "anonymous",
			req:     UploadRequest{ProductID: "p1", Filename: "essay.md"},
			wantErr: common.ErrorUnauthorized,
		},
		{
			name:    "not a collaborator",
			req:     UploadRequest{ProductID: "p1", Filename: "essay.md", Principal: "mallory"},
			wantErr: common.ErrorForbidden,
		},
		{
			name:    "collaborator lookup fails",
			req:     UploadRequest{ProductID: "p1", Filename: "essay.md", Principal: "alice"},
			setup:   func(m *memDB) { m.canWriteErr = errors.New("conn refused") },
			wantErr: common.ErrorStorageUnavailable,
		},
		{
			name:    "duplicate lookup fails",
			req:     UploadRequest{ProductID: "p1", Filename: "essay.md", Principal: "alice"},
			setup:   func(m *memDB) { m.findErr = errors.New("conn refused") },
			wantErr: common.ErrorStorageUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t, Options{})
			if tt.setup != nil {
				tt.setup(f.mem)
			}

			id, err := f.svc.Upload(context.Background(), tt.req, strings.NewReader("data"))
			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, id)
			assert.Empty(t, f.s3.Calls())
			assert.Equal(t, 0, f.registry.Len())
		})
	}
}

func TestUpload_NilBody(t *testing.T) {
	f := newServiceFixture(t, Options{})
	_, err := f.svc.Upload(context.Background(), UploadRequest{ProductID: "p1", Filename: "essay.md", Principal: "alice"}, nil)
	require.ErrorIs(t, err, common.ErrorValidation)
}

func TestUpload_StoreFailureReportsFailed(t *testing.T) {
	f := newServiceFixture(t, Options{})
	f.s3.PutErr = objectstoretest.StatusError(500)

	ch := f.upload(t, UploadRequest{ProductID: "p1", Filename: "essay.md", Principal: "alice"}, "data")

	last := ch.last()
	assert.Equal(t, transfer.EventFailed, last.event)
	failed, ok := last.payload.(transfer.FailedEvent)
	require.True(t, ok)
	assert.NotEmpty(t, failed.Error)
	assert.Nil(t, f.mem.byURL("p1/essay.md"))
	assert.Equal(t, []recordedUpload{{"store_failed", 4}}, f.observer.Uploads())
}

func TestUpload_PersistFailureCompensates(t *testing.T) {
	tests := []struct {
		name       string
		compensate bool
		wantObject bool
	}{
		{"enabled", true, false},
		{"disabled", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t, Options{CompensateOrphans: tt.compensate})
			f.mem.insertErr = errors.New("insert failed")

			ch := f.upload(t, UploadRequest{ProductID: "p1", Filename: "essay.md", Principal: "alice"}, "data")

			assert.Equal(t, transfer.EventFailed, ch.last().event)
			_, ok := f.s3.Object("p1/essay.md")
			assert.Equal(t, tt.wantObject, ok)
		})
	}
}

func TestUpload_ConcurrentDuplicateKeepsWinnersObject(t *testing.T) {
	f := newServiceFixture(t, Options{CompensateOrphans: true})

	release := f.gate()
	id, err := f.svc.Upload(context.Background(), UploadRequest{ProductID: "p1", Filename: "essay.md", Principal: "alice"}, strings.NewReader("late"))
	require.NoError(t, err)
	ch := &fakeChannel{id: "ch", principal: "alice"}
	require.True(t, f.registry.BindChannel(id, ch))

	// another upload stores and commits the same key while this one is in flight
	winner := f.mem.add("p1", "essay.md", "p1/essay.md")
	f.s3.Seed("p1/essay.md", []byte("winner"), "text/markdown", nil)
	release()
	f.svc.Wait()

	last := ch.last()
	assert.Equal(t, transfer.EventFailed, last.event)
	failed, ok := last.payload.(transfer.FailedEvent)
	require.True(t, ok)
	assert.Equal(t, common.ErrorDuplicate.Error(), failed.Error)
	assert.Equal(t, 1, f.mem.countURL("p1/essay.md"))
	assert.Equal(t, winner, f.mem.byURL("p1/essay.md").ID)

	body, ok := f.s3.Object("p1/essay.md")
	require.True(t, ok)
	assert.Equal(t, "winner", string(body))
	assert.Equal(t, []recordedUpload{{"duplicate", 4}}, f.observer.Uploads())
}

func TestUpload_OverrideReplacesOrphanedObject(t *testing.T) {
	f := newServiceFixture(t, Options{})
	// bytes left behind by an upload whose record never committed
	f.s3.Seed("p1/essay.md", []byte("orphan"), "text/markdown", nil)

	plain := f.upload(t, UploadRequest{ProductID: "p1", Filename: "essay.md", Principal: "alice"}, "data")
	assert.Equal(t, transfer.EventFailed, plain.last().event)
	body, _ := f.s3.Object("p1/essay.md")
	assert.Equal(t, "orphan", string(body))

	forced := f.upload(t, UploadRequest{ProductID: "p1", Filename: "essay.md", Principal: "alice", Override: true}, "data")
	assert.Equal(t, transfer.EventDone, forced.last().event)
	body, _ = f.s3.Object("p1/essay.md")
	assert.Equal(t, "data", string(body))
	assert.NotNil(t, f.mem.byURL("p1/essay.md"))
}

func TestUpload_ContinuesAfterChannelDetached(t *testing.T) {
	f := newServiceFixture(t, Options{})

	release := f.gate()
	id, err := f.svc.Upload(context.Background(), UploadRequest{ProductID: "p1", Filename: "essay.md", Principal: "alice"}, strings.NewReader("data"))
	require.NoError(t, err)
	ch := &fakeChannel{id: "ch", principal: "alice"}
	require.True(t, f.registry.BindChannel(id, ch))
	f.registry.Detach(ch)
	release()
	f.svc.Wait()

	assert.Empty(t, ch.Events())
	assert.NotNil(t, f.mem.byURL("p1/essay.md"))
	assert.Equal(t, 0, f.registry.Len())
}

func TestUpload_RequestCancelDoesNotStopTransfer(t *testing.T) {
	f := newServiceFixture(t, Options{})

	release := f.gate()
	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.svc.Upload(ctx, UploadRequest{ProductID: "p1", Filename: "essay.md", Principal: "alice"}, strings.NewReader("data"))
	require.NoError(t, err)
	cancel()
	release()
	f.svc.Wait()

	assert.NotNil(t, f.mem.byURL("p1/essay.md"))
}

func TestUploadAndWait(t *testing.T) {
	f := newServiceFixture(t, Options{})

	id, err := f.svc.UploadAndWait(context.Background(), UploadRequest{ProductID: "p1", Filename: "notes.txt", Principal: "alice"}, strings.NewReader("hello"))
	require.NoError(t, err)

	rec := f.mem.byURL("p1/notes.txt")
	require.NotNil(t, rec)
	assert.Equal(t, rec.ID, id)
	assert.Equal(t, 0, f.registry.Len())
}

func TestUploadAndWait_ExistingObjectIsDuplicate(t *testing.T) {
	f := newServiceFixture(t, Options{CompensateOrphans: true})
	f.s3.Seed("p1/notes.txt", []byte("winner"), "text/plain", nil)

	_, err := f.svc.UploadAndWait(context.Background(), UploadRequest{ProductID: "p1", Filename: "notes.txt", Principal: "alice"}, strings.NewReader("hello"))
	require.ErrorIs(t, err, common.ErrorDuplicate)
	body, ok := f.s3.Object("p1/notes.txt")
	require.True(t, ok)
	assert.Equal(t, "winner", string(body))
	assert.Nil(t, f.mem.byURL("p1/notes.txt"))
}

func TestUploadAndWait_StoreFailure(t *testing.T) {
	f := newServiceFixture(t, Options{})
	f.s3.PutErr = objectstoretest.StatusError(500)

	_, err := f.svc.UploadAndWait(context.Background(), UploadRequest{ProductID: "p1", Filename: "notes.txt", Principal: "alice"}, strings.NewReader("hello"))
	require.ErrorIs(t, err, common.ErrorStoreWrite)
	assert.Nil(t, f.mem.byURL("p1/notes.txt"))
}

func TestDelete(t *testing.T) {
	f := newServiceFixture(t, Options{})
	id := f.mem.add("p1", "essay.md", "p1/essay.md")
	f.s3.Seed("p1/essay.md", []byte("x"), "text/markdown", nil)

	require.NoError(t, f.svc.Delete(context.Background(), "alice", id))

	assert.Nil(t, f.mem.byURL("p1/essay.md"))
	_, ok := f.s3.Object("p1/essay.md")
	assert.False(t, ok)
}

func TestDelete_Errors(t *testing.T) {
	f := newServiceFixture(t, Options{})
	id := f.mem.add("p1", "essay.md", "p1/essay.md")

	require.ErrorIs(t, f.svc.Delete(context.Background(), "alice", id+100), common.ErrorNotFound)
	require.ErrorIs(t, f.svc.Delete(context.Background(), "mallory", id), common.ErrorForbidden)
	require.ErrorIs(t, f.svc.Delete(context.Background(), "", id), common.ErrorUnauthorized)
	assert.NotNil(t, f.mem.byURL("p1/essay.md"))
}

func TestDelete_RemovesObjectUnderRecordURL(t *testing.T) {
	f := newServiceFixture(t, Options{})
	id := f.mem.add("p1", "my essay.md", "p1/my essay.md")
	f.s3.Seed("p1/my essay.md", []byte("legacy"), "text/markdown", nil)

	require.NoError(t, f.svc.Delete(context.Background(), "alice", id))

	_, ok := f.s3.Object("p1/my essay.md")
	assert.False(t, ok)
}

func TestList(t *testing.T) {
	f := newServiceFixture(t, Options{})
	f.mem.grant("p2", "bob")
	first := f.mem.add("p1", "essay.md", "p1/essay.md")
	f.mem.add("p2", "other.md", "p2/other.md")
	second := f.mem.add("p1", "notes.txt", "p1/notes.txt")

	items, err := f.svc.List(context.Background(), "mallory", " p1 ")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first, items[0].ID)
	assert.Equal(t, second, items[1].ID)
	assert.Equal(t, "p1/notes.txt", items[1].URL)

	items, err = f.svc.List(context.Background(), "alice", "p2")
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestList_Errors(t *testing.T) {
	f := newServiceFixture(t, Options{})

	_, err := f.svc.List(context.Background(), "", "p1")
	require.ErrorIs(t, err, common.ErrorUnauthorized)

	_, err = f.svc.List(context.Background(), "alice", "")
	require.ErrorIs(t, err, common.ErrorValidation)

	_, err = f.svc.List(context.Background(), "alice", "nope")
	require.ErrorIs(t, err, common.ErrorNotFound)

	f.mem.findErr = errors.New("conn refused")
	_, err = f.svc.List(context.Background(), "alice", "p1")
	require.ErrorIs(t, err, common.ErrorStorageUnavailable)
}
