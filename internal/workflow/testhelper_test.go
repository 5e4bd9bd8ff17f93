package workflow

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/nameflow/internal/db"
)

var (
	owner    = Actor{ID: "sam", Role: RoleSubmitter}
	stranger = Actor{ID: "sue", Role: RoleSubmitter}
	reviewer = Actor{ID: "rita", Role: RoleReviewer}
	other    = Actor{ID: "ravi", Role: RoleReviewer}
	admin    = Actor{ID: "ada", Role: RoleAdmin}
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) recipients() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.Recipient)
	}
	return out
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func setupTestStore(t *testing.T) *db.Store {
	t.Helper()
	d, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(d) })
	return db.NewStore(d)
}

func newTestService(t *testing.T, opts ...Option) (*Service, *db.Store) {
	t.Helper()
	store := setupTestStore(t)
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return NewService(store, opts...), store
}

// seed stores a request owned by `owner` that already sits in status.
func seed(t *testing.T, store *db.Store, status Status) *db.NamingRequest {
	t.Helper()
	now := time.Now().UTC()
	history := []db.StatusHistoryEntry{{Status: string(StatusSubmitted), ChangedBy: owner.ID, ChangedAt: now}}
	if status != StatusSubmitted {
		history = append(history, db.StatusHistoryEntry{Status: string(status), ChangedBy: admin.ID, ChangedAt: now})
	}
	req := &db.NamingRequest{
		SubmitterID:   owner.ID,
		Title:         "Falcon",
		FormData:      map[string]any{"title": "Falcon"},
		Status:        string(status),
		StatusHistory: history,
	}
	require.NoError(t, store.Create(context.Background(), req))
	return req
}

// requireHistoryInvariant checks that history is non-empty and ends at the current status.
func requireHistoryInvariant(t *testing.T, store *db.Store, id string) *db.NamingRequest {
	t.Helper()
	req, err := store.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotEmpty(t, req.StatusHistory)
	require.Equal(t, req.Status, req.LastStatus())
	return req
}

// barrierStore makes n callers finish FindByID before any of them continues.
type barrierStore struct {
	*db.Store
	wg sync.WaitGroup
}

func newBarrierStore(store *db.Store, n int) *barrierStore {
	b := &barrierStore{Store: store}
	b.wg.Add(n)
	return b
}

func (b *barrierStore) FindByID(ctx context.Context, id string) (*db.NamingRequest, error) {
	req, err := b.Store.FindByID(ctx, id)
	b.wg.Done()
	b.wg.Wait()
	return req, err
}

// failingStore returns an infrastructure error from every write.
type failingStore struct {
	*db.Store
}

func (f failingStore) UpdateStatus(context.Context, string, string, db.StatusUpdate) (*db.NamingRequest, error) {
	return nil, errors.New("disk on fire")
}

// staleStore serves a snapshot from FindByID so the conditional write misses.
type staleStore struct {
	*db.Store
	snapshot *db.NamingRequest
}

func (s staleStore) FindByID(context.Context, string) (*db.NamingRequest, error) {
	cp := *s.snapshot
	return &cp, nil
}
