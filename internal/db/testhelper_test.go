package db

import (
	"testing"
	"time"
)

// setupTestStore opens a fresh in-memory database for one test.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { _ = Close(d) })
	return NewStore(d)
}

func newRequest(submitter, title string) *NamingRequest {
	now := time.Now().UTC()
	return &NamingRequest{
		SubmitterID: submitter,
		Title:       title,
		FormData:    map[string]any{"title": title},
		Status:      "submitted",
		StatusHistory: []StatusHistoryEntry{
			{Status: "submitted", ChangedBy: submitter, ChangedAt: now},
		},
	}
}
