package testutil

import (
	"testing"

	"github.com/nhle/mailboxd/internal/session"
)

// NewTestSessionStore creates an in-memory session store with all
// migrations applied. It automatically closes the store when the test
// completes.
func NewTestSessionStore(t *testing.T) *session.Store {
	t.Helper()

	s, err := session.Open(":memory:")
	if err != nil {
		t.Fatalf("creating test session store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test session store: %v", err)
		}
	})

	return s
}
