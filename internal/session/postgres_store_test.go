//go:build integration

package session

import (
	"context"
	"testing"
	"time"

	"github.com/visitra/chaincore/internal/testutil"
)

func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	return NewPostgresStore(db), cleanup
}

func TestPostgresStore_CRUD(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	sess := &Session{
		ID:        "itest-1",
		AdminID:   "admin-1",
		TokenHash: "hash",
		AuthKind:  AuthWallet,
		SourceIP:  "203.0.113.1",
		UserAgent: "ua",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		ExpiresAt: time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond),
	}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "itest-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AdminID != "admin-1" || got.AuthKind != AuthWallet {
		t.Fatalf("unexpected session: %+v", got)
	}

	list, err := store.ListByAdmin(ctx, "admin-1")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListByAdmin: %v, len=%d", err, len(list))
	}

	deleted, err := store.Delete(ctx, "itest-1")
	if err != nil || !deleted {
		t.Fatalf("Delete: %v deleted=%v", err, deleted)
	}
	deleted, _ = store.Delete(ctx, "itest-1")
	if deleted {
		t.Fatal("second delete should report false")
	}
}

func TestPostgresStore_DeleteExpired(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	for _, s := range []*Session{
		{ID: "exp-1", AdminID: "a", TokenHash: "h", AuthKind: AuthPassword, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)},
		{ID: "live-1", AdminID: "a", TokenHash: "h", AuthKind: AuthPassword, CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
	} {
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("Create %s: %v", s.ID, err)
		}
	}

	count, err := store.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 expired deleted, got %d", count)
	}
	if _, err := store.Get(ctx, "live-1"); err != nil {
		t.Fatalf("live session should survive: %v", err)
	}
}
