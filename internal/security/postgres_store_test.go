//go:build integration

package security

import (
	"context"
	"testing"
	"time"

	"github.com/visitra/chaincore/internal/chainerr"
	"github.com/visitra/chaincore/internal/testutil"
)

func TestPostgresStore_AppendAndRecent(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	entries := []*Entry{
		{ViolationKind: ViolationLoginFailure, SourceIP: "203.0.113.1", Severity: chainerr.SeverityLow},
		{ViolationKind: ViolationRateLimit, SourceIP: "203.0.113.1", Severity: chainerr.SeverityHigh, Blocked: true,
			Details: map[string]string{"window": "60s"}},
		{ViolationKind: ViolationWalletHopping, SubjectAddress: "0xabc", SourceIP: "203.0.113.2",
			UserAgent: "curl/8.0", Severity: chainerr.SeverityHigh, Blocked: true},
	}
	for _, e := range entries {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append(%s): %v", e.ViolationKind, err)
		}
	}

	recent, err := store.Recent(ctx, 10, nil)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("len(recent) = %d, want 3", len(recent))
	}
	for _, e := range recent {
		if e.ID == 0 {
			t.Errorf("entry %s has no assigned id", e.ViolationKind)
		}
	}

	limited, err := store.Recent(ctx, 2, nil)
	if err != nil || len(limited) != 2 {
		t.Fatalf("Recent(2): %v, len=%d", err, len(limited))
	}
}

func TestPostgresStore_DetailsRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	if err := store.Append(ctx, &Entry{
		ViolationKind: ViolationSuspiciousUA,
		SourceIP:      "203.0.113.9",
		Severity:      chainerr.SeverityMedium,
		Details:       map[string]string{"reasons": "automated user agent", "ua": "python-requests/2.31"},
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	recent, err := store.Recent(ctx, 1, nil)
	if err != nil || len(recent) != 1 {
		t.Fatalf("Recent: %v, len=%d", err, len(recent))
	}
	if recent[0].Details["ua"] != "python-requests/2.31" {
		t.Fatalf("details did not round-trip: %+v", recent[0].Details)
	}
}

func TestPostgresStore_CreatedAtPreserved(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	stamped := time.Now().Add(-48 * time.Hour).Truncate(time.Millisecond)
	if err := store.Append(ctx, &Entry{
		ViolationKind: ViolationLoginFailure,
		SourceIP:      "203.0.113.7",
		Severity:      chainerr.SeverityLow,
		CreatedAt:     stamped,
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, &Entry{
		ViolationKind: ViolationLoginSuccess,
		SourceIP:      "203.0.113.7",
		Severity:      chainerr.SeverityLow,
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	recent, err := store.Recent(ctx, 10, nil)
	if err != nil || len(recent) != 2 {
		t.Fatalf("Recent: %v, len=%d", err, len(recent))
	}
	// Newest first: the stamped entry sorts behind the defaulted one.
	if recent[1].ViolationKind != ViolationLoginFailure {
		t.Fatalf("expected stamped entry last, got %s", recent[1].ViolationKind)
	}
	if !recent[1].CreatedAt.Equal(stamped) {
		t.Fatalf("created_at = %v, want %v", recent[1].CreatedAt, stamped)
	}
	if recent[0].CreatedAt.IsZero() {
		t.Fatal("zero created_at must default to now")
	}
}

func TestPostgresStore_Summarize(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.Append(ctx, &Entry{
			ViolationKind: ViolationRateLimit, SourceIP: "203.0.113.1",
			Severity: chainerr.SeverityHigh, Blocked: true,
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := store.Append(ctx, &Entry{
		ViolationKind: ViolationLoginSuccess, SourceIP: "203.0.113.1",
		Severity: chainerr.SeverityLow,
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	report, err := store.Summarize(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if report.Total != 4 {
		t.Errorf("total = %d, want 4", report.Total)
	}
	if report.Blocked != 3 {
		t.Errorf("blocked = %d, want 3", report.Blocked)
	}
	if report.ByKind[ViolationRateLimit] != 3 {
		t.Errorf("byKind[rate_limit] = %d, want 3", report.ByKind[ViolationRateLimit])
	}
	if report.BySeverity[string(chainerr.SeverityLow)] != 1 {
		t.Errorf("bySeverity[low] = %d, want 1", report.BySeverity[string(chainerr.SeverityLow)])
	}
}
