package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
	"github.com/vladislavdragonenkov/esoms/internal/storage/memory"
)

func TestHookLedger_BeginAndGet(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewHookLedger()
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	created, err := ledger.Begin(ctx, "evt-1:notify", ttl)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if created.Status != domain.HookStatusProcessing {
		t.Fatalf("expected status %s, got %s", domain.HookStatusProcessing, created.Status)
	}

	got, err := ledger.Get(ctx, "evt-1:notify")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.TTLAt.Equal(ttl) {
		t.Fatalf("expected ttl %s, got %s", ttl, got.TTLAt)
	}
	if got.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", got.Attempts)
	}
}

func TestHookLedger_DuplicateAndRetryAfterFailure(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewHookLedger()
	ttl := time.Now().UTC().Add(time.Hour)

	if _, err := ledger.Begin(ctx, "evt-2:kitchen", ttl); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := ledger.Begin(ctx, "evt-2:kitchen", ttl); !errors.Is(err, domain.ErrHookAlreadyRecorded) {
		t.Fatalf("expected ErrHookAlreadyRecorded, got %v", err)
	}

	if err := ledger.MarkFailed(ctx, "evt-2:kitchen", "kitchen offline"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	retried, err := ledger.Begin(ctx, "evt-2:kitchen", ttl)
	if err != nil {
		t.Fatalf("Begin after failure failed: %v", err)
	}
	if retried.Attempts != 2 || retried.Message != "" {
		t.Fatalf("unexpected retried record: %+v", retried)
	}

	if err := ledger.MarkDone(ctx, "evt-2:kitchen"); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}
	if _, err := ledger.Begin(ctx, "evt-2:kitchen", ttl); !errors.Is(err, domain.ErrHookAlreadyRecorded) {
		t.Fatalf("expected ErrHookAlreadyRecorded after done, got %v", err)
	}
}

func TestHookLedger_Validation(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewHookLedger()

	if _, err := ledger.Begin(ctx, " ", time.Time{}); !errors.Is(err, domain.ErrHookKeyRequired) {
		t.Fatalf("expected ErrHookKeyRequired, got %v", err)
	}
	if err := ledger.MarkDone(ctx, "missing"); !errors.Is(err, domain.ErrHookRecordNotFound) {
		t.Fatalf("expected ErrHookRecordNotFound, got %v", err)
	}
}

func TestHookLedger_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewHookLedger()

	if _, err := ledger.Begin(ctx, "expired", time.Now().UTC().Add(-time.Minute)); err != nil {
		t.Fatalf("Begin expired failed: %v", err)
	}
	if _, err := ledger.Begin(ctx, "active", time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("Begin active failed: %v", err)
	}

	removed, err := ledger.DeleteExpired(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed record, got %d", removed)
	}
	if _, err := ledger.Get(ctx, "expired"); !errors.Is(err, domain.ErrHookRecordNotFound) {
		t.Fatalf("expected expired record to be removed, got %v", err)
	}
	if _, err := ledger.Get(ctx, "active"); err != nil {
		t.Fatalf("expected active record to stay, got %v", err)
	}
}
