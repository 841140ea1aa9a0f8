package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

func TestHookLedger_PostgresLifecycle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ledger := NewHookLedger(store)
	ctx := context.Background()

	key := domain.HookKey("evt-1", "kitchen-dispatch")
	rec, err := ledger.Begin(ctx, key, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if rec.Status != domain.HookStatusProcessing || rec.Attempts != 1 {
		t.Fatalf("unexpected record after begin: %+v", rec)
	}

	if _, err := ledger.Begin(ctx, key, time.Now().Add(time.Hour)); !errors.Is(err, domain.ErrHookAlreadyRecorded) {
		t.Fatalf("expected ErrHookAlreadyRecorded for processing record, got %v", err)
	}

	if err := ledger.MarkFailed(ctx, key, "kitchen offline"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, err := ledger.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.HookStatusFailed || got.Message != "kitchen offline" {
		t.Fatalf("unexpected failed record: %+v", got)
	}

	retried, err := ledger.Begin(ctx, key, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("begin after failure: %v", err)
	}
	if retried.Attempts != 2 || retried.Status != domain.HookStatusProcessing {
		t.Fatalf("unexpected record after retry: %+v", retried)
	}

	if err := ledger.MarkDone(ctx, key); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	if _, err := ledger.Begin(ctx, key, time.Now().Add(time.Hour)); !errors.Is(err, domain.ErrHookAlreadyRecorded) {
		t.Fatalf("expected ErrHookAlreadyRecorded for done record, got %v", err)
	}
}

func TestHookLedger_PostgresValidationAndMissing(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ledger := NewHookLedger(store)
	ctx := context.Background()

	if _, err := ledger.Begin(ctx, "  ", time.Time{}); !errors.Is(err, domain.ErrHookKeyRequired) {
		t.Fatalf("expected ErrHookKeyRequired, got %v", err)
	}
	if err := ledger.MarkDone(ctx, "missing"); !errors.Is(err, domain.ErrHookRecordNotFound) {
		t.Fatalf("expected ErrHookRecordNotFound, got %v", err)
	}
	if _, err := ledger.Get(ctx, "missing"); !errors.Is(err, domain.ErrHookRecordNotFound) {
		t.Fatalf("expected ErrHookRecordNotFound on get, got %v", err)
	}
}

func TestHookLedger_PostgresDeleteExpired(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ledger := NewHookLedger(store)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, key := range []string{"expired-1", "expired-2"} {
		if _, err := ledger.Begin(ctx, key, now.Add(-time.Minute)); err != nil {
			t.Fatalf("begin %s: %v", key, err)
		}
	}
	if _, err := ledger.Begin(ctx, "alive", now.Add(time.Hour)); err != nil {
		t.Fatalf("begin alive: %v", err)
	}

	deleted, err := ledger.DeleteExpired(ctx, now, 1)
	if err != nil {
		t.Fatalf("delete expired with limit: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted with limit, got %d", deleted)
	}

	deleted, err = ledger.DeleteExpired(ctx, now, 0)
	if err != nil {
		t.Fatalf("delete expired without limit: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted without limit, got %d", deleted)
	}

	if _, err := ledger.Get(ctx, "alive"); err != nil {
		t.Fatalf("alive record must survive: %v", err)
	}
}
