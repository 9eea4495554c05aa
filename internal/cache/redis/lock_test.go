package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"polycopy/internal/domain"
)

func TestLocalLocksMutualExclusion(t *testing.T) {
	locks := NewLocalLocks()
	ctx := context.Background()

	unlock, err := locks.Acquire(ctx, "trader-1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := locks.Acquire(ctx, "trader-1", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Errorf("second acquire: err = %v, want ErrLockHeld", err)
	}

	// A different key is independent.
	other, err := locks.Acquire(ctx, "trader-2", time.Minute)
	if err != nil {
		t.Fatalf("Acquire other key: %v", err)
	}
	other()

	unlock()
	unlock() // idempotent

	if _, err := locks.Acquire(ctx, "trader-1", time.Minute); err != nil {
		t.Errorf("reacquire after unlock: %v", err)
	}
}
