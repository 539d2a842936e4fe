// ABOUTME: Tests for the expiry scheduler sweeps

package sched

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mechdocs/docgate/pkg/block"
	"github.com/mechdocs/docgate/pkg/session"
	"github.com/mechdocs/docgate/pkg/store"
)

func setupScheduler(t *testing.T, cfg Config) (*Scheduler, *block.Registry, *session.Manager, *store.Store) {
	t.Helper()
	path := "/tmp/test_docgate_sched_" + t.Name() + ".db"
	os.Remove(path)

	st, err := store.Open(path, 1)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
		os.Remove(path)
	})

	blocks := block.NewRegistry(st)
	t.Cleanup(blocks.Close)
	sessions := session.NewManager()
	return NewScheduler(cfg, blocks, sessions, zerolog.Nop()), blocks, sessions, st
}

func TestSweepBlocksRemovesExpired(t *testing.T) {
	s, blocks, _, _ := setupScheduler(t, Config{})
	ctx := context.Background()
	now := time.Now()

	if err := blocks.Block(ctx, 100, now.Add(-time.Minute)); err != nil {
		t.Fatalf("Block failed: %v", err)
	}
	if err := blocks.Block(ctx, 200, now.Add(time.Hour)); err != nil {
		t.Fatalf("Block failed: %v", err)
	}

	s.SweepBlocks(ctx, now)

	if blocked, _ := blocks.IsBlocked(ctx, 100, now); blocked {
		t.Errorf("Expected expired block removed")
	}
	if blocked, _ := blocks.IsBlocked(ctx, 200, now); !blocked {
		t.Errorf("Active block must survive the sweep")
	}
}

func TestSweepInactiveLogsOutAuthorized(t *testing.T) {
	s, _, sessions, st := setupScheduler(t, Config{InactivityTimeout: 10 * time.Minute})
	ctx := context.Background()
	now := time.Now()

	if err := st.BindCredential(ctx, 100, "123", "U"); err != nil {
		t.Fatalf("BindCredential failed: %v", err)
	}

	sess, release := sessions.Acquire(100)
	sess.State = session.StateBrowsing
	sess.Path = []string{"Двигатели"}
	sess.LastActiveAt = now.Add(-11 * time.Minute)
	release()

	fresh, release := sessions.Acquire(200)
	fresh.State = session.StateBrowsing
	fresh.LastActiveAt = now.Add(-time.Minute)
	release()

	s.SweepInactive(ctx, now)

	sess, release = sessions.Acquire(100)
	if sess.State != session.StateIdle || sess.Path != nil {
		t.Errorf("Expected idle session reset, state=%v path=%v", sess.State, sess.Path)
	}
	release()

	fresh, release = sessions.Acquire(200)
	if fresh.State != session.StateBrowsing {
		t.Errorf("Recently active session must be untouched")
	}
	release()

	// The persisted binding survives the in-memory logout.
	if ok, _ := st.IsAuthorized(ctx, 100); !ok {
		t.Errorf("Inactivity logout must not delete the credential binding")
	}
}

func TestSweepInactiveKeepsUnauthorized(t *testing.T) {
	s, _, sessions, _ := setupScheduler(t, Config{InactivityTimeout: 10 * time.Minute})
	now := time.Now()

	sess, release := sessions.Acquire(100)
	sess.State = session.StateAwaitingApproval
	sess.PendingNumber = "777"
	sess.LastActiveAt = now.Add(-time.Hour)
	release()

	s.SweepInactive(context.Background(), now)

	sess, release = sessions.Acquire(100)
	defer release()
	if sess.State != session.StateAwaitingApproval {
		t.Errorf("Pending approval must outlive the inactivity sweep by default, got %v", sess.State)
	}
}

func TestApprovalTimeoutExpiresPending(t *testing.T) {
	s, _, sessions, _ := setupScheduler(t, Config{
		InactivityTimeout: 10 * time.Minute,
		ApprovalTimeout:   30 * time.Minute,
	})
	now := time.Now()

	sess, release := sessions.Acquire(100)
	sess.State = session.StateAwaitingApproval
	sess.PendingNumber = "777"
	sess.LastActiveAt = now.Add(-time.Hour)
	release()

	s.SweepInactive(context.Background(), now)

	sess, release = sessions.Acquire(100)
	defer release()
	if sess.State != session.StateIdle || sess.PendingNumber != "" {
		t.Errorf("Expected stale request expired, state=%v", sess.State)
	}
}

type failingBlockStore struct{}

func (failingBlockStore) AddBlock(context.Context, int64, time.Time) error { return errFail }

func (failingBlockStore) RemoveBlock(context.Context, int64) error { return errFail }

func (failingBlockStore) IsBlocked(context.Context, int64, time.Time) (bool, error) {
	return false, errFail
}

func (failingBlockStore) RemoveExpiredBlocks(context.Context, time.Time) (int, error) {
	return 0, errFail
}

var errFail = errors.New("storage down")

func TestSweepsSurviveStorageFailure(t *testing.T) {
	blocks := block.NewRegistry(failingBlockStore{})
	t.Cleanup(blocks.Close)
	sessions := session.NewManager()
	s := NewScheduler(Config{InactivityTimeout: time.Minute}, blocks, sessions, zerolog.Nop())
	ctx := context.Background()
	now := time.Now()

	sess, release := sessions.Acquire(100)
	sess.State = session.StateBrowsing
	sess.LastActiveAt = now.Add(-time.Hour)
	release()

	// Neither sweep may panic or stop on a failing store.
	s.SweepBlocks(ctx, now)
	s.SweepInactive(ctx, now)

	sess, release = sessions.Acquire(100)
	defer release()
	if sess.State != session.StateIdle {
		t.Errorf("Session reset must proceed despite store failure, got %v", sess.State)
	}
}
