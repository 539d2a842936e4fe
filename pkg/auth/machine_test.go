// ABOUTME: Tests for the authorization state machine
// ABOUTME: Exercises attempt counting, auto-block, approval flow, revocation

package auth

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mechdocs/docgate/pkg/block"
	"github.com/mechdocs/docgate/pkg/session"
	"github.com/mechdocs/docgate/pkg/store"
)

type fakeNotifier struct {
	mu        sync.Mutex
	texts     map[int64][]string
	approvals []ApprovalRequest
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{texts: make(map[int64][]string)}
}

func (f *fakeNotifier) SendText(userID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts[userID] = append(f.texts[userID], text)
	return nil
}

func (f *fakeNotifier) SendApproval(adminID int64, req ApprovalRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals = append(f.approvals, req)
	return nil
}

func (f *fakeNotifier) approvalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.approvals)
}

type fixture struct {
	machine  *Machine
	store    *store.Store
	blocks   *block.Registry
	creds    *CredentialSet
	notifier *fakeNotifier
	sessions *session.Manager
}

func setupMachine(t *testing.T, cfg Config) *fixture {
	t.Helper()
	path := "/tmp/test_docgate_auth_" + t.Name() + ".db"
	os.Remove(path)

	st, err := store.Open(path, 1)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
		os.Remove(path)
	})

	if cfg.BlockDuration == 0 {
		cfg.BlockDuration = 5 * time.Minute
	}
	blocks := block.NewRegistry(st)
	t.Cleanup(blocks.Close)
	creds := NewCredentialSet([]string{"123", "456"})
	notifier := newFakeNotifier()
	sessions := session.NewManager()

	m := NewMachine(cfg, st, blocks, creds, notifier, sessions, zerolog.Nop())
	return &fixture{machine: m, store: st, blocks: blocks, creds: creds, notifier: notifier, sessions: sessions}
}

func TestValidCredentialAuthorizes(t *testing.T) {
	f := setupMachine(t, Config{AdminIDs: []int64{900}})
	ctx := context.Background()
	sess := &session.Session{State: session.StateAwaitingCredential, Path: []string{"stale"}}

	out, err := f.machine.SubmitCredential(ctx, sess, 100, "U", "123")
	if err != nil || out != OutcomeAuthorized {
		t.Fatalf("Expected OutcomeAuthorized, got %v err=%v", out, err)
	}
	if sess.State != session.StateBrowsing || len(sess.Path) != 0 {
		t.Fatalf("Expected browsing at root, state=%v path=%v", sess.State, sess.Path)
	}
	if ok, _ := f.store.IsAuthorized(ctx, 100); !ok {
		t.Errorf("Expected binding persisted")
	}
}

func TestCommandAsCredentialIsMalformed(t *testing.T) {
	f := setupMachine(t, Config{})
	sess := &session.Session{State: session.StateAwaitingCredential}

	out, err := f.machine.SubmitCredential(context.Background(), sess, 100, "U", "/start")
	if err != nil || out != OutcomeMalformed {
		t.Fatalf("Expected OutcomeMalformed, got %v err=%v", out, err)
	}
	if sess.State != session.StateAwaitingCredential {
		t.Errorf("Malformed input must not change state")
	}
}

func TestAttemptCounterResetsOnSuccess(t *testing.T) {
	f := setupMachine(t, Config{MaxAttempts: 3})
	ctx := context.Background()
	sess := &session.Session{State: session.StateAwaitingCredential}

	for i := 0; i < 2; i++ {
		sess.State = session.StateAwaitingCredential
		out, err := f.machine.SubmitCredential(ctx, sess, 100, "U", "999")
		if err != nil || out != OutcomePendingApproval {
			t.Fatalf("Attempt %d: expected OutcomePendingApproval, got %v err=%v", i+1, out, err)
		}
	}
	if got := f.machine.AttemptCount(100); got != 2 {
		t.Fatalf("Expected 2 attempts recorded, got %d", got)
	}

	sess.State = session.StateAwaitingCredential
	out, err := f.machine.SubmitCredential(ctx, sess, 100, "U", "123")
	if err != nil || out != OutcomeAuthorized {
		t.Fatalf("Expected OutcomeAuthorized, got %v err=%v", out, err)
	}
	if got := f.machine.AttemptCount(100); got != 0 {
		t.Fatalf("Expected counter reset to absent, got %d", got)
	}
}

func TestAutoBlockAtLimit(t *testing.T) {
	f := setupMachine(t, Config{MaxAttempts: 3, AdminIDs: []int64{900}})
	ctx := context.Background()
	sess := &session.Session{State: session.StateAwaitingCredential}

	var out Outcome
	var err error
	for i := 0; i < 3; i++ {
		sess.State = session.StateAwaitingCredential
		out, err = f.machine.SubmitCredential(ctx, sess, 100, "U", "999")
		if err != nil {
			t.Fatalf("Attempt %d failed: %v", i+1, err)
		}
	}
	if out != OutcomeBlocked {
		t.Fatalf("Expected OutcomeBlocked on third attempt, got %v", out)
	}

	blocked, err := f.blocks.IsBlocked(ctx, 100, time.Now())
	if err != nil || !blocked {
		t.Fatalf("Expected block record, blocked=%v err=%v", blocked, err)
	}

	approvalsBefore := f.notifier.approvalCount()

	// Within the block window: silent, no prompt, no new admin request.
	out, err = f.machine.SubmitCredential(ctx, sess, 100, "U", "999")
	if err != nil || out != OutcomeSuspended {
		t.Fatalf("Expected OutcomeSuspended, got %v err=%v", out, err)
	}
	if f.notifier.approvalCount() != approvalsBefore {
		t.Errorf("Suspended user must not generate admin notifications")
	}
}

func TestDuplicateCredentialLeavesBindingUntouched(t *testing.T) {
	f := setupMachine(t, Config{})
	ctx := context.Background()

	sessA := &session.Session{State: session.StateAwaitingCredential}
	if out, err := f.machine.SubmitCredential(ctx, sessA, 100, "A", "123"); err != nil || out != OutcomeAuthorized {
		t.Fatalf("A's binding failed: %v err=%v", out, err)
	}

	sessB := &session.Session{State: session.StateAwaitingCredential}
	out, err := f.machine.SubmitCredential(ctx, sessB, 200, "B", "123")
	if err != nil || out != OutcomeDuplicate {
		t.Fatalf("Expected OutcomeDuplicate for B, got %v err=%v", out, err)
	}
	if sessB.State != session.StateAwaitingCredential {
		t.Errorf("B must remain at the credential prompt")
	}

	still, err := f.store.StillAuthorized(ctx, 100, []string{"123"})
	if err != nil || !still {
		t.Fatalf("A's binding must be untouched, still=%v err=%v", still, err)
	}
}

func TestStartWithValidStoredCredential(t *testing.T) {
	f := setupMachine(t, Config{})
	ctx := context.Background()

	sess := &session.Session{State: session.StateAwaitingCredential}
	if out, _ := f.machine.SubmitCredential(ctx, sess, 100, "U", "123"); out != OutcomeAuthorized {
		t.Fatalf("Setup binding failed: %v", out)
	}

	again := &session.Session{}
	out, err := f.machine.Start(ctx, again, 100)
	if err != nil || out != OutcomeAuthorized {
		t.Fatalf("Expected immediate authorization on repeat visit, got %v err=%v", out, err)
	}
	if again.State != session.StateBrowsing {
		t.Errorf("Expected browsing state, got %v", again.State)
	}
}

func TestStartDetectsRevocation(t *testing.T) {
	f := setupMachine(t, Config{})
	ctx := context.Background()

	sess := &session.Session{State: session.StateAwaitingCredential}
	if out, _ := f.machine.SubmitCredential(ctx, sess, 100, "U", "456"); out != OutcomeAuthorized {
		t.Fatalf("Setup binding failed: %v", out)
	}

	// Revoke by replacing the credential set contents.
	f.creds.mu.Lock()
	delete(f.creds.numbers, "456")
	f.creds.mu.Unlock()

	again := &session.Session{State: session.StateBrowsing, Path: []string{"Двигатели"}}
	out, err := f.machine.Start(ctx, again, 100)
	if err != nil || out != OutcomeRevoked {
		t.Fatalf("Expected OutcomeRevoked, got %v err=%v", out, err)
	}
	if again.State != session.StateAwaitingCredential || again.Path != nil {
		t.Fatalf("Expected reset to credential prompt, state=%v path=%v", again.State, again.Path)
	}
	if ok, _ := f.store.IsAuthorized(ctx, 100); ok {
		t.Errorf("Expected revoked binding removed")
	}
}

func TestApproveFlow(t *testing.T) {
	f := setupMachine(t, Config{MaxAttempts: 3, AdminIDs: []int64{900}})
	ctx := context.Background()

	sess, release := f.sessions.Acquire(100)
	sess.State = session.StateAwaitingCredential
	out, err := f.machine.SubmitCredential(ctx, sess, 100, "U", "777")
	release()
	if err != nil || out != OutcomePendingApproval {
		t.Fatalf("Expected OutcomePendingApproval, got %v err=%v", out, err)
	}
	if f.notifier.approvalCount() != 1 {
		t.Fatalf("Expected one approval request, got %d", f.notifier.approvalCount())
	}
	req := f.notifier.approvals[0]
	if req.UserID != 100 || req.Number != "777" {
		t.Fatalf("Approval request keyed wrong: %+v", req)
	}

	if err := f.machine.Approve(ctx, req.UserID, req.Number); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if !f.creds.Contains("777") {
		t.Errorf("Approved credential must join the authorized set")
	}

	sess, release = f.sessions.Acquire(100)
	defer release()
	if sess.State != session.StateAwaitingCredential {
		t.Errorf("Expected session back at credential prompt, got %v", sess.State)
	}

	// The retry now authorizes.
	out, err = f.machine.SubmitCredential(ctx, sess, 100, "U", "777")
	if err != nil || out != OutcomeAuthorized {
		t.Fatalf("Expected retry to authorize, got %v err=%v", out, err)
	}
}

func TestDenyKeepsUserUnauthorized(t *testing.T) {
	f := setupMachine(t, Config{AdminIDs: []int64{900}})
	ctx := context.Background()

	sess, release := f.sessions.Acquire(100)
	sess.State = session.StateAwaitingApproval
	sess.PendingNumber = "777"
	release()

	if err := f.machine.Deny(ctx, 100); err != nil {
		t.Fatalf("Deny failed: %v", err)
	}

	sess, release = f.sessions.Acquire(100)
	defer release()
	if sess.State != session.StateAwaitingCredential || sess.PendingNumber != "" {
		t.Fatalf("Expected credential prompt after denial, state=%v", sess.State)
	}
	if ok, _ := f.store.IsAuthorized(ctx, 100); ok {
		t.Errorf("Denied user must stay unbound")
	}
}

func TestResetClearsBinding(t *testing.T) {
	f := setupMachine(t, Config{})
	ctx := context.Background()

	sess := &session.Session{State: session.StateAwaitingCredential}
	if out, _ := f.machine.SubmitCredential(ctx, sess, 100, "U", "123"); out != OutcomeAuthorized {
		t.Fatalf("Setup binding failed: %v", out)
	}

	if err := f.machine.Reset(ctx, sess, 100); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if sess.State != session.StateAwaitingCredential {
		t.Errorf("Expected credential prompt after reset")
	}
	if ok, _ := f.store.IsAuthorized(ctx, 100); ok {
		t.Errorf("Expected binding removed on reset")
	}
}

func TestViolationBlocksAndUnblocks(t *testing.T) {
	f := setupMachine(t, Config{BlockDuration: 50 * time.Millisecond, AdminIDs: []int64{900, 901}})
	ctx := context.Background()

	if err := f.machine.HandleViolation(ctx, 100, "U", "/users"); err != nil {
		t.Fatalf("HandleViolation failed: %v", err)
	}

	blocked, err := f.blocks.IsBlocked(ctx, 100, time.Now())
	if err != nil || !blocked {
		t.Fatalf("Expected violator blocked, blocked=%v err=%v", blocked, err)
	}

	f.notifier.mu.Lock()
	notified := len(f.notifier.texts[900]) > 0 && len(f.notifier.texts[901]) > 0
	f.notifier.mu.Unlock()
	if !notified {
		t.Errorf("Expected every admin notified of the violation")
	}

	// The deferred unblock removes the record without any sweep.
	deadline := time.Now().Add(2 * time.Second)
	for {
		blocked, _ := f.blocks.IsBlocked(ctx, 100, time.Now())
		if !blocked {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Deferred unblock never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
