// ABOUTME: Per-user authorization state machine
// ABOUTME: Credential entry, attempt counting, auto-block, admin approval

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mechdocs/docgate/pkg/block"
	"github.com/mechdocs/docgate/pkg/session"
	"github.com/mechdocs/docgate/pkg/store"
)

// Outcome classifies the result of an authorization step. The
// dispatcher maps outcomes to user-facing replies.
type Outcome int

const (
	// OutcomeAuthorized means the session is now authorized.
	OutcomeAuthorized Outcome = iota
	// OutcomePromptCredential asks the user for a credential.
	OutcomePromptCredential
	// OutcomeRevoked means a previously valid credential was revoked;
	// the binding has been removed and the user must re-authenticate.
	OutcomeRevoked
	// OutcomeMalformed rejects a command-prefixed candidate credential.
	OutcomeMalformed
	// OutcomeDuplicate means the credential is bound to another user.
	OutcomeDuplicate
	// OutcomePendingApproval means the request went to the admins.
	OutcomePendingApproval
	// OutcomeBlocked means the attempt limit was just reached and the
	// user is now suspended.
	OutcomeBlocked
	// OutcomeSuspended means the user is currently suspended; the
	// dispatcher drops the event silently.
	OutcomeSuspended
	// OutcomeStorageError means the storage collaborator failed; the
	// operation is retryable on the next event.
	OutcomeStorageError
)

// ApprovalRequest is the admin-facing access request, keyed by the
// pair (UserID, Number).
type ApprovalRequest struct {
	UserID      int64
	DisplayName string
	Number      string
}

// Notifier is the outbound side of the transport collaborator as the
// machine sees it.
type Notifier interface {
	SendText(userID int64, text string) error
	SendApproval(adminID int64, req ApprovalRequest) error
}

// Store is the storage collaborator surface the machine needs.
// *store.Store satisfies it.
type Store interface {
	BindCredential(ctx context.Context, userID int64, number, fullName string) error
	IsAuthorized(ctx context.Context, userID int64) (bool, error)
	StillAuthorized(ctx context.Context, userID int64, authorized []string) (bool, error)
	RemoveBinding(ctx context.Context, userID int64) error
}

// Config holds the machine's tunables.
type Config struct {
	MaxAttempts   int           // rejected credentials before auto-block
	BlockDuration time.Duration // suspension length for auth and admin violations
	AdminIDs      []int64
}

// Machine drives the per-user authorization flow. Callers must hold
// the user's session lock across Start/SubmitCredential/Reset.
type Machine struct {
	cfg      Config
	store    Store
	blocks   *block.Registry
	creds    *CredentialSet
	notifier Notifier
	sessions *session.Manager
	log      zerolog.Logger

	admins map[int64]struct{}

	mu       sync.Mutex
	attempts map[int64]int
}

// NewMachine wires the authorization machine.
func NewMachine(cfg Config, st Store, blocks *block.Registry, creds *CredentialSet, notifier Notifier, sessions *session.Manager, log zerolog.Logger) *Machine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	admins := make(map[int64]struct{}, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		admins[id] = struct{}{}
	}
	return &Machine{
		cfg:      cfg,
		store:    st,
		blocks:   blocks,
		creds:    creds,
		notifier: notifier,
		sessions: sessions,
		log:      log,
		admins:   admins,
		attempts: make(map[int64]int),
	}
}

// IsAdmin reports whether userID belongs to the admin role set.
func (m *Machine) IsAdmin(userID int64) bool {
	_, ok := m.admins[userID]
	return ok
}

// Start is the /start entry point. A stored credential that is still in
// the authorized set authorizes immediately; a revoked one is removed
// and the user re-prompted; otherwise the credential prompt is shown.
func (m *Machine) Start(ctx context.Context, sess *session.Session, userID int64) (Outcome, error) {
	bound, err := m.store.IsAuthorized(ctx, userID)
	if err != nil {
		return OutcomeStorageError, fmt.Errorf("checking authorization: %w", err)
	}

	if bound {
		still, err := m.store.StillAuthorized(ctx, userID, m.creds.List())
		if err != nil {
			return OutcomeStorageError, fmt.Errorf("revalidating credential: %w", err)
		}
		if still {
			sess.State = session.StateBrowsing
			sess.Path = nil
			sess.SearchResults = nil
			return OutcomeAuthorized, nil
		}

		if err := m.store.RemoveBinding(ctx, userID); err != nil {
			return OutcomeStorageError, fmt.Errorf("removing revoked binding: %w", err)
		}
		m.log.Warn().Int64("user_id", userID).Msg("stored credential revoked, binding removed")
		sess.Reset()
		sess.State = session.StateAwaitingCredential
		return OutcomeRevoked, nil
	}

	sess.Reset()
	sess.State = session.StateAwaitingCredential
	return OutcomePromptCredential, nil
}

// SubmitCredential handles a candidate credential sent while the
// session awaits one.
func (m *Machine) SubmitCredential(ctx context.Context, sess *session.Session, userID int64, displayName, text string) (Outcome, error) {
	if strings.HasPrefix(text, "/") {
		return OutcomeMalformed, nil
	}
	number := strings.TrimSpace(text)

	blocked, err := m.blocks.IsBlocked(ctx, userID, time.Now())
	if err != nil {
		return OutcomeStorageError, fmt.Errorf("checking suspension: %w", err)
	}
	if blocked {
		return OutcomeSuspended, nil
	}

	if m.creds.Contains(number) {
		err := m.store.BindCredential(ctx, userID, number, displayName)
		if errors.Is(err, store.ErrDuplicateCredential) {
			m.logAttempt(userID, displayName, "rejected: duplicate credential")
			return OutcomeDuplicate, nil
		}
		if err != nil {
			return OutcomeStorageError, fmt.Errorf("binding credential: %w", err)
		}

		m.resetAttempts(userID)
		m.logAttempt(userID, displayName, "accepted")
		sess.State = session.StateBrowsing
		sess.Path = nil
		sess.SearchResults = nil
		sess.PendingNumber = ""
		return OutcomeAuthorized, nil
	}

	count := m.bumpAttempts(userID)
	m.logAttempt(userID, displayName, fmt.Sprintf("denied (attempt %d)", count))

	if count >= m.cfg.MaxAttempts {
		until := time.Now().Add(m.cfg.BlockDuration)
		if err := m.blocks.Block(ctx, userID, until); err != nil {
			return OutcomeStorageError, fmt.Errorf("blocking user: %w", err)
		}
		m.resetAttempts(userID)
		m.log.Warn().
			Int64("user_id", userID).
			Str("display_name", displayName).
			Int("attempts", count).
			Time("unblock_at", until).
			Msg("auth attempt limit reached, user blocked")

		m.notifyAdminsText(fmt.Sprintf(
			"🚫 Блокировка по логину\nИмя: %s\nID: %d\nПопытки: %d\nБлокировка на %d минут(ы)",
			displayName, userID, count, int(m.cfg.BlockDuration.Minutes())))

		sess.State = session.StateAwaitingCredential
		return OutcomeBlocked, nil
	}

	req := ApprovalRequest{UserID: userID, DisplayName: displayName, Number: number}
	for _, adminID := range m.cfg.AdminIDs {
		if err := m.notifier.SendApproval(adminID, req); err != nil {
			m.log.Error().Err(err).Int64("admin_id", adminID).Msg("access request delivery failed")
		}
	}
	m.log.Info().
		Int64("user_id", userID).
		Str("display_name", displayName).
		Msg("access request sent to admins")

	sess.State = session.StateAwaitingApproval
	sess.PendingNumber = number
	return OutcomePendingApproval, nil
}

// Approve grants the access request keyed by (userID, number): the
// credential joins the authorized set and the user is told to retry.
// The session returns to the credential prompt so the next attempt (or
// /start) resolves to authorized.
func (m *Machine) Approve(ctx context.Context, userID int64, number string) error {
	m.creds.Add(number)

	sess, release := m.sessions.Acquire(userID)
	sess.State = session.StateAwaitingCredential
	sess.PendingNumber = ""
	release()

	m.log.Info().Int64("user_id", userID).Msg("access request approved")
	if err := m.notifier.SendText(userID, "✅ Вам открыт доступ. Введите /start для входа."); err != nil {
		m.log.Error().Err(err).Int64("user_id", userID).Msg("approval notice delivery failed")
	}
	return nil
}

// Deny rejects the access request for userID.
func (m *Machine) Deny(ctx context.Context, userID int64) error {
	sess, release := m.sessions.Acquire(userID)
	sess.State = session.StateAwaitingCredential
	sess.PendingNumber = ""
	release()

	m.log.Info().Int64("user_id", userID).Msg("access request denied")
	if err := m.notifier.SendText(userID, "❌ Ваш запрос на доступ был отклонён администратором."); err != nil {
		m.log.Error().Err(err).Int64("user_id", userID).Msg("denial notice delivery failed")
	}
	return nil
}

// Reset clears the stored credential binding and forces the credential
// prompt regardless of current state.
func (m *Machine) Reset(ctx context.Context, sess *session.Session, userID int64) error {
	if err := m.store.RemoveBinding(ctx, userID); err != nil {
		return fmt.Errorf("removing binding: %w", err)
	}
	sess.Reset()
	sess.State = session.StateAwaitingCredential
	return nil
}

// HandleViolation reacts to a non-admin invoking an admin command:
// the violation is logged, the user suspended for the block duration,
// admins are notified, and the block removal is scheduled as a
// cancellable deferred action.
func (m *Machine) HandleViolation(ctx context.Context, userID int64, displayName, command string) error {
	m.log.Warn().
		Int64("user_id", userID).
		Str("display_name", displayName).
		Str("command", command).
		Msg("admin command violation")

	until := time.Now().Add(m.cfg.BlockDuration)
	if err := m.blocks.Block(ctx, userID, until); err != nil {
		return fmt.Errorf("blocking violator: %w", err)
	}
	m.blocks.ScheduleUnblock(userID, m.cfg.BlockDuration)

	m.notifyAdminsText(fmt.Sprintf(
		"🚫 Блокировка: пользователь %s (%d) попытался использовать %s и был временно заблокирован.",
		displayName, userID, command))
	return nil
}

// notifyAdminsText fans a plain message out to every admin. A failed
// delivery to one admin never blocks the others.
func (m *Machine) notifyAdminsText(text string) {
	for _, adminID := range m.cfg.AdminIDs {
		if err := m.notifier.SendText(adminID, text); err != nil {
			m.log.Error().Err(err).Int64("admin_id", adminID).Msg("admin notification failed")
		}
	}
}

func (m *Machine) logAttempt(userID int64, displayName, status string) {
	m.log.Info().
		Int64("user_id", userID).
		Str("display_name", displayName).
		Str("status", status).
		Msg("login attempt")
}

func (m *Machine) bumpAttempts(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[userID]++
	return m.attempts[userID]
}

func (m *Machine) resetAttempts(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, userID)
}

// AttemptCount returns the current rejected-credential count for
// userID; zero when absent.
func (m *Machine) AttemptCount(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[userID]
}
