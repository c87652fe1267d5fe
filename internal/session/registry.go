// Package session owns session lifetime for all accounts. The registry is
// the single shared mutable structure: every read or write of an account's
// session goes through it, and it serializes logins so at most one attempt is
// in flight per account.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/latiaodream/zuizhonghg-sub000/internal/hg"
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/models"
)

// Session is one established login. The embedded client owns the cookie jar
// and uid exclusively; concurrent operations for the account all funnel
// through it.
type Session struct {
	AccountID      string
	ExternalUserID string
	Client         *hg.Client
	EstablishedAt  time.Time

	mu            sync.Mutex
	lastHeartbeat time.Time
}

// Heartbeat records activity on the session.
func (s *Session) Heartbeat() {
	s.mu.Lock()
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()
}

// LastHeartbeat returns the most recent activity time, falling back to the
// establishment time.
func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastHeartbeat.IsZero() {
		return s.EstablishedAt
	}
	return s.lastHeartbeat
}

// SnapshotStore persists session snapshots durably so a restart can rehydrate
// still-valid sessions.
type SnapshotStore interface {
	SaveSessionSnapshot(ctx context.Context, snap models.SessionSnapshot) error
	LoadSessionSnapshots(ctx context.Context) ([]models.SessionSnapshot, error)
	DeleteSessionSnapshot(ctx context.Context, accountID string) error
}

// loginAttempt is one in-flight login; latecomers for the same account wait
// on done and share the result instead of starting a second attempt.
type loginAttempt struct {
	done chan struct{}
	sess *Session
	err  error
}

type Registry struct {
	ttl   time.Duration
	store SnapshotStore
	clock func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	logins   map[string]*loginAttempt
}

func NewRegistry(ttl time.Duration, store SnapshotStore) *Registry {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Registry{
		ttl:      ttl,
		store:    store,
		clock:    time.Now,
		sessions: make(map[string]*Session),
		logins:   make(map[string]*loginAttempt),
	}
}

// Get returns the account's current session, or false when none exists or the
// TTL has lapsed. An expired session is evicted on the spot.
func (r *Registry) Get(accountID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[accountID]
	if !ok {
		return nil, false
	}
	if r.clock().Sub(sess.EstablishedAt) >= r.ttl {
		delete(r.sessions, accountID)
		return nil, false
	}
	return sess, true
}

// IsOnline reports whether the account has a non-expired session.
func (r *Registry) IsOnline(accountID string) bool {
	_, ok := r.Get(accountID)
	return ok
}

// WithLoginLock runs login for an account, guaranteeing a single in-flight
// attempt: a second caller blocks until the first attempt resolves and then
// shares its result. The lock covers the entire state machine, including the
// passcode and credential-change sub-flows inside login.
func (r *Registry) WithLoginLock(ctx context.Context, accountID string, login func(ctx context.Context) (*Session, error)) (*Session, error) {
	r.mu.Lock()
	if attempt, ok := r.logins[accountID]; ok {
		r.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.sess, attempt.err
		case <-ctx.Done():
			return nil, fmt.Errorf("awaiting in-flight login for %s: %w", accountID, ctx.Err())
		}
	}
	attempt := &loginAttempt{done: make(chan struct{})}
	r.logins[accountID] = attempt
	r.mu.Unlock()

	sess, err := login(ctx)

	r.mu.Lock()
	attempt.sess = sess
	attempt.err = err
	delete(r.logins, accountID)
	if sess != nil && err == nil {
		r.sessions[accountID] = sess
	}
	r.mu.Unlock()
	close(attempt.done)

	return sess, err
}

// Establish records a session directly, replacing any previous one. Used for
// rehydration; logins go through WithLoginLock.
func (r *Registry) Establish(sess *Session) {
	r.mu.Lock()
	r.sessions[sess.AccountID] = sess
	r.mu.Unlock()
}

// Sessions returns the current non-expired sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock()
	var out []*Session
	for id, sess := range r.sessions {
		if now.Sub(sess.EstablishedAt) >= r.ttl {
			delete(r.sessions, id)
			continue
		}
		out = append(out, sess)
	}
	return out
}

// Invalidate drops the account's session and clears its durable snapshot.
func (r *Registry) Invalidate(ctx context.Context, accountID, reason string) {
	r.mu.Lock()
	_, had := r.sessions[accountID]
	delete(r.sessions, accountID)
	r.mu.Unlock()

	if had {
		slog.Info("session invalidated", "account_id", accountID, "reason", reason)
	}
	if r.store != nil {
		if err := r.store.DeleteSessionSnapshot(ctx, accountID); err != nil {
			slog.Warn("failed to clear session snapshot", "account_id", accountID, "error", err)
		}
	}
}

// Persist writes the session's durable snapshot.
func (r *Registry) Persist(ctx context.Context, sess *Session) error {
	if r.store == nil {
		return nil
	}
	snap := models.SessionSnapshot{
		AccountID:        sess.AccountID,
		ExternalUserID:   sess.ExternalUserID,
		LoginTimestampMs: sess.EstablishedAt.UnixMilli(),
		CookieHeader:     sess.Client.CookieHeader(),
	}
	if err := r.store.SaveSessionSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("save session snapshot for %s: %w", sess.AccountID, err)
	}
	return nil
}

// ClientFactory builds a fresh platform client for an account id during
// rehydration.
type ClientFactory func(accountID string) (*hg.Client, error)

// Rehydrate loads stored snapshots at startup: snapshots younger than the TTL
// become live sessions, older ones are cleared from the store.
func (r *Registry) Rehydrate(ctx context.Context, newClient ClientFactory) error {
	if r.store == nil {
		return nil
	}
	snaps, err := r.store.LoadSessionSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("load session snapshots: %w", err)
	}

	now := r.clock()
	for _, snap := range snaps {
		if snap.Expired(r.ttl, now) {
			slog.Info("clearing stale session snapshot", "account_id", snap.AccountID)
			if err := r.store.DeleteSessionSnapshot(ctx, snap.AccountID); err != nil {
				slog.Warn("failed to clear stale snapshot", "account_id", snap.AccountID, "error", err)
			}
			continue
		}
		client, err := newClient(snap.AccountID)
		if err != nil {
			slog.Warn("skip rehydration, cannot build client", "account_id", snap.AccountID, "error", err)
			continue
		}
		if err := client.Rehydrate(snap.ExternalUserID, snap.CookieHeader); err != nil {
			slog.Warn("skip rehydration, bad snapshot", "account_id", snap.AccountID, "error", err)
			continue
		}
		r.Establish(&Session{
			AccountID:      snap.AccountID,
			ExternalUserID: snap.ExternalUserID,
			Client:         client,
			EstablishedAt:  time.UnixMilli(snap.LoginTimestampMs),
		})
		slog.Info("session rehydrated", "account_id", snap.AccountID)
	}
	return nil
}
