// Package trader is the core facade: it wires the session registry, the auth
// state machine, the bet pipeline and the feed loop behind the small surface
// external collaborators call.
package trader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/latiaodream/zuizhonghg-sub000/internal/betting"
	"github.com/latiaodream/zuizhonghg-sub000/internal/browserflow"
	"github.com/latiaodream/zuizhonghg-sub000/internal/feed"
	"github.com/latiaodream/zuizhonghg-sub000/internal/hg"
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/config"
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/models"
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/notify"
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/platformerr"
	"github.com/latiaodream/zuizhonghg-sub000/internal/session"
)

// AccountStore is the slice of persistence the core mutates: credentials and
// passcode after a verified flow, balance after a refresh.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	UpdateCredentials(ctx context.Context, id, username, password string) error
	UpdatePasscode(ctx context.Context, id, passcode string) error
	UpdateBalance(ctx context.Context, id string, balance, credit float64) error
}

// BrowserDriver is the browser-automation capability used only when the pure
// HTTP login cannot resolve a state on its own.
type BrowserDriver interface {
	ResolvePasscode(ctx context.Context, uid string, shape hg.PasscodeShape, passcode string) (*browserflow.Outcome, error)
	ChangeCredentials(ctx context.Context, uid, newUsername, newPassword string) (*browserflow.Outcome, error)
}

type Core struct {
	cfg      *config.Config
	registry *session.Registry
	store    AccountStore
	browser  BrowserDriver
	notifier *notify.TelegramNotifier
	pipeline *betting.Pipeline
	feed     *feed.Loop

	// newClient builds the per-account platform client; a test hook.
	newClient func(account *models.Account) (*hg.Client, error)
	now       func() time.Time
}

func NewCore(cfg *config.Config, registry *session.Registry, store AccountStore, browser BrowserDriver, notifier *notify.TelegramNotifier) *Core {
	c := &Core{
		cfg:      cfg,
		registry: registry,
		store:    store,
		browser:  browser,
		notifier: notifier,
		pipeline: betting.NewPipeline(betting.Config{
			MarketClosedRetries: cfg.Betting.MarketClosedRetries,
			MarketClosedDelay:   cfg.Betting.MarketClosedDelay,
			LineTolerance:       cfg.Betting.LineTolerance,
		}),
		now: time.Now,
	}
	c.newClient = c.buildClient
	return c
}

// AttachFeed lets FetchSnapshot serve the designated account from the
// published feed instead of a direct round trip.
func (c *Core) AttachFeed(loop *feed.Loop) {
	c.feed = loop
}

func (c *Core) buildClient(account *models.Account) (*hg.Client, error) {
	return hg.NewClient(hg.ClientOptions{
		BaseURL:   c.cfg.Platform.BaseURL,
		Version:   c.cfg.Platform.Version,
		Lang:      c.cfg.Platform.Lang,
		UserAgent: account.UserAgent,
		Timeout:   c.cfg.Platform.Timeout,
		ProxyURL:  account.ProxyURL,
	})
}

// ClientFactory adapts buildClient for session rehydration at startup.
func (c *Core) ClientFactory() session.ClientFactory {
	return func(accountID string) (*hg.Client, error) {
		account, err := c.store.GetAccount(context.Background(), accountID)
		if err != nil {
			return nil, err
		}
		return c.newClient(account)
	}
}

// Login runs the full auth state machine for an account under the per-account
// login lock. Concurrent callers for the same account share one attempt.
func (c *Core) Login(ctx context.Context, accountID string) (*session.Session, error) {
	return c.registry.WithLoginLock(ctx, accountID, func(ctx context.Context) (*session.Session, error) {
		return c.authenticate(ctx, accountID)
	})
}

// EnsureSession returns the live session, logging in only when none exists.
func (c *Core) EnsureSession(ctx context.Context, accountID string) (*session.Session, error) {
	if sess, ok := c.registry.Get(accountID); ok {
		return sess, nil
	}
	return c.Login(ctx, accountID)
}

// SnapshotFilters narrows FetchSnapshot's result.
type SnapshotFilters struct {
	MatchID string
	League  string
}

// FetchSnapshot returns normalized market snapshots for the account. The
// designated feed account is served from the published feed; other accounts
// cost a direct round trip.
func (c *Core) FetchSnapshot(ctx context.Context, accountID string, filters SnapshotFilters) ([]models.MarketSnapshot, error) {
	var snaps []models.MarketSnapshot
	if c.feed != nil && accountID == c.cfg.Feed.AccountID {
		snaps = c.feed.Latest()
	} else {
		sess, err := c.EnsureSession(ctx, accountID)
		if err != nil {
			return nil, err
		}
		sess.Heartbeat()
		for _, showtype := range []string{"live", "today"} {
			part, err := sess.Client.GetGameList(ctx, showtype)
			if err != nil {
				return nil, err
			}
			snaps = append(snaps, part...)
		}
	}
	return filterSnapshots(snaps, filters), nil
}

func filterSnapshots(snaps []models.MarketSnapshot, filters SnapshotFilters) []models.MarketSnapshot {
	if filters.MatchID == "" && filters.League == "" {
		return snaps
	}
	var out []models.MarketSnapshot
	for _, s := range snaps {
		if filters.MatchID != "" && s.MatchID != filters.MatchID {
			continue
		}
		if filters.League != "" && !strings.EqualFold(s.League, filters.League) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// ResolveAndPlaceBet runs one bet pipeline invocation against the account's
// session. A session-invalid signal invalidates the session and propagates;
// re-login is a separate, explicit call.
func (c *Core) ResolveAndPlaceBet(ctx context.Context, accountID string, intent models.BetIntent) (*models.BetReceipt, error) {
	sess, err := c.EnsureSession(ctx, accountID)
	if err != nil {
		return nil, err
	}
	sess.Heartbeat()

	receipt, err := c.pipeline.Place(ctx, sess.Client, intent)
	if err != nil && platformerr.Is(err, platformerr.KindSessionInvalid) {
		c.registry.Invalidate(ctx, accountID, "session invalid during bet pipeline")
	}
	return receipt, err
}

// Logout tears down the account's session on both sides.
func (c *Core) Logout(ctx context.Context, accountID string) error {
	sess, ok := c.registry.Get(accountID)
	if !ok {
		return nil
	}
	err := sess.Client.Logout(ctx)
	c.registry.Invalidate(ctx, accountID, "explicit logout")
	return err
}

func (c *Core) IsOnline(accountID string) bool {
	return c.registry.IsOnline(accountID)
}

// RefreshBalance pulls the account's balance and persists it.
func (c *Core) RefreshBalance(ctx context.Context, accountID string) (float64, error) {
	sess, err := c.EnsureSession(ctx, accountID)
	if err != nil {
		return 0, err
	}
	balance, credit, err := sess.Client.Balance(ctx)
	if err != nil {
		return 0, err
	}
	if err := c.store.UpdateBalance(ctx, accountID, balance, credit); err != nil {
		return balance, fmt.Errorf("persist balance: %w", err)
	}
	return balance, nil
}
