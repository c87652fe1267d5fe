// Package feed polls the platform's market endpoints on a fixed tick for one
// designated account and publishes the latest normalized snapshot set for
// external consumers.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/latiaodream/zuizhonghg-sub000/internal/hg"
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/config"
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/models"
	"github.com/latiaodream/zuizhonghg-sub000/internal/session"
)

// MarketCache is the supplemental-fetch cache boundary; redis in production,
// an in-memory fake in tests.
type MarketCache interface {
	GetMore(ctx context.Context, matchID, showtype string) (*hg.MoreMarkets, bool, error)
	StoreMore(ctx context.Context, matchID, showtype string, more *hg.MoreMarkets, ttl time.Duration) error
}

type Loop struct {
	cfg      config.Feed
	registry *session.Registry
	cache    MarketCache

	latest latestSnapshot
}

func NewLoop(cfg config.Feed, registry *session.Registry, cache MarketCache) *Loop {
	return &Loop{cfg: cfg, registry: registry, cache: cache}
}

// Latest returns the most recently published snapshot set. Readers never see
// a partially merged snapshot; publication swaps the whole slice at once.
func (l *Loop) Latest() []models.MarketSnapshot {
	return l.latest.get()
}

// PublishedAt returns when the current snapshot set was published; zero until
// the first successful tick.
func (l *Loop) PublishedAt() time.Time {
	return l.latest.publishedAt()
}

// Run ticks until the context is cancelled. A failed tick is logged and the
// previous snapshot stays published.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("feed loop started", "account_id", l.cfg.AccountID, "interval", l.cfg.Interval)
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := l.runOnce(ctx); err != nil {
			slog.Warn("feed tick failed", "account_id", l.cfg.AccountID, "error", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("feed loop stopped", "account_id", l.cfg.AccountID)
			return nil
		case <-ticker.C:
		}
	}
}

func (l *Loop) runOnce(ctx context.Context) error {
	sess, ok := l.registry.Get(l.cfg.AccountID)
	if !ok {
		return fmt.Errorf("no session for feed account %s", l.cfg.AccountID)
	}
	sess.Heartbeat()

	start := time.Now()
	var snaps []models.MarketSnapshot
	for _, showtype := range []string{"live", "today"} {
		part, err := sess.Client.GetGameList(ctx, showtype)
		if err != nil {
			return fmt.Errorf("game list %s: %w", showtype, err)
		}
		snaps = append(snaps, l.enrich(ctx, sess.Client, part, showtype)...)
	}

	l.latest.set(snaps)
	slog.Debug("feed tick published", "events", len(snaps), "duration", time.Since(start))
	return nil
}

// enrich runs supplemental fetches for a bounded subset of events, favoring
// those whose advertised line count exceeds what the base snapshot parsed.
func (l *Loop) enrich(ctx context.Context, client *hg.Client, snaps []models.MarketSnapshot, showtype string) []models.MarketSnapshot {
	budget := l.cfg.MoreLimit
	for i := range snaps {
		if budget <= 0 {
			break
		}
		snap := &snaps[i]
		if !needsMore(snap) {
			continue
		}
		budget--

		more, err := l.moreFor(ctx, client, snap.MatchID, showtype)
		if err != nil {
			slog.Warn("supplemental fetch failed", "gid", snap.MatchID, "error", err)
			continue
		}
		hg.MergeMore(snap, more)
	}
	return snaps
}

// needsMore reports whether the platform advertises more lines than the base
// snapshot carries.
func needsMore(snap *models.MarketSnapshot) bool {
	if snap.MoreCount <= 0 {
		return false
	}
	parsed := len(snap.Full.Handicaps) + len(snap.Full.OverUnders) +
		len(snap.Half.Handicaps) + len(snap.Half.OverUnders)
	return snap.MoreCount > parsed
}

func (l *Loop) moreFor(ctx context.Context, client *hg.Client, matchID, showtype string) (*hg.MoreMarkets, error) {
	if l.cache != nil {
		cached, hit, err := l.cache.GetMore(ctx, matchID, showtype)
		if err != nil {
			slog.Warn("market cache read failed", "gid", matchID, "error", err)
		} else if hit {
			return cached, nil
		}
	}

	more, err := client.GetGameMore(ctx, matchID, showtype)
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		ttl := l.cfg.EarlyCacheTTL
		if showtype == "live" {
			ttl = l.cfg.LiveCacheTTL
		}
		if err := l.cache.StoreMore(ctx, matchID, showtype, more, ttl); err != nil {
			slog.Warn("market cache write failed", "gid", matchID, "error", err)
		}
	}
	return more, nil
}
