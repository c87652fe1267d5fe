package feed

import (
	"sync"
	"time"

	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/models"
)

// latestSnapshot holds the published snapshot set behind a read lock so a
// half-merged tick is never observable.
type latestSnapshot struct {
	mu    sync.RWMutex
	snaps []models.MarketSnapshot
	at    time.Time
}

func (l *latestSnapshot) set(snaps []models.MarketSnapshot) {
	l.mu.Lock()
	l.snaps = snaps
	l.at = time.Now()
	l.mu.Unlock()
}

func (l *latestSnapshot) publishedAt() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.at
}

func (l *latestSnapshot) get() []models.MarketSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.MarketSnapshot, len(l.snaps))
	copy(out, l.snaps)
	return out
}
