package trader

import (
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/health"
)

// AccountStatuses reports the accounts with a live session.
func (c *Core) AccountStatuses() []health.AccountStatus {
	var out []health.AccountStatus
	for _, sess := range c.registry.Sessions() {
		out = append(out, health.AccountStatus{
			AccountID:     sess.AccountID,
			Online:        true,
			LastHeartbeat: sess.LastHeartbeat(),
		})
	}
	return out
}

// FeedStatus reports the published feed's size and age.
func (c *Core) FeedStatus() health.FeedStatus {
	if c.feed == nil {
		return health.FeedStatus{}
	}
	return health.FeedStatus{
		Events:      len(c.feed.Latest()),
		PublishedAt: c.feed.PublishedAt(),
	}
}
