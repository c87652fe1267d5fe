package models

import "time"

// SessionSnapshot is the durable form of an established session, written after
// a successful login so a restart can rehydrate still-valid sessions without
// logging in again.
type SessionSnapshot struct {
	AccountID        string
	ExternalUserID   string
	LoginTimestampMs int64
	CookieHeader     string
}

// Expired reports whether the snapshot is older than ttl at the given instant.
func (s SessionSnapshot) Expired(ttl time.Duration, now time.Time) bool {
	established := time.UnixMilli(s.LoginTimestampMs)
	return now.Sub(established) >= ttl
}
