package models

import "time"

// Account holds one platform account. Credentials and the saved passcode are
// mutated by the auth flow after a forced rotation; balance fields by the
// periodic refresh. Everything else is read-only to the core.
type Account struct {
	ID        string
	Username  string
	Password  string
	Passcode  string // saved 4-digit secondary code, empty until first set
	ProxyURL  string // optional forward proxy for all platform calls
	UserAgent string
	Enabled   bool
	Balance   float64
	Credit    float64
	UpdatedAt time.Time
}
