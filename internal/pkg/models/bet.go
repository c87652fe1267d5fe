package models

// BetCategory selects the market family a bet targets.
type BetCategory string

const (
	CategoryHandicap  BetCategory = "handicap"
	CategoryMoneyline BetCategory = "moneyline"
	CategoryOverUnder BetCategory = "overUnder"
)

// Scope selects the market window.
type Scope string

const (
	ScopeFull Scope = "full"
	ScopeHalf Scope = "half"
)

// Side is the chosen outcome within a market.
type Side string

const (
	SideHome  Side = "home"
	SideAway  Side = "away"
	SideDraw  Side = "draw"
	SideOver  Side = "over"
	SideUnder Side = "under"
)

// VariantOverride lets a caller pin the exact wire tokens instead of the
// derived category mapping. Any non-empty field takes precedence.
type VariantOverride struct {
	Wtype     string
	Rtype     string
	ChoseTeam string
}

// BetIntent is a caller-supplied request to wager on one line.
type BetIntent struct {
	MatchID  string
	SpreadID string // spread-specific match id, used instead of MatchID when set
	Category BetCategory
	Scope    Scope
	Side     Side

	// RequestedLine, when set, is compared against the platform's quoted
	// line; a mismatch is flagged but only blocks the bet when
	// ProceedOnLineMismatch is false.
	RequestedLine         *float64
	ProceedOnLineMismatch bool

	Stake         float64
	ExpectedPrice float64

	Override *VariantOverride
}

// OddsQuote is a single fresh read of one variant's price taken immediately
// before betting. Transient; never persisted and never served from cache.
type OddsQuote struct {
	Variant   WireVariant
	Rtype     string // side-specific token the quote was taken for
	ChoseTeam string
	Price     float64
	LineToken string // platform's line notation, e.g. "0 / 0.5"
	MinStake  float64
	MaxStake  float64
	RawFields map[string]string
}

// BetReceipt is the terminal outcome of one bet attempt.
type BetReceipt struct {
	Success        bool
	TicketID       string
	ConfirmedPrice float64
	ConfirmedLine  string
	LineMismatch   bool
	ErrorKind      string
	ErrorDetail    string
}
