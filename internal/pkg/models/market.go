package models

import "time"

// WireVariant is the exact token pair the platform requires to reference a
// specific market line later, for quoting or betting. A variant is only valid
// against a freshly fetched snapshot; it is never reused across a stale gap.
type WireVariant struct {
	Wtype     string
	HomeRtype string // over side for totals
	AwayRtype string // under side for totals
}

// HandicapLine is one Asian handicap line within a scope.
type HandicapLine struct {
	Line     float64 // averaged numeric value of RawLine
	RawLine  string  // platform token, e.g. "0 / 0.5"
	HomeOdds float64
	AwayOdds float64
	Variant  WireVariant

	// ObservedAt is when these odds were read from the platform; merges
	// keep the newer observation per line.
	ObservedAt time.Time
}

// OverUnderLine is one goal total line within a scope.
type OverUnderLine struct {
	Line       float64
	RawLine    string
	OverOdds   float64
	UnderOdds  float64
	Variant    WireVariant
	ObservedAt time.Time
}

// MoneylineQuote is the 1X2 price set for a scope.
type MoneylineQuote struct {
	Home       float64
	Draw       float64
	Away       float64
	Variant    WireVariant
	ObservedAt time.Time
}

// ScopeMarkets holds all markets for one window (full time or first half).
type ScopeMarkets struct {
	Moneyline  *MoneylineQuote
	Handicaps  []HandicapLine
	OverUnders []OverUnderLine
}

// MarketSnapshot is one remote event in normalized form.
type MarketSnapshot struct {
	MatchID string
	League  string
	Home    string
	Away    string
	Kickoff time.Time
	Score   string
	Period  string
	Clock   string
	Full    ScopeMarkets
	Half    ScopeMarkets

	// MoreCount is the platform-advertised number of additional lines for
	// this event; when it exceeds what the base snapshot parsed, the feed
	// loop schedules a supplemental fetch.
	MoreCount int
}
