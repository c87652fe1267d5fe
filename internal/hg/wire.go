// Package hg implements the remote wagering platform's undocumented HTTP/XML
// protocol: one gateway endpoint, form-encoded operations, XML responses with
// a handful of plain-text sentinels.
package hg

import (
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/models"
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/platformerr"
)

// Gateway operation codes, sent as the p= form field.
const (
	opLogin      = "chk_login"
	opLoginPoll  = "chk_login_result"
	opGameList   = "get_game_list"
	opGameMore   = "get_game_more"
	opQuote      = "get_game_OBT"
	opBet        = "order_bet"
	opBalance    = "get_member_balance"
	opLogout     = "member_logout"
)

// Plain-text sentinel bodies the gateway emits instead of XML. These must be
// checked before any XML parse is attempted.
const (
	sentinelDoubleLogin = "doubleLogin"
	sentinelNoLogin     = "nologin"
	sentinelNoData      = "nodata"
	sentinelError       = "error"
)

// Gateway status codes carried in <code> (or top-level code_type for login).
const (
	codeOK              = "100"
	codeDoubleLogin     = "106"
	codePasscodeSetup   = "109"
	codePasscodeInput   = "110"
	codePasscodeKeypad  = "111"
	codeNewLoginID      = "113"
	codeNewPassword     = "114"
	codeNewCredentials  = "115"
	codeBetAccepted     = "560"
	codeMarketClosed    = "501"
	codeOddsChanged     = "502"
	codeStakeBelowMin   = "503"
	codeOverLimit       = "504"
)

// errorKinds maps gateway status tokens to the error taxonomy. Unknown tokens
// fall through to KindOther with the raw token preserved; extending this table
// is the only change needed for a new platform code.
var errorKinds = map[string]platformerr.Kind{
	codeDoubleLogin:     platformerr.KindSessionInvalid,
	sentinelDoubleLogin: platformerr.KindSessionInvalid,
	sentinelNoLogin:     platformerr.KindSessionInvalid,
	codeMarketClosed:    platformerr.KindMarketClosed,
	codeOddsChanged:     platformerr.KindOddsChanged,
	codeStakeBelowMin:   platformerr.KindValidation,
	codeOverLimit:       platformerr.KindLimit,
}

// KindForToken maps a raw gateway token to its taxonomy kind.
func KindForToken(token string) platformerr.Kind {
	if k, ok := errorKinds[token]; ok {
		return k
	}
	return platformerr.KindOther
}

// family describes one wtype token family: the wtype itself plus the
// side-specific rtypes used when quoting or betting a concrete outcome.
type family struct {
	wtype  string
	rtypes map[models.Side]string
}

// The platform keeps two token families per market concept: a pre-match one
// and a live ("running") one, and accepts only one of the two depending on
// match state. The live family is documented first in the fallback order;
// a platform response requiring a different order is a table update, not a
// logic change.
var (
	handicapLive = family{wtype: "RE", rtypes: map[models.Side]string{
		models.SideHome: "REH", models.SideAway: "REC",
	}}
	handicapEarly = family{wtype: "R", rtypes: map[models.Side]string{
		models.SideHome: "RH", models.SideAway: "RC",
	}}
	overUnderLive = family{wtype: "ROU", rtypes: map[models.Side]string{
		models.SideOver: "ROUC", models.SideUnder: "ROUH",
	}}
	overUnderEarly = family{wtype: "OU", rtypes: map[models.Side]string{
		models.SideOver: "OUC", models.SideUnder: "OUH",
	}}
	moneylineLive = family{wtype: "RM", rtypes: map[models.Side]string{
		models.SideHome: "RMH", models.SideAway: "RMC", models.SideDraw: "RMN",
	}}
	moneylineEarly = family{wtype: "M", rtypes: map[models.Side]string{
		models.SideHome: "MH", models.SideAway: "MC", models.SideDraw: "MN",
	}}

	halfHandicapLive = family{wtype: "HRE", rtypes: map[models.Side]string{
		models.SideHome: "HREH", models.SideAway: "HREC",
	}}
	halfHandicapEarly = family{wtype: "HR", rtypes: map[models.Side]string{
		models.SideHome: "HRH", models.SideAway: "HRC",
	}}
	halfOverUnderLive = family{wtype: "HROU", rtypes: map[models.Side]string{
		models.SideOver: "HROUC", models.SideUnder: "HROUH",
	}}
	halfOverUnderEarly = family{wtype: "HOU", rtypes: map[models.Side]string{
		models.SideOver: "HOUC", models.SideUnder: "HOUH",
	}}
	halfMoneylineLive = family{wtype: "HRM", rtypes: map[models.Side]string{
		models.SideHome: "HRMH", models.SideAway: "HRMC", models.SideDraw: "HRMN",
	}}
	halfMoneylineEarly = family{wtype: "HM", rtypes: map[models.Side]string{
		models.SideHome: "HMH", models.SideAway: "HMC", models.SideDraw: "HMN",
	}}
)

type categoryKey struct {
	category models.BetCategory
	scope    models.Scope
}

// familyTable lists, per category and scope, the ordered fallback families.
var familyTable = map[categoryKey][]family{
	{models.CategoryHandicap, models.ScopeFull}:  {handicapLive, handicapEarly},
	{models.CategoryHandicap, models.ScopeHalf}:  {halfHandicapLive, halfHandicapEarly},
	{models.CategoryOverUnder, models.ScopeFull}: {overUnderLive, overUnderEarly},
	{models.CategoryOverUnder, models.ScopeHalf}: {halfOverUnderLive, halfOverUnderEarly},
	{models.CategoryMoneyline, models.ScopeFull}: {moneylineLive, moneylineEarly},
	{models.CategoryMoneyline, models.ScopeHalf}: {halfMoneylineLive, halfMoneylineEarly},
}

// VariantRef is a fully resolved wire reference for one outcome: what gets
// sent as wtype/rtype/chose_team on quote and bet calls.
type VariantRef struct {
	Wtype     string
	Rtype     string
	ChoseTeam string
}

// choseTeamFor maps a side to the platform's chose_team token.
func choseTeamFor(side models.Side) string {
	switch side {
	case models.SideHome, models.SideOver:
		return "H"
	case models.SideAway, models.SideUnder:
		return "C"
	case models.SideDraw:
		return "N"
	}
	return ""
}

// VariantsFor derives the ordered variant fallback list for a bet intent.
// Caller overrides pin individual tokens on the primary variant; the sibling
// family is still tried unless the override pins wtype.
func VariantsFor(intent models.BetIntent) []VariantRef {
	families, ok := familyTable[categoryKey{intent.Category, intent.Scope}]
	if !ok {
		return nil
	}

	chose := choseTeamFor(intent.Side)
	var refs []VariantRef
	for _, f := range families {
		rtype, ok := f.rtypes[intent.Side]
		if !ok {
			continue
		}
		refs = append(refs, VariantRef{Wtype: f.wtype, Rtype: rtype, ChoseTeam: chose})
	}

	ov := intent.Override
	if ov == nil || len(refs) == 0 {
		return refs
	}
	if ov.Wtype != "" {
		refs = refs[:1]
		refs[0].Wtype = ov.Wtype
	}
	if ov.Rtype != "" {
		refs[0].Rtype = ov.Rtype
	}
	if ov.ChoseTeam != "" {
		refs[0].ChoseTeam = ov.ChoseTeam
	}
	return refs
}
