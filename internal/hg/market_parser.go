package hg

import (
	"context"
	"log/slog"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/models"
)

// Goal totals above this are cross-market contamination (corner totals leak
// into the same field families on some payloads) and are dropped.
const maxTotalLine = 10.0

// Corner and card sub-markets carry these family markers; they are always
// excluded from the primary snapshot and extracted elsewhere.
var excludedFamilyMarkers = []string{"_cn", "_cd"}

// scopeAliases lists, per market concept, the candidate field names in probe
// order: live family first, then its pre-match sibling. The lists are data;
// a renamed gateway field is an entry here, not a new branch.
type scopeAliases struct {
	hdpFamilies []lineFamilyAliases
	ouFamilies  []lineFamilyAliases
	mlFamilies  []moneylineAliases
}

// lineFamilyAliases binds one wtype family to its ratio and odds fields.
type lineFamilyAliases struct {
	fam    family
	ratio  string
	first  string // home side, or over for totals
	second string // away side, or under for totals
}

type moneylineAliases struct {
	fam              family
	home, draw, away string
}

var fullAliases = scopeAliases{
	hdpFamilies: []lineFamilyAliases{
		{fam: handicapLive, ratio: "ratio_re", first: "ior_reh", second: "ior_rec"},
		{fam: handicapEarly, ratio: "ratio_r", first: "ior_rh", second: "ior_rc"},
	},
	ouFamilies: []lineFamilyAliases{
		{fam: overUnderLive, ratio: "ratio_rou", first: "ior_rouc", second: "ior_rouh"},
		{fam: overUnderEarly, ratio: "ratio_ou", first: "ior_ouc", second: "ior_ouh"},
	},
	mlFamilies: []moneylineAliases{
		{fam: moneylineLive, home: "ior_rmh", draw: "ior_rmn", away: "ior_rmc"},
		{fam: moneylineEarly, home: "ior_mh", draw: "ior_mn", away: "ior_mc"},
	},
}

var halfAliases = scopeAliases{
	hdpFamilies: []lineFamilyAliases{
		{fam: halfHandicapLive, ratio: "ratio_hre", first: "ior_hreh", second: "ior_hrec"},
		{fam: halfHandicapEarly, ratio: "ratio_hr", first: "ior_hrh", second: "ior_hrc"},
	},
	ouFamilies: []lineFamilyAliases{
		{fam: halfOverUnderLive, ratio: "ratio_hrou", first: "ior_hrouc", second: "ior_hrouh"},
		{fam: halfOverUnderEarly, ratio: "ratio_hou", first: "ior_houc", second: "ior_houh"},
	},
	mlFamilies: []moneylineAliases{
		{fam: halfMoneylineLive, home: "ior_hrmh", draw: "ior_hrmn", away: "ior_hrmc"},
		{fam: halfMoneylineEarly, home: "ior_hmh", draw: "ior_hmn", away: "ior_hmc"},
	},
}

// ParseGameList normalizes a get_game_list response into market snapshots.
// Parsing is deterministic: families are probed in fixed order and line lists
// are sorted before return.
func ParseGameList(body []byte) ([]models.MarketSnapshot, error) {
	if isNoData(body) {
		return nil, nil
	}
	top, games, err := decodeResponse(body)
	if err != nil {
		return nil, err
	}
	if err := statusError(top, "game list"); err != nil {
		return nil, err
	}

	var snaps []models.MarketSnapshot
	for _, g := range games {
		snap := parseGame(g)
		if snap == nil {
			continue
		}
		snaps = append(snaps, *snap)
	}
	return snaps, nil
}

func parseGame(g fields) *models.MarketSnapshot {
	matchID := g.pick("gid", "game_id")
	if matchID == "" {
		return nil
	}
	home := g.pick("team_h", "team_name_h")
	away := g.pick("team_c", "team_name_c")
	if home == "" || away == "" {
		slog.Debug("hg: skip game without team names", "gid", matchID)
		return nil
	}

	snap := &models.MarketSnapshot{
		MatchID:   matchID,
		League:    g.pick("league", "league_name"),
		Home:      home,
		Away:      away,
		Kickoff:   parseKickoff(g.pick("datetime", "date_time")),
		Score:     scoreOf(g),
		Period:    g.pick("now_model", "period"),
		Clock:     g.pick("timer", "retimeset"),
		MoreCount: int(g.pickFloat("more_count", "sw_more")),
		Full:      parseScope(g, fullAliases),
		Half:      parseScope(g, halfAliases),
	}
	return snap
}

func scoreOf(g fields) string {
	h := g.pick("score_h")
	c := g.pick("score_c")
	if h == "" && c == "" {
		return ""
	}
	return h + ":" + c
}

func parseKickoff(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02 15:04", "01-02 15:04", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseScope extracts one scope's markets from a game element. Both the live
// and pre-match families are probed and the results merged by (wtype, line).
func parseScope(g fields, aliases scopeAliases) models.ScopeMarkets {
	var scope models.ScopeMarkets
	for _, fa := range aliases.hdpFamilies {
		if line, ok := handicapFrom(g, fa); ok {
			scope.Handicaps = mergeHandicaps(scope.Handicaps, []models.HandicapLine{line})
		}
	}
	for _, fa := range aliases.ouFamilies {
		if line, ok := overUnderFrom(g, fa); ok {
			scope.OverUnders = mergeOverUnders(scope.OverUnders, []models.OverUnderLine{line})
		}
	}
	for _, ma := range aliases.mlFamilies {
		if scope.Moneyline != nil {
			break
		}
		scope.Moneyline = moneylineFrom(g, ma)
	}
	sortHandicaps(scope.Handicaps)
	sortOverUnders(scope.OverUnders)
	return scope
}

// handicapFrom accepts a line only when its family fields carry at least one
// non-zero odds value.
func handicapFrom(g fields, fa lineFamilyAliases) (models.HandicapLine, bool) {
	homeOdds := g.pickFloat(fa.first)
	awayOdds := g.pickFloat(fa.second)
	if homeOdds == 0 && awayOdds == 0 {
		return models.HandicapLine{}, false
	}
	raw := g.pick(fa.ratio)
	line, err := ParseLineToken(raw)
	if err != nil {
		return models.HandicapLine{}, false
	}
	return models.HandicapLine{
		Line:     line,
		RawLine:  raw,
		HomeOdds: homeOdds,
		AwayOdds: awayOdds,
		Variant: models.WireVariant{
			Wtype:     fa.fam.wtype,
			HomeRtype: fa.fam.rtypes[models.SideHome],
			AwayRtype: fa.fam.rtypes[models.SideAway],
		},
	}, true
}

func overUnderFrom(g fields, fa lineFamilyAliases) (models.OverUnderLine, bool) {
	overOdds := g.pickFloat(fa.first)
	underOdds := g.pickFloat(fa.second)
	if overOdds == 0 && underOdds == 0 {
		return models.OverUnderLine{}, false
	}
	raw := g.pick(fa.ratio)
	line, err := ParseLineToken(raw)
	if err != nil {
		return models.OverUnderLine{}, false
	}
	if line > maxTotalLine {
		slog.Debug("hg: drop implausible total line", "line", raw, "wtype", fa.fam.wtype)
		return models.OverUnderLine{}, false
	}
	return models.OverUnderLine{
		Line:      line,
		RawLine:   raw,
		OverOdds:  overOdds,
		UnderOdds: underOdds,
		Variant: models.WireVariant{
			Wtype:     fa.fam.wtype,
			HomeRtype: fa.fam.rtypes[models.SideOver],
			AwayRtype: fa.fam.rtypes[models.SideUnder],
		},
	}, true
}

func moneylineFrom(g fields, ma moneylineAliases) *models.MoneylineQuote {
	home := g.pickFloat(ma.home)
	draw := g.pickFloat(ma.draw)
	away := g.pickFloat(ma.away)
	if home == 0 && draw == 0 && away == 0 {
		return nil
	}
	return &models.MoneylineQuote{
		Home:    home,
		Draw:    draw,
		Away:    away,
		Variant: models.WireVariant{Wtype: ma.fam.wtype},
	}
}

// MoreMarkets is the parsed supplemental "more markets" payload for one
// event.
type MoreMarkets struct {
	Handicaps      []models.HandicapLine
	OverUnders     []models.OverUnderLine
	HalfHandicaps  []models.HandicapLine
	HalfOverUnders []models.OverUnderLine
	HalfMoneyline  *models.MoneylineQuote

	// ObservedAt is when the payload was fetched. It survives the cache
	// round trip, so a cached payload merged after a fresher base snapshot
	// cannot roll its lines back.
	ObservedAt time.Time
}

// Empty reports whether the payload carries nothing; merging an empty result
// is a no-op.
func (m *MoreMarkets) Empty() bool {
	return m == nil || (len(m.Handicaps) == 0 && len(m.OverUnders) == 0 &&
		len(m.HalfHandicaps) == 0 && len(m.HalfOverUnders) == 0 && m.HalfMoneyline == nil)
}

// ParseGameMore normalizes a get_game_more response. Each repeated element is
// one additional line; elements whose family markers flag a corner or card
// sub-market are skipped. Elements without any family token at all are
// accepted as pre-match handicap lines when they carry a bare ratio/ior pair.
func ParseGameMore(body []byte) (*MoreMarkets, error) {
	if isNoData(body) {
		return &MoreMarkets{}, nil
	}
	top, games, err := decodeResponse(body)
	if err != nil {
		return nil, err
	}
	if err := statusError(top, "game more"); err != nil {
		return nil, err
	}

	more := &MoreMarkets{}
	for _, g := range games {
		if hasExcludedFamily(g) {
			continue
		}
		labeled := false
		for _, fa := range fullAliases.hdpFamilies {
			if line, ok := handicapFrom(g, fa); ok {
				more.Handicaps = mergeHandicaps(more.Handicaps, []models.HandicapLine{line})
				labeled = true
			}
		}
		for _, fa := range fullAliases.ouFamilies {
			if line, ok := overUnderFrom(g, fa); ok {
				more.OverUnders = mergeOverUnders(more.OverUnders, []models.OverUnderLine{line})
				labeled = true
			}
		}
		for _, fa := range halfAliases.hdpFamilies {
			if line, ok := handicapFrom(g, fa); ok {
				more.HalfHandicaps = mergeHandicaps(more.HalfHandicaps, []models.HandicapLine{line})
				labeled = true
			}
		}
		for _, fa := range halfAliases.ouFamilies {
			if line, ok := overUnderFrom(g, fa); ok {
				more.HalfOverUnders = mergeOverUnders(more.HalfOverUnders, []models.OverUnderLine{line})
				labeled = true
			}
		}
		for _, ma := range halfAliases.mlFamilies {
			if more.HalfMoneyline != nil {
				break
			}
			if ml := moneylineFrom(g, ma); ml != nil {
				more.HalfMoneyline = ml
				labeled = true
			}
		}
		if !labeled {
			if line, ok := unlabeledHandicap(g); ok {
				more.Handicaps = mergeHandicaps(more.Handicaps, []models.HandicapLine{line})
			}
		}
	}

	sortHandicaps(more.Handicaps)
	sortOverUnders(more.OverUnders)
	sortHandicaps(more.HalfHandicaps)
	sortOverUnders(more.HalfOverUnders)

	truncateHandicaps(&more.Handicaps, int(top.pickFloat("hdp_count")))
	truncateOverUnders(&more.OverUnders, int(top.pickFloat("ou_count")))
	truncateHandicaps(&more.HalfHandicaps, int(top.pickFloat("hhdp_count")))
	truncateOverUnders(&more.HalfOverUnders, int(top.pickFloat("hou_count")))

	return more, nil
}

// unlabeledHandicap handles payload rows carrying a bare ratio/ior pair with
// no family token anywhere. They are treated as pre-match full handicap.
func unlabeledHandicap(g fields) (models.HandicapLine, bool) {
	return handicapFrom(g, lineFamilyAliases{
		fam:    handicapEarly,
		ratio:  "ratio",
		first:  "ior_h",
		second: "ior_c",
	})
}

func hasExcludedFamily(g fields) bool {
	for k := range g {
		for _, marker := range excludedFamilyMarkers {
			if strings.Contains(k, marker) {
				return true
			}
		}
	}
	return false
}

// MergeMore folds a supplemental fetch into a base snapshot. Per (wtype,
// line) key the most recently observed non-empty odds win: an entry older
// than the incumbent never overwrites it, so replaying a stale payload after
// a fresher one is a no-op for the keys they share. Lines without their own
// timestamp inherit the payload's.
func MergeMore(snap *models.MarketSnapshot, more *MoreMarkets) {
	if snap == nil || more.Empty() {
		return
	}
	inheritObservedAt(more)
	snap.Full.Handicaps = mergeHandicaps(snap.Full.Handicaps, more.Handicaps)
	snap.Full.OverUnders = mergeOverUnders(snap.Full.OverUnders, more.OverUnders)
	snap.Half.Handicaps = mergeHandicaps(snap.Half.Handicaps, more.HalfHandicaps)
	snap.Half.OverUnders = mergeOverUnders(snap.Half.OverUnders, more.HalfOverUnders)
	if more.HalfMoneyline != nil {
		if cur := snap.Half.Moneyline; cur == nil || !more.HalfMoneyline.ObservedAt.Before(cur.ObservedAt) {
			snap.Half.Moneyline = more.HalfMoneyline
		}
	}
	sortHandicaps(snap.Full.Handicaps)
	sortOverUnders(snap.Full.OverUnders)
	sortHandicaps(snap.Half.Handicaps)
	sortOverUnders(snap.Half.OverUnders)
}

func inheritObservedAt(more *MoreMarkets) {
	for i := range more.Handicaps {
		if more.Handicaps[i].ObservedAt.IsZero() {
			more.Handicaps[i].ObservedAt = more.ObservedAt
		}
	}
	for i := range more.OverUnders {
		if more.OverUnders[i].ObservedAt.IsZero() {
			more.OverUnders[i].ObservedAt = more.ObservedAt
		}
	}
	for i := range more.HalfHandicaps {
		if more.HalfHandicaps[i].ObservedAt.IsZero() {
			more.HalfHandicaps[i].ObservedAt = more.ObservedAt
		}
	}
	for i := range more.HalfOverUnders {
		if more.HalfOverUnders[i].ObservedAt.IsZero() {
			more.HalfOverUnders[i].ObservedAt = more.ObservedAt
		}
	}
	if more.HalfMoneyline != nil && more.HalfMoneyline.ObservedAt.IsZero() {
		more.HalfMoneyline.ObservedAt = more.ObservedAt
	}
}

type lineKey struct {
	wtype string
	line  float64
}

// mergeHandicaps merges per (wtype, line): an entry replaces the incumbent
// only when it brings non-empty odds and is not an older observation.
func mergeHandicaps(dst, src []models.HandicapLine) []models.HandicapLine {
	if len(src) == 0 {
		return dst
	}
	index := make(map[lineKey]int, len(dst))
	for i, l := range dst {
		index[lineKey{l.Variant.Wtype, l.Line}] = i
	}
	for _, l := range src {
		if l.HomeOdds == 0 && l.AwayOdds == 0 {
			continue
		}
		k := lineKey{l.Variant.Wtype, l.Line}
		if i, ok := index[k]; ok {
			if l.ObservedAt.Before(dst[i].ObservedAt) {
				continue
			}
			dst[i] = l
		} else {
			index[k] = len(dst)
			dst = append(dst, l)
		}
	}
	return dst
}

func mergeOverUnders(dst, src []models.OverUnderLine) []models.OverUnderLine {
	if len(src) == 0 {
		return dst
	}
	index := make(map[lineKey]int, len(dst))
	for i, l := range dst {
		index[lineKey{l.Variant.Wtype, l.Line}] = i
	}
	for _, l := range src {
		if l.OverOdds == 0 && l.UnderOdds == 0 {
			continue
		}
		k := lineKey{l.Variant.Wtype, l.Line}
		if i, ok := index[k]; ok {
			if l.ObservedAt.Before(dst[i].ObservedAt) {
				continue
			}
			dst[i] = l
		} else {
			index[k] = len(dst)
			dst = append(dst, l)
		}
	}
	return dst
}

// Handicaps sort by absolute line value ascending, totals by raw line value
// ascending. Wtype breaks ties so re-sorting merged lists stays stable.
func sortHandicaps(lines []models.HandicapLine) {
	sort.SliceStable(lines, func(i, j int) bool {
		ai, aj := math.Abs(lines[i].Line), math.Abs(lines[j].Line)
		if ai != aj {
			return ai < aj
		}
		if lines[i].Line != lines[j].Line {
			return lines[i].Line < lines[j].Line
		}
		return lines[i].Variant.Wtype < lines[j].Variant.Wtype
	})
}

func sortOverUnders(lines []models.OverUnderLine) {
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].Line != lines[j].Line {
			return lines[i].Line < lines[j].Line
		}
		return lines[i].Variant.Wtype < lines[j].Variant.Wtype
	})
}

func truncateHandicaps(lines *[]models.HandicapLine, count int) {
	if count > 0 && len(*lines) > count {
		*lines = (*lines)[:count]
	}
}

func truncateOverUnders(lines *[]models.OverUnderLine, count int) {
	if count > 0 && len(*lines) > count {
		*lines = (*lines)[:count]
	}
}

// GetGameList fetches and parses the market list for one showtype
// (live, today, early).
func (c *Client) GetGameList(ctx context.Context, showtype string) ([]models.MarketSnapshot, error) {
	params := url.Values{}
	params.Set("gtype", "ft")
	params.Set("showtype", showtype)
	params.Set("rtype", "r")
	params.Set("date", "all")
	body, err := c.do(ctx, opGameList, params)
	if err != nil {
		return nil, err
	}
	snaps, err := ParseGameList(body)
	if err != nil {
		return nil, err
	}
	stampSnapshots(snaps, time.Now())
	return snaps, nil
}

// stampSnapshots records when the lines were read from the platform. The
// parse functions stay pure; observation time belongs to the fetch.
func stampSnapshots(snaps []models.MarketSnapshot, at time.Time) {
	for i := range snaps {
		stampScope(&snaps[i].Full, at)
		stampScope(&snaps[i].Half, at)
	}
}

func stampScope(scope *models.ScopeMarkets, at time.Time) {
	for i := range scope.Handicaps {
		scope.Handicaps[i].ObservedAt = at
	}
	for i := range scope.OverUnders {
		scope.OverUnders[i].ObservedAt = at
	}
	if scope.Moneyline != nil {
		scope.Moneyline.ObservedAt = at
	}
}

// GetGameMore fetches and parses the supplemental markets for one event.
func (c *Client) GetGameMore(ctx context.Context, matchID, showtype string) (*MoreMarkets, error) {
	params := url.Values{}
	params.Set("gtype", "ft")
	params.Set("gid", matchID)
	params.Set("showtype", showtype)
	body, err := c.do(ctx, opGameMore, params)
	if err != nil {
		return nil, err
	}
	more, err := ParseGameMore(body)
	if err != nil {
		return nil, err
	}
	more.ObservedAt = time.Now()
	return more, nil
}
