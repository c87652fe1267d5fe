package hg

import (
	"reflect"
	"testing"
	"time"

	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/models"
)

const gameListFixture = `<serverresponse>
<code>100</code>
<game>
  <gid>7001</gid>
  <league>Premier League</league>
  <team_h>Arsenal</team_h>
  <team_c>Chelsea</team_c>
  <datetime>2026-03-14 20:00</datetime>
  <score_h>1</score_h>
  <score_c>0</score_c>
  <now_model>1H</now_model>
  <timer>33</timer>
  <more_count>12</more_count>
  <ratio_re>0 / 0.5</ratio_re>
  <ior_reh>0.95</ior_reh>
  <ior_rec>0.97</ior_rec>
  <ratio_rou>2.5</ratio_rou>
  <ior_rouc>0.90</ior_rouc>
  <ior_rouh>1.00</ior_rouh>
  <ior_rmh>2.10</ior_rmh>
  <ior_rmn>3.30</ior_rmn>
  <ior_rmc>3.60</ior_rmc>
  <ratio_hre>0</ratio_hre>
  <ior_hreh>0.88</ior_hreh>
  <ior_hrec>1.02</ior_hrec>
</game>
<game>
  <gid>7002</gid>
  <league>La Liga</league>
  <team_h>Sevilla</team_h>
  <team_c>Betis</team_c>
  <datetime>2026-03-15 18:00</datetime>
  <ratio_r>0.5</ratio_r>
  <ior_rh>0.92</ior_rh>
  <ior_rc>0.98</ior_rc>
</game>
</serverresponse>`

func TestParseGameList(t *testing.T) {
	snaps, err := ParseGameList([]byte(gameListFixture))
	if err != nil {
		t.Fatalf("ParseGameList: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}

	live := snaps[0]
	if live.MatchID != "7001" || live.Home != "Arsenal" || live.Away != "Chelsea" {
		t.Errorf("event identity: %+v", live)
	}
	if live.Score != "1:0" || live.Period != "1H" || live.Clock != "33" {
		t.Errorf("live state: score=%q period=%q clock=%q", live.Score, live.Period, live.Clock)
	}
	if live.MoreCount != 12 {
		t.Errorf("more_count: got %d", live.MoreCount)
	}

	if len(live.Full.Handicaps) != 1 {
		t.Fatalf("full handicaps: got %d", len(live.Full.Handicaps))
	}
	hdp := live.Full.Handicaps[0]
	if hdp.Line != 0.25 || hdp.RawLine != "0 / 0.5" {
		t.Errorf("handicap line: %+v", hdp)
	}
	if hdp.Variant.Wtype != "RE" || hdp.Variant.HomeRtype != "REH" || hdp.Variant.AwayRtype != "REC" {
		t.Errorf("handicap variant tokens: %+v", hdp.Variant)
	}

	if len(live.Full.OverUnders) != 1 || live.Full.OverUnders[0].Variant.Wtype != "ROU" {
		t.Errorf("over/under: %+v", live.Full.OverUnders)
	}
	if live.Full.Moneyline == nil || live.Full.Moneyline.Home != 2.10 || live.Full.Moneyline.Variant.Wtype != "RM" {
		t.Errorf("moneyline: %+v", live.Full.Moneyline)
	}
	if len(live.Half.Handicaps) != 1 || live.Half.Handicaps[0].Variant.Wtype != "HRE" {
		t.Errorf("half handicap: %+v", live.Half.Handicaps)
	}

	// Second event carries only the pre-match family.
	early := snaps[1]
	if len(early.Full.Handicaps) != 1 || early.Full.Handicaps[0].Variant.Wtype != "R" {
		t.Errorf("pre-match handicap: %+v", early.Full.Handicaps)
	}
	if early.Full.Moneyline != nil {
		t.Errorf("unexpected moneyline without odds fields: %+v", early.Full.Moneyline)
	}
}

func TestParseGameListDeterministic(t *testing.T) {
	a, err := ParseGameList([]byte(gameListFixture))
	if err != nil {
		t.Fatalf("first parse: %v", err)
	}
	b, err := ParseGameList([]byte(gameListFixture))
	if err != nil {
		t.Fatalf("second parse: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("parsing the same payload twice produced different snapshots")
	}
}

func TestParseGameListNoData(t *testing.T) {
	snaps, err := ParseGameList([]byte("nodata"))
	if err != nil {
		t.Fatalf("nodata: %v", err)
	}
	if len(snaps) != 0 {
		t.Errorf("expected empty list, got %d", len(snaps))
	}
}

func TestParseGameListSkipsOddslessLines(t *testing.T) {
	body := `<serverresponse><code>100</code><game>
		<gid>1</gid><team_h>A</team_h><team_c>B</team_c>
		<ratio_r>0.5</ratio_r><ior_rh>0</ior_rh><ior_rc>0</ior_rc>
	</game></serverresponse>`
	snaps, err := ParseGameList([]byte(body))
	if err != nil {
		t.Fatalf("ParseGameList: %v", err)
	}
	if len(snaps) != 1 || len(snaps[0].Full.Handicaps) != 0 {
		t.Errorf("line without odds must be dropped: %+v", snaps)
	}
}

const gameMoreFixture = `<serverresponse>
<code>100</code>
<game>
  <ratio_re>0.5</ratio_re>
  <ior_reh>0.80</ior_reh>
  <ior_rec>1.10</ior_rec>
</game>
<game>
  <ratio_rou>3.5</ratio_rou>
  <ior_rouc>1.80</ior_rouc>
  <ior_rouh>0.45</ior_rouh>
</game>
<game>
  <ratio_hre>0.25</ratio_hre>
  <ior_hreh>0.99</ior_hreh>
  <ior_hrec>0.91</ior_hrec>
</game>
</serverresponse>`

func TestParseGameMore(t *testing.T) {
	more, err := ParseGameMore([]byte(gameMoreFixture))
	if err != nil {
		t.Fatalf("ParseGameMore: %v", err)
	}
	if len(more.Handicaps) != 1 || more.Handicaps[0].Line != 0.5 {
		t.Errorf("handicaps: %+v", more.Handicaps)
	}
	if len(more.OverUnders) != 1 || more.OverUnders[0].Line != 3.5 {
		t.Errorf("over/unders: %+v", more.OverUnders)
	}
	if len(more.HalfHandicaps) != 1 || more.HalfHandicaps[0].Variant.Wtype != "HRE" {
		t.Errorf("half handicaps: %+v", more.HalfHandicaps)
	}
}

func TestParseGameMoreExcludesCornerFamilies(t *testing.T) {
	body := `<serverresponse><code>100</code>
	<game><ratio_re_cn>8.5</ratio_re_cn><ior_reh>1.90</ior_reh><ior_rec>1.90</ior_rec></game>
	</serverresponse>`
	more, err := ParseGameMore([]byte(body))
	if err != nil {
		t.Fatalf("ParseGameMore: %v", err)
	}
	if !more.Empty() {
		t.Errorf("corner-family element must be excluded: %+v", more)
	}
}

func TestParseGameMoreDropsImplausibleTotals(t *testing.T) {
	body := `<serverresponse><code>100</code>
	<game><ratio_rou>10.5/11</ratio_rou><ior_rouc>1.85</ior_rouc><ior_rouh>1.85</ior_rouh></game>
	</serverresponse>`
	more, err := ParseGameMore([]byte(body))
	if err != nil {
		t.Fatalf("ParseGameMore: %v", err)
	}
	if len(more.OverUnders) != 0 {
		t.Errorf("total above sanity bound must be dropped: %+v", more.OverUnders)
	}
}

func TestParseGameMoreUnlabeledFallback(t *testing.T) {
	body := `<serverresponse><code>100</code>
	<game><ratio>0.75</ratio><ior_h>0.93</ior_h><ior_c>0.95</ior_c></game>
	</serverresponse>`
	more, err := ParseGameMore([]byte(body))
	if err != nil {
		t.Fatalf("ParseGameMore: %v", err)
	}
	if len(more.Handicaps) != 1 || more.Handicaps[0].Variant.Wtype != "R" {
		t.Errorf("unlabeled row should become a pre-match handicap: %+v", more.Handicaps)
	}
}

func baseSnapshot() *models.MarketSnapshot {
	snaps, _ := ParseGameList([]byte(gameListFixture))
	return &snaps[0]
}

func TestMergeMoreEmptyIsNoop(t *testing.T) {
	snap := baseSnapshot()
	before := *snap
	MergeMore(snap, &MoreMarkets{})
	if !reflect.DeepEqual(before, *snap) {
		t.Error("merging an empty supplemental result must be a no-op")
	}
}

func moreAt(at time.Time, homeOdds, awayOdds float64) *MoreMarkets {
	return &MoreMarkets{
		ObservedAt: at,
		Handicaps: []models.HandicapLine{{
			Line: 0.25, RawLine: "0 / 0.5", HomeOdds: homeOdds, AwayOdds: awayOdds,
			Variant: models.WireVariant{Wtype: "RE", HomeRtype: "REH", AwayRtype: "REC"},
		}},
	}
}

func TestMergeMoreNewerObservationWins(t *testing.T) {
	now := time.Date(2026, 3, 15, 18, 30, 0, 0, time.UTC)
	older := moreAt(now.Add(-time.Minute), 0.80, 1.05)
	newer := moreAt(now, 0.85, 1.00)

	a := baseSnapshot()
	MergeMore(a, older)
	MergeMore(a, newer)
	MergeMore(a, older) // replaying the older observation

	b := baseSnapshot()
	MergeMore(b, older)
	MergeMore(b, newer)

	// Replaying an already-seen older payload must not change the result.
	if !reflect.DeepEqual(a.Full.Handicaps, b.Full.Handicaps) {
		t.Fatalf("replaying older payload diverged:\n%+v\nvs\n%+v", a.Full.Handicaps, b.Full.Handicaps)
	}
	if a.Full.Handicaps[0].HomeOdds != 0.85 {
		t.Errorf("newer observation must win the slot: got %v", a.Full.Handicaps[0].HomeOdds)
	}
}

func TestMergeMoreStaleDoesNotOverwriteFresh(t *testing.T) {
	snap := baseSnapshot()
	fetchedAt := time.Date(2026, 3, 15, 18, 30, 0, 0, time.UTC)
	stampScope(&snap.Full, fetchedAt)
	stampScope(&snap.Half, fetchedAt)

	// A cached supplemental payload from an earlier tick shares the base
	// snapshot's (wtype, line) key but carries older odds.
	cached := moreAt(fetchedAt.Add(-10*time.Second), 0.80, 1.05)
	MergeMore(snap, cached)

	if snap.Full.Handicaps[0].HomeOdds != 0.95 {
		t.Errorf("stale cached odds overwrote the fresh base: %+v", snap.Full.Handicaps[0])
	}
}

func TestMergeIgnoresEmptyOdds(t *testing.T) {
	snap := baseSnapshot()
	blank := &MoreMarkets{Handicaps: []models.HandicapLine{{
		Line:    0.25,
		Variant: models.WireVariant{Wtype: "RE"},
	}}}
	MergeMore(snap, blank)
	if snap.Full.Handicaps[0].HomeOdds != 0.95 {
		t.Errorf("entry without odds must not overwrite: %+v", snap.Full.Handicaps[0])
	}
}

func TestSortHandicapsByAbsoluteLine(t *testing.T) {
	lines := []models.HandicapLine{
		{Line: -1.5, Variant: models.WireVariant{Wtype: "R"}},
		{Line: 0.25, Variant: models.WireVariant{Wtype: "R"}},
		{Line: -0.5, Variant: models.WireVariant{Wtype: "R"}},
	}
	sortHandicaps(lines)
	got := []float64{lines[0].Line, lines[1].Line, lines[2].Line}
	want := []float64{0.25, -0.5, -1.5}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("handicap order: got %v, want %v", got, want)
	}
}

func TestTruncateByDeclaredCount(t *testing.T) {
	body := `<serverresponse><code>100</code><hdp_count>1</hdp_count>
	<game><ratio_re>0.5</ratio_re><ior_reh>0.90</ior_reh><ior_rec>1.00</ior_rec></game>
	<game><ratio_re>1</ratio_re><ior_reh>0.70</ior_reh><ior_rec>1.20</ior_rec></game>
	</serverresponse>`
	more, err := ParseGameMore([]byte(body))
	if err != nil {
		t.Fatalf("ParseGameMore: %v", err)
	}
	if len(more.Handicaps) != 1 {
		t.Fatalf("declared count must truncate after sorting: %+v", more.Handicaps)
	}
	if more.Handicaps[0].Line != 0.5 {
		t.Errorf("truncation must keep the smallest absolute line: %+v", more.Handicaps[0])
	}
}
