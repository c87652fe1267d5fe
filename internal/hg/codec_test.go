package hg

import (
	"math"
	"testing"

	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/platformerr"
)

func TestParseLineToken(t *testing.T) {
	cases := []struct {
		token string
		want  float64
	}{
		{"0.5", 0.5},
		{"0", 0},
		{"0 / 0.5", 0.25},
		{"2.5/3", 2.75},
		{"-0.5 / -1", -0.75},
		{"1.5", 1.5},
	}
	for _, tc := range cases {
		got, err := ParseLineToken(tc.token)
		if err != nil {
			t.Errorf("ParseLineToken(%q): %v", tc.token, err)
			continue
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("ParseLineToken(%q) = %v, want %v", tc.token, got, tc.want)
		}
	}
}

func TestParseLineTokenInvalid(t *testing.T) {
	for _, token := range []string{"", "abc", "1//", "0.5 / x"} {
		if _, err := ParseLineToken(token); err == nil {
			t.Errorf("ParseLineToken(%q): expected error", token)
		}
	}
}

func TestCheckSentinel(t *testing.T) {
	if err := checkSentinel([]byte("doubleLogin")); !platformerr.Is(err, platformerr.KindSessionInvalid) {
		t.Errorf("doubleLogin: expected session_invalid, got %v", err)
	}
	if err := checkSentinel([]byte(" nologin \n")); !platformerr.Is(err, platformerr.KindSessionInvalid) {
		t.Errorf("nologin: expected session_invalid, got %v", err)
	}
	if err := checkSentinel([]byte("<serverresponse></serverresponse>")); err != nil {
		t.Errorf("xml body: unexpected sentinel error %v", err)
	}
	if !isNoData([]byte("nodata")) {
		t.Error("nodata sentinel not recognized")
	}
}

func TestDecodeResponseTopLevelFields(t *testing.T) {
	body := []byte(`<serverresponse><code>100</code><msg>ok</msg></serverresponse>`)
	top, games, err := decodeResponse(body)
	if err != nil {
		t.Fatalf("decodeResponse: %v", err)
	}
	if top.pick("code") != "100" || top.pick("msg") != "ok" {
		t.Errorf("top fields: %v", top)
	}
	if len(games) != 0 {
		t.Errorf("expected no games, got %d", len(games))
	}
}

func TestDecodeResponseRejectsForeignRoot(t *testing.T) {
	if _, _, err := decodeResponse([]byte(`<html><body>x</body></html>`)); err == nil {
		t.Error("expected error for non-serverresponse root")
	}
}

func TestPickOrder(t *testing.T) {
	f := fields{"ior_rh": "1.90", "ior_reh": "2.00"}
	if got := f.pick("ior_reh", "ior_rh"); got != "2.00" {
		t.Errorf("pick preferred live alias: got %q", got)
	}
	f = fields{"ior_rh": "1.90", "ior_reh": ""}
	if got := f.pick("ior_reh", "ior_rh"); got != "1.90" {
		t.Errorf("pick skips empty alias: got %q", got)
	}
}
