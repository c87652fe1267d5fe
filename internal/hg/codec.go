package hg

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/platformerr"
)

// fields is one flat XML element decoded as tag -> trimmed text. The gateway
// never nests values deeper than one game element, so a map per element is
// enough; which tag actually carries a logical value varies by match state,
// hence the alias lookups below.
type fields map[string]string

// pick returns the first non-empty candidate. Alias lists are data: the
// gateway renames fields between pre-match and live payloads, and new names
// are added to the list, not to branching code.
func (f fields) pick(candidates ...string) string {
	for _, c := range candidates {
		if v, ok := f[c]; ok && v != "" {
			return v
		}
	}
	return ""
}

func (f fields) pickFloat(candidates ...string) float64 {
	v := f.pick(candidates...)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return n
}

// checkSentinel classifies the handful of plain-text bodies the gateway emits
// instead of XML. Must run before any XML parse.
func checkSentinel(body []byte) error {
	s := strings.TrimSpace(string(body))
	switch s {
	case sentinelDoubleLogin:
		return platformerr.New(platformerr.KindSessionInvalid, sentinelDoubleLogin, "account logged in elsewhere")
	case sentinelNoLogin:
		return platformerr.New(platformerr.KindSessionInvalid, sentinelNoLogin, "session expired")
	case sentinelError:
		return platformerr.New(platformerr.KindOther, sentinelError, "gateway error sentinel")
	}
	return nil
}

// isNoData reports the "no data" sentinel, which is not an error: an empty
// market list is a valid answer.
func isNoData(body []byte) bool {
	return strings.TrimSpace(string(body)) == sentinelNoData
}

// decodeResponse parses a <serverresponse> body into the top-level fields and
// the list of repeated <game> elements.
func decodeResponse(body []byte) (fields, []fields, error) {
	if err := checkSentinel(body); err != nil {
		return nil, nil, err
	}

	dec := xml.NewDecoder(bytes.NewReader(body))
	top := fields{}
	var games []fields

	var rootSeen bool
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("decode serverresponse: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if !rootSeen {
			if start.Name.Local != "serverresponse" {
				return nil, nil, fmt.Errorf("unexpected root element %q", start.Name.Local)
			}
			rootSeen = true
			continue
		}
		if start.Name.Local == "game" || start.Name.Local == "ec" {
			game, err := decodeFlat(dec, start.Name.Local)
			if err != nil {
				return nil, nil, err
			}
			games = append(games, game)
			continue
		}
		var text string
		if err := dec.DecodeElement(&text, &start); err != nil {
			return nil, nil, fmt.Errorf("decode element %q: %w", start.Name.Local, err)
		}
		top[start.Name.Local] = strings.TrimSpace(text)
	}

	if !rootSeen {
		return nil, nil, fmt.Errorf("response has no serverresponse root")
	}
	return top, games, nil
}

// decodeFlat consumes one element's children into a flat map until the
// matching end tag.
func decodeFlat(dec *xml.Decoder, name string) (fields, error) {
	out := fields{}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode %s element: %w", name, err)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == name {
				return out, nil
			}
		case xml.StartElement:
			// One wrapper level inside <ec> holds the <game>; flatten it.
			if t.Name.Local == "game" {
				inner, err := decodeFlat(dec, "game")
				if err != nil {
					return nil, err
				}
				for k, v := range inner {
					out[k] = v
				}
				continue
			}
			var text string
			if err := dec.DecodeElement(&text, &t); err != nil {
				return nil, fmt.Errorf("decode %s.%s: %w", name, t.Name.Local, err)
			}
			out[t.Name.Local] = strings.TrimSpace(text)
		}
	}
}

// statusError maps a non-OK status token from a decoded response to a typed
// error carrying the raw token.
func statusError(top fields, context string) error {
	code := top.pick("code", "code_type")
	if code == "" || code == codeOK {
		return nil
	}
	msg := top.pick("msg", "errormsg")
	if msg == "" {
		msg = context
	}
	return platformerr.New(KindForToken(code), code, msg)
}

// ParseLineToken parses the platform's line notation into its averaged
// numeric value. Split notations like "0 / 0.5" or "2.5/3" average the two
// halves; plain numbers parse directly.
func ParseLineToken(token string) (float64, error) {
	s := strings.TrimSpace(token)
	if s == "" {
		return 0, fmt.Errorf("empty line token")
	}
	parts := strings.Split(s, "/")
	var sum float64
	for _, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, fmt.Errorf("parse line token %q: %w", token, err)
		}
		sum += n
	}
	return sum / float64(len(parts)), nil
}
