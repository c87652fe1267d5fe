package hg

import (
	"context"
	"net/url"
	"strconv"

	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/models"
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/platformerr"
)

// GetQuote takes a fresh read of one variant's price. The result is only
// valid for an immediately following PlaceBet with the same variant; it is
// never cached or reused across attempts.
func (c *Client) GetQuote(ctx context.Context, matchID string, ref VariantRef) (*models.OddsQuote, error) {
	params := url.Values{}
	params.Set("gtype", "ft")
	params.Set("gid", matchID)
	params.Set("wtype", ref.Wtype)
	params.Set("rtype", ref.Rtype)
	params.Set("chose_team", ref.ChoseTeam)

	body, err := c.do(ctx, opQuote, params)
	if err != nil {
		return nil, err
	}
	top, _, err := decodeResponse(body)
	if err != nil {
		return nil, err
	}
	if err := statusError(top, "quote"); err != nil {
		return nil, err
	}

	price := top.pickFloat("ioratio", "ior")
	if price == 0 {
		return nil, platformerr.New(platformerr.KindMarketClosed, top.pick("code"), "quote carries no price")
	}

	return &models.OddsQuote{
		Variant:   models.WireVariant{Wtype: ref.Wtype},
		Rtype:     ref.Rtype,
		ChoseTeam: ref.ChoseTeam,
		Price:     price,
		LineToken: top.pick("ratio", "spread"),
		MinStake:  top.pickFloat("gold_gmin"),
		MaxStake:  top.pickFloat("gold_gmax"),
		RawFields: top,
	}, nil
}

// BetRequest carries exactly what order_bet needs: the variant the quote was
// taken for and the quote's own price and line token. Caller-side prices
// never reach the wire.
type BetRequest struct {
	MatchID   string
	Variant   VariantRef
	Stake     float64
	Price     float64
	LineToken string
}

// PlaceBet submits one wager. A bet-accepted code or a ticket id in the
// response means success; any other status token is mapped through the error
// taxonomy with the raw token preserved.
func (c *Client) PlaceBet(ctx context.Context, req BetRequest) (*models.BetReceipt, error) {
	params := url.Values{}
	params.Set("gtype", "ft")
	params.Set("gid", req.MatchID)
	params.Set("wtype", req.Variant.Wtype)
	params.Set("rtype", req.Variant.Rtype)
	params.Set("chose_team", req.Variant.ChoseTeam)
	params.Set("gold", strconv.FormatFloat(req.Stake, 'f', -1, 64))
	params.Set("ioratio", strconv.FormatFloat(req.Price, 'f', -1, 64))
	params.Set("ratio", req.LineToken)
	params.Set("autoOdd", "Y")

	body, err := c.do(ctx, opBet, params)
	if err != nil {
		return nil, err
	}
	top, _, err := decodeResponse(body)
	if err != nil {
		return nil, err
	}

	code := top.pick("code", "code_type")
	ticket := top.pick("ticket_id", "tid")
	if code == codeBetAccepted || ticket != "" {
		receipt := &models.BetReceipt{
			Success:        true,
			TicketID:       ticket,
			ConfirmedPrice: top.pickFloat("ioratio", "ior"),
			ConfirmedLine:  top.pick("ratio", "spread"),
		}
		// Some payloads omit the echo of price/line; the submitted values
		// are authoritative then.
		if receipt.ConfirmedPrice == 0 {
			receipt.ConfirmedPrice = req.Price
		}
		if receipt.ConfirmedLine == "" {
			receipt.ConfirmedLine = req.LineToken
		}
		return receipt, nil
	}

	return nil, platformerr.New(KindForToken(code), code, top.pick("msg", "errormsg"))
}
