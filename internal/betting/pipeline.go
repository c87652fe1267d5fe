// Package betting resolves a bet intent into wire variants, obtains a fresh
// attestable price, and submits at that price. It is the only layer that
// decides retryable vs terminal per the error taxonomy.
package betting

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/latiaodream/zuizhonghg-sub000/internal/hg"
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/models"
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/platformerr"
)

// Quoter is the slice of the platform client the pipeline needs. The session
// registry hands the pipeline a live client; tests hand it a fake.
type Quoter interface {
	GetQuote(ctx context.Context, matchID string, ref hg.VariantRef) (*models.OddsQuote, error)
	PlaceBet(ctx context.Context, req hg.BetRequest) (*models.BetReceipt, error)
}

type Config struct {
	MarketClosedRetries int
	MarketClosedDelay   time.Duration
	LineTolerance       float64
}

type Pipeline struct {
	cfg   Config
	sleep func(time.Duration) // test hook
}

func NewPipeline(cfg Config) *Pipeline {
	if cfg.MarketClosedRetries <= 0 {
		cfg.MarketClosedRetries = 3
	}
	if cfg.MarketClosedDelay <= 0 {
		cfg.MarketClosedDelay = 700 * time.Millisecond
	}
	if cfg.LineTolerance <= 0 {
		cfg.LineTolerance = 0.01
	}
	return &Pipeline{cfg: cfg, sleep: time.Sleep}
}

// Place runs one pipeline invocation: derive variants, quote with bounded
// retries, submit exactly once against the quote's own price and line. The
// caller's expected price never reaches the wire.
func (p *Pipeline) Place(ctx context.Context, client Quoter, intent models.BetIntent) (*models.BetReceipt, error) {
	if err := validateIntent(intent); err != nil {
		return receiptFor(err), nil
	}

	variants := hg.VariantsFor(intent)
	if len(variants) == 0 {
		err := platformerr.New(platformerr.KindValidation, "",
			"no wire variant for category "+string(intent.Category)+" scope "+string(intent.Scope))
		return receiptFor(err), nil
	}

	matchID := intent.MatchID
	if intent.SpreadID != "" {
		matchID = intent.SpreadID
	}

	quote, ref, err := p.resolveQuote(ctx, client, matchID, variants)
	if err != nil {
		return receiptFor(err), err
	}

	mismatch := p.lineMismatch(intent, quote)
	if mismatch && !intent.ProceedOnLineMismatch {
		err := platformerr.New(platformerr.KindOddsChanged, "",
			"platform line "+quote.LineToken+" differs from requested")
		r := receiptFor(err)
		r.LineMismatch = true
		return r, nil
	}

	receipt, err := client.PlaceBet(ctx, hg.BetRequest{
		MatchID:   matchID,
		Variant:   ref,
		Stake:     intent.Stake,
		Price:     quote.Price,
		LineToken: quote.LineToken,
	})
	if err != nil {
		return receiptFor(err), nil
	}
	receipt.LineMismatch = mismatch
	slog.Info("bet placed",
		"match_id", matchID, "wtype", ref.Wtype, "rtype", ref.Rtype,
		"price", quote.Price, "line", quote.LineToken, "ticket_id", receipt.TicketID)
	return receipt, nil
}

// resolveQuote walks the variant fallback list. Market-closed gets a bounded
// fixed-delay retry per variant; a session-invalid signal aborts the whole
// list immediately so the caller can trigger a fresh login.
func (p *Pipeline) resolveQuote(ctx context.Context, client Quoter, matchID string, variants []hg.VariantRef) (*models.OddsQuote, hg.VariantRef, error) {
	var lastErr error
	for _, ref := range variants {
		for attempt := 1; attempt <= p.cfg.MarketClosedRetries; attempt++ {
			quote, err := client.GetQuote(ctx, matchID, ref)
			if err == nil {
				return quote, ref, nil
			}
			lastErr = err

			switch platformerr.KindOf(err) {
			case platformerr.KindSessionInvalid:
				return nil, hg.VariantRef{}, err
			case platformerr.KindMarketClosed:
				slog.Debug("market closed, retrying quote",
					"match_id", matchID, "wtype", ref.Wtype, "attempt", attempt)
				if attempt < p.cfg.MarketClosedRetries {
					p.sleep(p.cfg.MarketClosedDelay)
					continue
				}
			default:
				// Terminal for this variant; try the sibling family.
			}
			break
		}
	}
	return nil, hg.VariantRef{}, lastErr
}

// lineMismatch compares the requested line against the quote's returned line,
// supporting split notations like "0 / 0.5". Parse failures count as a
// mismatch so the caller sees the discrepancy.
func (p *Pipeline) lineMismatch(intent models.BetIntent, quote *models.OddsQuote) bool {
	if intent.RequestedLine == nil || quote.LineToken == "" {
		return false
	}
	quoted, err := hg.ParseLineToken(quote.LineToken)
	if err != nil {
		return true
	}
	return math.Abs(quoted-*intent.RequestedLine) > p.cfg.LineTolerance
}

func validateIntent(intent models.BetIntent) error {
	if intent.MatchID == "" && intent.SpreadID == "" {
		return platformerr.New(platformerr.KindValidation, "", "intent has no match id")
	}
	if intent.Stake <= 0 {
		return platformerr.New(platformerr.KindValidation, "", "stake must be positive")
	}
	return nil
}

// receiptFor folds an error into a terminal receipt, keeping the raw platform
// token next to the mapped kind for operators.
func receiptFor(err error) *models.BetReceipt {
	if err == nil {
		return &models.BetReceipt{Success: true}
	}
	return &models.BetReceipt{
		Success:     false,
		ErrorKind:   string(platformerr.KindOf(err)),
		ErrorDetail: err.Error(),
	}
}
