package pricing

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mhalpert/optiondesk/internal/models"
	"github.com/mhalpert/optiondesk/internal/util"
)

// Synthetic generates quotes and option chains without a market-data feed.
// Each underlying gets a persistent anchor price that drifts a little on
// every quote so the dashboard shows movement between refreshes.
type Synthetic struct {
	mu      sync.Mutex
	anchors map[string]float64
	est     *Estimator

	randFloat func() float64
	randInt   func(int64) int64
	now       func() time.Time
}

// NewSynthetic creates a synthetic market-data generator sharing the
// estimator's placeholder constants.
func NewSynthetic(est *Estimator) *Synthetic {
	if est == nil {
		est = NewEstimator()
	}
	return &Synthetic{
		anchors:   make(map[string]float64),
		est:       est,
		randFloat: secureFloat64,
		randInt:   secureInt63n,
		now:       time.Now,
	}
}

// WithRandSource overrides the randomness sources. Intended for tests.
func (s *Synthetic) WithRandSource(f func() float64, n func(int64) int64) *Synthetic {
	if f != nil {
		s.randFloat = f
	}
	if n != nil {
		s.randInt = n
	}
	return s
}

// Estimate returns the estimator's fill price for a contract, so the
// synthetic market doubles as the fill-price source and the mark source for
// open positions.
func (s *Synthetic) Estimate(c models.Contract) float64 {
	return s.est.Estimate(c)
}

// anchor returns the drifting per-symbol spot price, seeding new symbols
// around the estimator's placeholder underlying price.
func (s *Synthetic) anchor(symbol string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.anchors[symbol]
	if !ok {
		price = s.est.UnderlyingPrice * (0.8 + s.randFloat()*0.4)
	}
	// Small random walk per refresh.
	price += (s.randFloat() - 0.5) * 2
	if price < 1 {
		price = 1
	}
	s.anchors[symbol] = price
	return price
}

// GetQuote returns a synthetic quote for the underlying symbol.
func (s *Synthetic) GetQuote(symbol string) (*models.Quote, error) {
	spot := s.anchor(symbol)
	prev := spot * (0.99 + s.randFloat()*0.02)
	spread := 0.02

	change := spot - prev
	changePct := 0.0
	if prev != 0 {
		changePct = change / prev * 100
	}

	return &models.Quote{
		Symbol:    symbol,
		Last:      util.RoundToTick(spot, 0.01),
		Bid:       util.RoundToTick(spot-spread/2, 0.01),
		Ask:       util.RoundToTick(spot+spread/2, 0.01),
		PrevClose: util.RoundToTick(prev, 0.01),
		Change:    util.RoundToTick(change, 0.01),
		ChangePct: util.RoundToTick(changePct, 0.01),
		High:      util.RoundToTick(spot*1.01, 0.01),
		Low:       util.RoundToTick(spot*0.99, 0.01),
		Volume:    s.randInt(100_000_000),
		UpdatedAt: s.now().UTC(),
	}, nil
}

// GetExpirations returns the next four weekly expiration dates.
func (s *Synthetic) GetExpirations(string) ([]string, error) {
	today := s.now()
	out := make([]string, 0, 4)
	for i := 1; i <= 4; i++ {
		out = append(out, today.AddDate(0, 0, i*7).Format("2006-01-02"))
	}
	return out, nil
}

// GetOptionChain generates a chain of calls and puts with strikes spanning
// ±50% of the synthetic spot in 5% steps.
func (s *Synthetic) GetOptionChain(symbol, expiration string) ([]models.OptionQuote, error) {
	if _, err := time.Parse("2006-01-02", expiration); err != nil {
		return nil, fmt.Errorf("invalid expiration format: %w", err)
	}

	spot := s.anchor(symbol)
	chain := make([]models.OptionQuote, 0, 42)

	for i := -10; i <= 10; i++ {
		strike := util.RoundToTick(spot*(1+float64(i)*0.05), 0.01)
		if strike <= 0 {
			continue
		}
		for _, typ := range []models.OptionType{models.OptionTypeCall, models.OptionTypePut} {
			chain = append(chain, s.optionQuote(symbol, expiration, strike, spot, typ))
		}
	}
	return chain, nil
}

func (s *Synthetic) optionQuote(symbol, expiration string, strike, spot float64, typ models.OptionType) models.OptionQuote {
	intrinsic := math.Max(0, spot-strike)
	if typ == models.OptionTypePut {
		intrinsic = math.Max(0, strike-spot)
	}

	bid := math.Max(0.01, util.RoundToTick(intrinsic+0.3+s.randFloat()*1.2, 0.01))
	ask := math.Max(bid+0.01, util.RoundToTick(intrinsic+0.7+s.randFloat()*1.8, 0.01))
	last := util.RoundToTick(util.MidPrice(bid, ask), 0.01)

	contract := models.Contract{
		Underlying: symbol,
		Strike:     strike,
		Type:       typ,
	}
	if exp, err := time.Parse("2006-01-02", expiration); err == nil {
		contract.Expiration = exp
	}

	return models.OptionQuote{
		Symbol:            contract.OCCSymbol(),
		Underlying:        symbol,
		Expiration:        expiration,
		Strike:            strike,
		Type:              typ,
		Bid:               bid,
		Ask:               ask,
		Last:              last,
		Volume:            100 + s.randInt(4_900),
		OpenInterest:      500 + s.randInt(9_500),
		ImpliedVolatility: 0.2 + s.randFloat()*0.6,
	}
}
