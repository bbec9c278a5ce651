// Package pricing produces simulated option prices and synthetic market data
// for the paper-trading path. The pricing model is a deliberate toy: an
// intrinsic-value floor plus a volatility-scaled time value and uniform
// noise. It makes no claim to financial accuracy; its only contract is that
// the output lands within a bounded band around intrinsic + time value.
package pricing

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"github.com/mhalpert/optiondesk/internal/models"
	"github.com/mhalpert/optiondesk/internal/util"
)

// Placeholder market constants used when no live quote exists.
const (
	DefaultUnderlyingPrice = 150.0
	DefaultVolatility      = 0.30
)

// Noise band applied to every estimate.
const (
	noiseFloor = 0.9
	noiseSpan  = 0.2
)

// secureFloat64 generates a cryptographically secure random float64 in [0, 1).
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// secureInt63n generates a cryptographically secure random int64 in [0, n).
func secureInt63n(n int64) int64 {
	r, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return n / 2
	}
	return r.Int64()
}

// Estimator computes simulated fill prices for option contracts.
type Estimator struct {
	UnderlyingPrice float64
	Volatility      float64

	randFloat func() float64
	now       func() time.Time
}

// NewEstimator returns an estimator with the placeholder market constants
// and a crypto/rand noise source.
func NewEstimator() *Estimator {
	return &Estimator{
		UnderlyingPrice: DefaultUnderlyingPrice,
		Volatility:      DefaultVolatility,
		randFloat:       secureFloat64,
		now:             time.Now,
	}
}

// WithRandSource overrides the noise source. Intended for tests that need to
// pin the noise band.
func (e *Estimator) WithRandSource(f func() float64) *Estimator {
	if f != nil {
		e.randFloat = f
	}
	return e
}

// WithClock overrides the time source used for days-to-expiry.
func (e *Estimator) WithClock(now func() time.Time) *Estimator {
	if now != nil {
		e.now = now
	}
	return e
}

// Estimate returns a simulated price for c:
//
//	intrinsic = max(0, S-K) for calls, max(0, K-S) for puts
//	time      = S * vol * sqrt(dte/365)
//	price     = round((intrinsic + time) * uniform(0.9, 1.1), 0.01)
func (e *Estimator) Estimate(c models.Contract) float64 {
	intrinsic := e.Intrinsic(c)
	timeValue := e.TimeValue(c)
	noise := noiseFloor + e.randFloat()*noiseSpan
	return util.RoundToTick((intrinsic+timeValue)*noise, 0.01)
}

// Intrinsic returns the in-the-money amount of c against the placeholder
// underlying price.
func (e *Estimator) Intrinsic(c models.Contract) float64 {
	if c.Type == models.OptionTypeCall {
		return math.Max(0, e.UnderlyingPrice-c.Strike)
	}
	return math.Max(0, c.Strike-e.UnderlyingPrice)
}

// TimeValue returns the volatility-scaled time value for c's remaining life.
func (e *Estimator) TimeValue(c models.Contract) float64 {
	dte := float64(c.DTE(e.now()))
	return e.UnderlyingPrice * e.Volatility * math.Sqrt(dte/365.0)
}
