// Package market runs the background quote poller and holds its read cache.
package market

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mhalpert/optiondesk/internal/broker"
	"github.com/mhalpert/optiondesk/internal/models"
)

// DefaultRefreshInterval is used when the configured interval is missing or
// non-positive.
const DefaultRefreshInterval = 30 * time.Second

// TickerData is one ticker's cached market view, replaced wholesale on each
// refresh.
type TickerData struct {
	Quote       models.Quote         `json:"quote"`
	Expirations []string             `json:"expirations"`
	Chain       []models.OptionQuote `json:"chain"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// PositionMarker refreshes stored position marks from current prices. The
// simulated broker implements it; live mode passes nil.
type PositionMarker interface {
	MarkPositions() error
}

// Poller periodically fetches quotes and near-term option chains for a fixed
// set of tickers. A failure on one ticker is logged and skipped; the cache
// keeps that ticker's previous data.
type Poller struct {
	provider broker.MarketProvider
	marker   PositionMarker
	tickers  []string
	interval time.Duration
	logger   *logrus.Logger

	mu    sync.RWMutex
	cache map[string]TickerData
}

// NewPoller creates a poller over the given market provider. marker may be
// nil when there is no local ledger to mark.
func NewPoller(provider broker.MarketProvider, marker PositionMarker, tickers []string,
	interval time.Duration, logger *logrus.Logger) *Poller {
	if provider == nil {
		panic("market.NewPoller: provider must not be nil")
	}
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Poller{
		provider: provider,
		marker:   marker,
		tickers:  append([]string(nil), tickers...),
		interval: interval,
		logger:   logger,
		cache:    make(map[string]TickerData),
	}
}

// Run refreshes all tickers immediately, then on every interval tick until
// the context is cancelled. It always returns ctx.Err().
func (p *Poller) Run(ctx context.Context) error {
	p.refreshAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.refreshAll(ctx)
		}
	}
}

// refreshAll updates every ticker and then re-marks positions. Cancellation
// between tickers stops the cycle early.
func (p *Poller) refreshAll(ctx context.Context) {
	for _, symbol := range p.tickers {
		if ctx.Err() != nil {
			return
		}
		if err := p.refresh(symbol); err != nil {
			p.logger.WithError(err).WithField("ticker", symbol).Warn("market refresh failed")
		}
	}
	if p.marker != nil {
		if err := p.marker.MarkPositions(); err != nil {
			p.logger.WithError(err).Warn("failed to mark positions")
		}
	}
}

// refresh fetches a quote, the expiration list, and the nearest expiration's
// chain for one ticker, then swaps the cache entry.
func (p *Poller) refresh(symbol string) error {
	quote, err := p.provider.GetQuote(symbol)
	if err != nil {
		return err
	}

	expirations, err := p.provider.GetExpirations(symbol)
	if err != nil {
		return err
	}

	var chain []models.OptionQuote
	if len(expirations) > 0 {
		chain, err = p.provider.GetOptionChain(symbol, expirations[0])
		if err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.cache[symbol] = TickerData{
		Quote:       *quote,
		Expirations: expirations,
		Chain:       chain,
		UpdatedAt:   time.Now().UTC(),
	}
	p.mu.Unlock()
	return nil
}

// Data returns the cached view for one ticker.
func (p *Poller) Data(symbol string) (TickerData, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.cache[symbol]
	return d, ok
}

// Snapshot returns a copy of the whole cache.
func (p *Poller) Snapshot() map[string]TickerData {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]TickerData, len(p.cache))
	for k, v := range p.cache {
		out[k] = v
	}
	return out
}

// Tickers returns the configured ticker list, sorted.
func (p *Poller) Tickers() []string {
	out := append([]string(nil), p.tickers...)
	sort.Strings(out)
	return out
}
