package broker

import (
	"github.com/mhalpert/optiondesk/internal/executor"
	"github.com/mhalpert/optiondesk/internal/ledger"
	"github.com/mhalpert/optiondesk/internal/models"
	"github.com/mhalpert/optiondesk/internal/pricing"
)

// SimBroker serves the Broker interface from the local ledger, the order
// executor, and the synthetic market generator. It is the default mode: no
// credentials, no network, persistent simulated account.
type SimBroker struct {
	ledger *ledger.Ledger
	exec   *executor.Executor
	market *pricing.Synthetic
}

var _ Broker = (*SimBroker)(nil)

// NewSimBroker wires a simulated broker over an existing ledger, executor and
// synthetic market. All three must be non-nil.
func NewSimBroker(l *ledger.Ledger, exec *executor.Executor, market *pricing.Synthetic) *SimBroker {
	if l == nil || exec == nil || market == nil {
		panic("broker.NewSimBroker: ledger, executor and market must not be nil")
	}
	return &SimBroker{ledger: l, exec: exec, market: market}
}

// Name identifies this broker implementation.
func (s *SimBroker) Name() string { return "sim" }

// GetAccount returns the ledger's account snapshot.
func (s *SimBroker) GetAccount() (ledger.AccountSnapshot, error) {
	return s.ledger.AccountSnapshot(), nil
}

// GetPositions returns the ledger's open positions.
func (s *SimBroker) GetPositions() ([]ledger.Position, error) {
	return s.ledger.Positions(), nil
}

// GetQuote returns a synthetic quote.
func (s *SimBroker) GetQuote(symbol string) (*models.Quote, error) {
	return s.market.GetQuote(symbol)
}

// GetExpirations returns synthetic expiration dates.
func (s *SimBroker) GetExpirations(symbol string) ([]string, error) {
	return s.market.GetExpirations(symbol)
}

// GetOptionChain returns a synthetic option chain.
func (s *SimBroker) GetOptionChain(symbol, expiration string) ([]models.OptionQuote, error) {
	return s.market.GetOptionChain(symbol, expiration)
}

// SubmitOrder routes the order through the executor. The error return is
// always nil here: simulated rejections and persistence faults are both
// reported inside the receipt.
func (s *SimBroker) SubmitOrder(c models.Contract, side models.OrderSide,
	qty int, limit *float64) (*models.OrderReceipt, error) {
	if side == models.SideSell {
		return s.exec.SubmitSell(c, qty, limit), nil
	}
	return s.exec.SubmitBuy(c, qty, limit), nil
}

// Transactions exposes the ledger history for the dashboard. It is not part
// of the Broker interface; live mode has no equivalent.
func (s *SimBroker) Transactions() []ledger.Transaction {
	return s.ledger.Transactions()
}

// MarkPositions re-prices open positions through the estimator. The poller
// calls this each cycle so stored market values stay current.
func (s *SimBroker) MarkPositions() error {
	positions := s.ledger.Positions()
	if len(positions) == 0 {
		return nil
	}
	marks := make(map[string]float64, len(positions))
	for _, pos := range positions {
		c := models.Contract{
			Underlying: pos.Underlying,
			Expiration: pos.Expiration,
			Strike:     pos.Strike,
			Type:       pos.Type,
		}
		marks[pos.Symbol] = s.market.Estimate(c)
	}
	return s.ledger.UpdateMarketValues(marks)
}
