// Package broker defines the brokerage boundary: a common interface served
// by the live Tradier client and by the simulated ledger-backed adapter, plus
// a circuit-breaker wrapper for the live path.
package broker

import (
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mhalpert/optiondesk/internal/ledger"
	"github.com/mhalpert/optiondesk/internal/models"
)

// ErrNoBrokerConnection is returned when live mode is selected but the
// brokerage is unreachable.
var ErrNoBrokerConnection = errors.New("no broker connection")

// MarketProvider supplies quotes and option chains. Both the live client and
// the synthetic generator satisfy this; the poller only depends on it.
type MarketProvider interface {
	GetQuote(symbol string) (*models.Quote, error)
	GetExpirations(symbol string) ([]string, error)
	GetOptionChain(symbol, expiration string) ([]models.OptionQuote, error)
}

// Broker is the full brokerage surface the dashboard consumes. The simulated
// and live paths share only this contract (and the receipt shape), not
// implementation.
type Broker interface {
	MarketProvider

	// Name identifies the implementation ("sim" or "tradier").
	Name() string

	// GetAccount returns account balances and the derived portfolio value.
	GetAccount() (ledger.AccountSnapshot, error)

	// GetPositions returns the open option positions.
	GetPositions() ([]ledger.Position, error)

	// SubmitOrder places an order. Business rejections come back inside the
	// receipt with a nil error; a non-nil error indicates a system fault.
	SubmitOrder(c models.Contract, side models.OrderSide, qty int, limit *float64) (*models.OrderReceipt, error)
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality so
// a flapping brokerage API fails fast instead of piling up requests.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// Ensure both wrappers implement Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// Name returns the wrapped broker's name.
func (c *CircuitBreakerBroker) Name() string {
	return c.broker.Name()
}

// GetAccount wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetAccount() (ledger.AccountSnapshot, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (ledger.AccountSnapshot, error) {
		return b.GetAccount()
	})
}

// GetPositions wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetPositions() ([]ledger.Position, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]ledger.Position, error) {
		return b.GetPositions()
	})
}

// GetQuote wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetQuote(symbol string) (*models.Quote, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.Quote, error) {
		return b.GetQuote(symbol)
	})
}

// GetExpirations wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetExpirations(symbol string) ([]string, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]string, error) {
		return b.GetExpirations(symbol)
	})
}

// GetOptionChain wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOptionChain(symbol, expiration string) ([]models.OptionQuote, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]models.OptionQuote, error) {
		return b.GetOptionChain(symbol, expiration)
	})
}

// SubmitOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) SubmitOrder(contract models.Contract, side models.OrderSide,
	qty int, limit *float64) (*models.OrderReceipt, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.OrderReceipt, error) {
		return b.SubmitOrder(contract, side, qty, limit)
	})
}
