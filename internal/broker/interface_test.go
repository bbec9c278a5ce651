package broker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mhalpert/optiondesk/internal/ledger"
	"github.com/mhalpert/optiondesk/internal/models"
)

type flakyBroker struct {
	err   error
	calls int
}

func (f *flakyBroker) Name() string { return "flaky" }

func (f *flakyBroker) GetAccount() (ledger.AccountSnapshot, error) {
	f.calls++
	if f.err != nil {
		return ledger.AccountSnapshot{}, f.err
	}
	return ledger.AccountSnapshot{Cash: 123}, nil
}

func (f *flakyBroker) GetPositions() ([]ledger.Position, error) { return nil, f.err }

func (f *flakyBroker) GetQuote(symbol string) (*models.Quote, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Quote{Symbol: symbol}, nil
}

func (f *flakyBroker) GetExpirations(string) ([]string, error) { return nil, f.err }

func (f *flakyBroker) GetOptionChain(string, string) ([]models.OptionQuote, error) {
	return nil, f.err
}

func (f *flakyBroker) SubmitOrder(models.Contract, models.OrderSide, int, *float64) (*models.OrderReceipt, error) {
	return nil, f.err
}

func TestCircuitBreakerPassesThroughOnSuccess(t *testing.T) {
	cb := NewCircuitBreakerBroker(&flakyBroker{})

	snap, err := cb.GetAccount()
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if snap.Cash != 123 {
		t.Errorf("cash = %v", snap.Cash)
	}
	if cb.Name() != "flaky" {
		t.Errorf("Name() = %q", cb.Name())
	}
}

func TestCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	inner := &flakyBroker{err: errors.New("api down")}
	cb := NewCircuitBreakerBrokerWithSettings(inner, CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.5,
	})

	for i := 0; i < 3; i++ {
		if _, err := cb.GetAccount(); err == nil {
			t.Fatal("expected failure from inner broker")
		}
	}

	callsBefore := inner.calls
	_, err := cb.GetAccount()
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if inner.calls != callsBefore {
		t.Error("open circuit must not reach the inner broker")
	}
}
