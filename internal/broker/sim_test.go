package broker

import (
	"io"
	"math"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/mhalpert/optiondesk/internal/executor"
	"github.com/mhalpert/optiondesk/internal/ledger"
	"github.com/mhalpert/optiondesk/internal/models"
	"github.com/mhalpert/optiondesk/internal/pricing"
)

func newTestSimBroker(t *testing.T) *SimBroker {
	t.Helper()
	path := filepath.Join(t.TempDir(), "portfolio.json")
	l, err := ledger.New(path, ledger.Config{})
	if err != nil {
		t.Fatalf("ledger.New failed: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	market := pricing.NewSynthetic(pricing.NewEstimator())
	exec := executor.New(l, market, logger)
	return NewSimBroker(l, exec, market)
}

func testContract(t *testing.T) models.Contract {
	t.Helper()
	c, err := models.NewContract("XYZ", "2026-10-16", 140, models.OptionTypeCall)
	if err != nil {
		t.Fatalf("NewContract failed: %v", err)
	}
	return c
}

func TestSimBrokerOrderRoundTrip(t *testing.T) {
	sim := newTestSimBroker(t)
	c := testContract(t)
	limit := 5.00

	buy, err := sim.SubmitOrder(c, models.SideBuy, 2, &limit)
	if err != nil {
		t.Fatalf("SubmitOrder returned error: %v", err)
	}
	if !buy.Filled() {
		t.Fatalf("buy not filled: %+v", buy)
	}

	positions, err := sim.GetPositions()
	if err != nil {
		t.Fatalf("GetPositions failed: %v", err)
	}
	if len(positions) != 1 || positions[0].Quantity != 2 {
		t.Fatalf("positions = %+v", positions)
	}

	sellLimit := 6.00
	sell, err := sim.SubmitOrder(c, models.SideSell, 2, &sellLimit)
	if err != nil {
		t.Fatalf("SubmitOrder returned error: %v", err)
	}
	if !sell.Filled() {
		t.Fatalf("sell not filled: %+v", sell)
	}

	account, err := sim.GetAccount()
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	// Bought at 5.00, sold at 6.00, 2 contracts: +200 realized.
	if math.Abs(account.Equity-100_200) > 1e-6 {
		t.Errorf("equity = %v, expected 100200", account.Equity)
	}

	if txs := sim.Transactions(); len(txs) != 2 {
		t.Errorf("expected 2 transactions, got %d", len(txs))
	}
}

func TestSimBrokerRejectionsComeBackAsReceipts(t *testing.T) {
	sim := newTestSimBroker(t)

	receipt, err := sim.SubmitOrder(testContract(t), models.SideSell, 1, nil)
	if err != nil {
		t.Fatalf("rejections must not surface as errors, got %v", err)
	}
	if receipt.Status != models.StatusRejected {
		t.Errorf("status = %q, expected rejected", receipt.Status)
	}
	if receipt.ErrorMessage != executor.ReasonPositionNotFound {
		t.Errorf("message = %q", receipt.ErrorMessage)
	}
}

func TestSimBrokerMarkPositions(t *testing.T) {
	sim := newTestSimBroker(t)
	c := testContract(t)
	limit := 5.00

	if r, _ := sim.SubmitOrder(c, models.SideBuy, 1, &limit); !r.Filled() {
		t.Fatalf("setup buy failed: %+v", r)
	}

	if err := sim.MarkPositions(); err != nil {
		t.Fatalf("MarkPositions failed: %v", err)
	}

	positions, _ := sim.GetPositions()
	if len(positions) != 1 {
		t.Fatalf("positions = %+v", positions)
	}
	pos := positions[0]
	if pos.CurrentPrice <= 0 {
		t.Errorf("current price = %v, expected a positive mark", pos.CurrentPrice)
	}
	if math.Abs(pos.MarketValue-pos.CurrentPrice*100) > 1e-6 {
		t.Errorf("market value %v inconsistent with mark %v", pos.MarketValue, pos.CurrentPrice)
	}
}

func TestSimBrokerMarketData(t *testing.T) {
	sim := newTestSimBroker(t)

	quote, err := sim.GetQuote("AAPL")
	if err != nil || quote.Symbol != "AAPL" {
		t.Fatalf("GetQuote = %+v, err %v", quote, err)
	}

	dates, err := sim.GetExpirations("AAPL")
	if err != nil || len(dates) != 4 {
		t.Fatalf("GetExpirations = %v, err %v", dates, err)
	}

	chain, err := sim.GetOptionChain("AAPL", dates[0])
	if err != nil || len(chain) == 0 {
		t.Fatalf("GetOptionChain returned %d quotes, err %v", len(chain), err)
	}

	if sim.Name() != "sim" {
		t.Errorf("Name() = %q", sim.Name())
	}
}
