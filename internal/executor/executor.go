// Package executor implements order admission and fill simulation against the
// ledger. It is the only component that mutates ledger trade state; business
// rejections come back as receipts, never as Go errors.
package executor

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mhalpert/optiondesk/internal/ledger"
	"github.com/mhalpert/optiondesk/internal/models"
)

// Human-readable rejection reasons surfaced in receipts.
const (
	ReasonInsufficientBuyingPower = "Insufficient buying power"
	ReasonPositionNotFound        = "Position not found"
	ReasonInsufficientQuantity    = "Insufficient quantity"
	ReasonInvalidQuantity         = "Quantity must be a positive number of contracts"
)

// PriceEstimator produces a simulated fill price for a contract when the
// caller supplies no limit price.
type PriceEstimator interface {
	Estimate(c models.Contract) float64
}

// Executor validates and fills simulated orders against a single ledger.
// SubmitBuy and SubmitSell are serialized behind a mutex: if two submissions
// race, the second sees the first one's state, so a pair of buys can never
// both pass the buying-power check against stale balances.
type Executor struct {
	mu        sync.Mutex
	ledger    *ledger.Ledger
	estimator PriceEstimator
	logger    *logrus.Logger
	now       func() time.Time
}

// New creates an executor bound to one ledger instance.
func New(l *ledger.Ledger, estimator PriceEstimator, logger *logrus.Logger) *Executor {
	if l == nil {
		panic("executor.New: ledger must not be nil")
	}
	if estimator == nil {
		panic("executor.New: estimator must not be nil")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Executor{
		ledger:    l,
		estimator: estimator,
		logger:    logger,
		now:       time.Now,
	}
}

// SubmitBuy attempts to buy qty contracts of c. With a nil limit the fill
// price comes from the estimator. The order is all-or-nothing against the
// buying-power check; there are no partial fills.
func (e *Executor) SubmitBuy(c models.Contract, qty int, limit *float64) *models.OrderReceipt {
	e.mu.Lock()
	defer e.mu.Unlock()

	symbol := c.OCCSymbol()
	now := e.now().UTC()

	if qty <= 0 {
		return models.RejectedReceipt(symbol, models.SideBuy, qty, limit, ReasonInvalidQuantity, now)
	}

	fillPrice := e.resolvePrice(c, limit)
	orderID := uuid.NewString()

	_, err := e.ledger.ApplyBuy(c, orderID, qty, fillPrice, now)
	if err != nil {
		return e.receiptForError(err, symbol, models.SideBuy, qty, limit, now)
	}

	e.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"symbol":   symbol,
		"qty":      qty,
		"price":    fillPrice,
	}).Info("buy order filled")

	return e.filledReceipt(orderID, symbol, models.SideBuy, qty, limit, fillPrice, now)
}

// SubmitSell attempts to sell qty contracts of c. The position must exist and
// hold at least qty contracts before a fill price is even resolved.
func (e *Executor) SubmitSell(c models.Contract, qty int, limit *float64) *models.OrderReceipt {
	e.mu.Lock()
	defer e.mu.Unlock()

	symbol := c.OCCSymbol()
	now := e.now().UTC()

	if qty <= 0 {
		return models.RejectedReceipt(symbol, models.SideSell, qty, limit, ReasonInvalidQuantity, now)
	}

	pos, ok := e.ledger.Position(symbol)
	if !ok {
		return models.RejectedReceipt(symbol, models.SideSell, qty, limit, ReasonPositionNotFound, now)
	}
	if pos.Quantity < qty {
		return models.RejectedReceipt(symbol, models.SideSell, qty, limit, ReasonInsufficientQuantity, now)
	}

	fillPrice := e.resolvePrice(c, limit)
	orderID := uuid.NewString()

	tx, err := e.ledger.ApplySell(c, orderID, qty, fillPrice, now)
	if err != nil {
		return e.receiptForError(err, symbol, models.SideSell, qty, limit, now)
	}

	fields := logrus.Fields{
		"order_id": orderID,
		"symbol":   symbol,
		"qty":      qty,
		"price":    fillPrice,
	}
	if tx.RealizedPL != nil {
		fields["realized_pl"] = *tx.RealizedPL
	}
	e.logger.WithFields(fields).Info("sell order filled")

	return e.filledReceipt(orderID, symbol, models.SideSell, qty, limit, fillPrice, now)
}

// resolvePrice uses the caller's limit if given, else the estimator.
func (e *Executor) resolvePrice(c models.Contract, limit *float64) float64 {
	if limit != nil {
		return *limit
	}
	return e.estimator.Estimate(c)
}

func (e *Executor) filledReceipt(orderID, symbol string, side models.OrderSide, qty int,
	limit *float64, fillPrice float64, at time.Time) *models.OrderReceipt {
	orderType := "market"
	if limit != nil {
		orderType = "limit"
	}
	return &models.OrderReceipt{
		ID:             orderID,
		Symbol:         symbol,
		Status:         models.StatusFilled,
		Side:           side,
		Quantity:       qty,
		OrderType:      orderType,
		LimitPrice:     limit,
		FilledAvgPrice: fillPrice,
		CreatedAt:      at,
	}
}

// receiptForError maps ledger errors to receipt variants: business rules to
// rejections, everything else (persistence faults) to system-error receipts.
func (e *Executor) receiptForError(err error, symbol string, side models.OrderSide, qty int,
	limit *float64, at time.Time) *models.OrderReceipt {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBuyingPower):
		return models.RejectedReceipt(symbol, side, qty, limit, ReasonInsufficientBuyingPower, at)
	case errors.Is(err, ledger.ErrPositionNotFound):
		return models.RejectedReceipt(symbol, side, qty, limit, ReasonPositionNotFound, at)
	case errors.Is(err, ledger.ErrInsufficientQuantity):
		return models.RejectedReceipt(symbol, side, qty, limit, ReasonInsufficientQuantity, at)
	default:
		e.logger.WithError(err).Error("order failed with system error")
		return models.SystemErrorReceipt(symbol, side, qty, limit, err.Error(), at)
	}
}
