package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderSide indicates buy or sell.
type OrderSide string

const (
	// SideBuy opens or increases a position
	SideBuy OrderSide = "buy"
	// SideSell reduces or closes a position
	SideSell OrderSide = "sell"
)

// Valid returns true if the OrderSide is one of the defined constants
func (s OrderSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderStatus is the terminal state of a submitted order.
type OrderStatus string

const (
	// StatusFilled means the order executed in full at FilledAvgPrice.
	StatusFilled OrderStatus = "filled"
	// StatusRejected means a business rule declined the order; retrying with
	// the same parameters will fail again.
	StatusRejected OrderStatus = "rejected"
	// StatusError means a system-level fault (persistence, connectivity);
	// the order may be retried once the fault is resolved.
	StatusError OrderStatus = "error"
)

// OrderReceipt is the transient result of an order submission. Rejections
// are encoded here rather than returned as Go errors: callers must check
// Status before trusting the fill fields.
type OrderReceipt struct {
	ID             string      `json:"id"`
	Symbol         string      `json:"symbol"`
	Status         OrderStatus `json:"status"`
	Side           OrderSide   `json:"side"`
	Quantity       int         `json:"qty"`
	OrderType      string      `json:"type"` // market | limit
	LimitPrice     *float64    `json:"limit_price,omitempty"`
	FilledAvgPrice float64     `json:"filled_avg_price,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	Err            bool        `json:"error,omitempty"`
	ErrorMessage   string      `json:"error_message,omitempty"`
}

// Filled reports whether the order executed.
func (r *OrderReceipt) Filled() bool {
	return r.Status == StatusFilled
}

// RejectedReceipt builds a business-rule rejection receipt. The reason is
// human readable ("Insufficient buying power"); state must be unchanged.
func RejectedReceipt(symbol string, side OrderSide, qty int, limit *float64, reason string, at time.Time) *OrderReceipt {
	return &OrderReceipt{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Status:       StatusRejected,
		Side:         side,
		Quantity:     qty,
		OrderType:    orderType(limit),
		LimitPrice:   limit,
		CreatedAt:    at,
		Err:          true,
		ErrorMessage: reason,
	}
}

// SystemErrorReceipt builds a system-level failure receipt, distinguished
// from rejections so callers know a retry may be sensible.
func SystemErrorReceipt(symbol string, side OrderSide, qty int, limit *float64, reason string, at time.Time) *OrderReceipt {
	r := RejectedReceipt(symbol, side, qty, limit, reason, at)
	r.Status = StatusError
	return r
}

func orderType(limit *float64) string {
	if limit != nil {
		return "limit"
	}
	return "market"
}
