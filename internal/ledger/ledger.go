// Package ledger implements the simulated brokerage account: cash, buying
// power, open option positions, and an append-only transaction log, persisted
// as a single JSON snapshot file.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mhalpert/optiondesk/internal/models"
)

// SchemaVersion tags the persisted snapshot so the format can evolve safely.
const SchemaVersion = 1

// Defaults for a freshly initialized simulated account.
const (
	DefaultStartingCash   = 100_000.0
	DefaultMarginMultiple = 2.0
)

// Position is one open option position, keyed by its OCC symbol.
type Position struct {
	Symbol        string            `json:"symbol"`
	Underlying    string            `json:"underlying"`
	Expiration    time.Time         `json:"expiration"`
	Strike        float64           `json:"strike"`
	Type          models.OptionType `json:"type"`
	Quantity      int               `json:"quantity"`
	AvgEntryPrice float64           `json:"avg_entry_price"`
	CurrentPrice  float64           `json:"current_price"`
	MarketValue   float64           `json:"market_value"`
	UnrealizedPL  float64           `json:"unrealized_pl"`
}

// Transaction is an immutable record of one accepted order.
type Transaction struct {
	ID         string           `json:"id"`
	OrderID    string           `json:"order_id"`
	Symbol     string           `json:"symbol"`
	Side       models.OrderSide `json:"side"`
	Quantity   int              `json:"qty"`
	Price      float64          `json:"price"`
	RealizedPL *float64         `json:"realized_pl,omitempty"` // sells only
	Timestamp  time.Time        `json:"timestamp"`
}

// AccountSnapshot is a point-in-time copy of the account fields plus the
// derived portfolio value.
type AccountSnapshot struct {
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buying_power"`
	// Equity tracks starting cash plus realized P&L only. Unrealized P&L is
	// deliberately excluded; the mark-to-market view is PortfolioValue.
	// Cash, BuyingPower, and Equity are updated independently per order,
	// exactly mirroring the order semantics, and are not derived from one
	// another.
	Equity         float64 `json:"equity"`
	PortfolioValue float64 `json:"portfolio_value"`
}

// snapshot is the on-disk representation. The whole structure is rewritten
// on every mutation; there is no incremental append.
type snapshot struct {
	SchemaVersion int           `json:"schema_version"`
	Cash          float64       `json:"cash"`
	BuyingPower   float64       `json:"buying_power"`
	Equity        float64       `json:"equity"`
	Positions     []Position    `json:"positions"`
	Transactions  []Transaction `json:"transactions"`
	LastUpdated   time.Time     `json:"last_updated"`
}

// Config controls initialization of a new ledger file.
type Config struct {
	StartingCash   float64
	MarginMultiple float64
}

// Ledger owns the simulated account state. All methods are goroutine-safe;
// order mutations additionally validate and apply under one critical section
// so concurrent submissions cannot both pass the buying-power check.
type Ledger struct {
	mu       sync.RWMutex
	filepath string
	data     *snapshot
}

// New opens the ledger at filepath, loading an existing snapshot if present.
// A missing file initializes a fresh account and persists it immediately.
// A file that exists but cannot be parsed is a hard error (ErrCorruptSnapshot)
// so that a damaged ledger is never silently replaced with defaults.
func New(filepath string, cfg Config) (*Ledger, error) {
	if cfg.StartingCash <= 0 {
		cfg.StartingCash = DefaultStartingCash
	}
	if cfg.MarginMultiple < 1 {
		cfg.MarginMultiple = DefaultMarginMultiple
	}

	l := &Ledger{filepath: filepath}

	raw, err := os.ReadFile(filepath) // #nosec G304 -- filepath comes from operator config
	switch {
	case err == nil:
		var data snapshot
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, filepath, err)
		}
		if data.SchemaVersion > SchemaVersion {
			return nil, fmt.Errorf("%w: %s: schema version %d is newer than supported %d",
				ErrCorruptSnapshot, filepath, data.SchemaVersion, SchemaVersion)
		}
		data.SchemaVersion = SchemaVersion
		l.data = &data
	case os.IsNotExist(err):
		l.data = &snapshot{
			SchemaVersion: SchemaVersion,
			Cash:          cfg.StartingCash,
			BuyingPower:   cfg.StartingCash * cfg.MarginMultiple,
			Equity:        cfg.StartingCash,
		}
		if err := l.save(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("reading ledger snapshot %s: %w", filepath, err)
	}

	return l, nil
}

// save serializes the full state to a temp file and renames it into place.
// Callers must hold l.mu.
func (l *Ledger) save() error {
	l.data.LastUpdated = time.Now().UTC()

	raw, err := json.MarshalIndent(l.data, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshaling snapshot: %v", ErrPersistenceFailure, err)
	}

	tmp := l.filepath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	if err := os.Rename(tmp, l.filepath); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	return nil
}

// AccountSnapshot returns a copy of the account fields plus the derived
// portfolio value (cash + sum of position market values).
func (l *Ledger) AccountSnapshot() AccountSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pv := l.data.Cash
	for i := range l.data.Positions {
		pv += l.data.Positions[i].MarketValue
	}
	return AccountSnapshot{
		Cash:           l.data.Cash,
		BuyingPower:    l.data.BuyingPower,
		Equity:         l.data.Equity,
		PortfolioValue: pv,
	}
}

// Positions returns a copy of the open position set, sorted by symbol.
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Position, len(l.data.Positions))
	copy(out, l.data.Positions)
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Position returns the open position for symbol, if any.
func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if i := l.indexOf(symbol); i >= 0 {
		return l.data.Positions[i], true
	}
	return Position{}, false
}

// Transactions returns a copy of the transaction log, oldest first.
func (l *Ledger) Transactions() []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Transaction, len(l.data.Transactions))
	copy(out, l.data.Transactions)
	return out
}

// cloneLocked copies the snapshot so a failed save can roll back cleanly.
// Callers hold l.mu.
func (l *Ledger) cloneLocked() *snapshot {
	cp := *l.data
	cp.Positions = make([]Position, len(l.data.Positions))
	copy(cp.Positions, l.data.Positions)
	cp.Transactions = make([]Transaction, len(l.data.Transactions))
	copy(cp.Transactions, l.data.Transactions)
	return &cp
}

// indexOf returns the position index for symbol or -1. Callers hold l.mu.
func (l *Ledger) indexOf(symbol string) int {
	for i := range l.data.Positions {
		if l.data.Positions[i].Symbol == symbol {
			return i
		}
	}
	return -1
}

// ApplyBuy validates a buy against buying power and, on acceptance, debits
// cash and buying power by cost, upserts the position with a quantity-weighted
// average entry price, appends a transaction, and persists. The validation
// and mutation happen under one lock so concurrent buys cannot overdraft.
func (l *Ledger) ApplyBuy(c models.Contract, orderID string, qty int, fillPrice float64, ts time.Time) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cost := fillPrice * float64(qty) * models.SharesPerContract
	if cost > l.data.BuyingPower {
		return Transaction{}, ErrInsufficientBuyingPower
	}

	backup := l.cloneLocked()
	l.data.Cash -= cost
	l.data.BuyingPower -= cost

	symbol := c.OCCSymbol()
	if i := l.indexOf(symbol); i >= 0 {
		pos := &l.data.Positions[i]
		oldQty := float64(pos.Quantity)
		newQty := oldQty + float64(qty)
		pos.AvgEntryPrice = (pos.AvgEntryPrice*oldQty + fillPrice*float64(qty)) / newQty
		pos.Quantity += qty
		pos.CurrentPrice = fillPrice
		l.markPosition(pos)
	} else {
		pos := Position{
			Symbol:        symbol,
			Underlying:    c.Underlying,
			Expiration:    c.Expiration,
			Strike:        c.Strike,
			Type:          c.Type,
			Quantity:      qty,
			AvgEntryPrice: fillPrice,
			CurrentPrice:  fillPrice,
		}
		l.markPosition(&pos)
		l.data.Positions = append(l.data.Positions, pos)
	}

	tx := Transaction{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Symbol:    symbol,
		Side:      models.SideBuy,
		Quantity:  qty,
		Price:     fillPrice,
		Timestamp: ts,
	}
	l.data.Transactions = append(l.data.Transactions, tx)

	if err := l.save(); err != nil {
		l.data = backup
		return Transaction{}, err
	}
	return tx, nil
}

// ApplySell validates a sell against the held position and, on acceptance,
// credits cash and buying power by proceeds, adds realized P&L to equity,
// reduces (or removes) the position, appends a transaction, and persists.
// AvgEntryPrice is left unchanged on partial sells: the cost basis per
// remaining contract is unaffected by a sale.
func (l *Ledger) ApplySell(c models.Contract, orderID string, qty int, fillPrice float64, ts time.Time) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	symbol := c.OCCSymbol()
	i := l.indexOf(symbol)
	if i < 0 {
		return Transaction{}, ErrPositionNotFound
	}
	pos := &l.data.Positions[i]
	if pos.Quantity < qty {
		return Transaction{}, ErrInsufficientQuantity
	}

	proceeds := fillPrice * float64(qty) * models.SharesPerContract
	realized := (fillPrice - pos.AvgEntryPrice) * float64(qty) * models.SharesPerContract

	backup := l.cloneLocked()
	l.data.Cash += proceeds
	l.data.BuyingPower += proceeds
	l.data.Equity += realized

	if pos.Quantity == qty {
		l.data.Positions = append(l.data.Positions[:i], l.data.Positions[i+1:]...)
	} else {
		pos.Quantity -= qty
		l.markPosition(pos)
	}

	tx := Transaction{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		Symbol:     symbol,
		Side:       models.SideSell,
		Quantity:   qty,
		Price:      fillPrice,
		RealizedPL: &realized,
		Timestamp:  ts,
	}
	l.data.Transactions = append(l.data.Transactions, tx)

	if err := l.save(); err != nil {
		l.data = backup
		return Transaction{}, err
	}
	return tx, nil
}

// UpdateMarketValues overwrites the current price of every position present
// in prices, recomputes market value and unrealized P&L, and persists once.
// Positions absent from the mapping are untouched.
func (l *Ledger) UpdateMarketValues(prices map[string]float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	changed := false
	for i := range l.data.Positions {
		pos := &l.data.Positions[i]
		price, ok := prices[pos.Symbol]
		if !ok {
			continue
		}
		pos.CurrentPrice = price
		l.markPosition(pos)
		changed = true
	}

	if !changed {
		return nil
	}
	return l.save()
}

// markPosition recomputes the derived fields from quantity and current price.
// Callers hold l.mu.
func (l *Ledger) markPosition(pos *Position) {
	qty := float64(pos.Quantity)
	pos.MarketValue = qty * pos.CurrentPrice * models.SharesPerContract
	pos.UnrealizedPL = (pos.CurrentPrice - pos.AvgEntryPrice) * qty * models.SharesPerContract
}
