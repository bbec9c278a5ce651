package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mhalpert/optiondesk/internal/ledger"
	"github.com/mhalpert/optiondesk/internal/models"
)

const (
	tradierBaseURL        = "https://api.tradier.com/v1"
	tradierSandboxBaseURL = "https://sandbox.tradier.com/v1"

	maxErrorBodySize = 64 * 1024
)

// APIError represents an HTTP error from the Tradier API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.Status, e.Body)
}

// TradierAPI is a thin HTTP client for the Tradier brokerage API.
type TradierAPI struct {
	apiKey     string
	accountID  string
	baseURL    string
	httpClient *http.Client
}

// NewTradierAPI creates a Tradier API client. Sandbox mode points at the
// paper-trading host.
func NewTradierAPI(apiKey, accountID string, sandbox bool, timeout time.Duration) *TradierAPI {
	baseURL := tradierBaseURL
	if sandbox {
		baseURL = tradierSandboxBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TradierAPI{
		apiKey:    apiKey,
		accountID: accountID,
		baseURL:   baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// singleOrArray handles Tradier's habit of returning either a single object
// or an array for the same field.
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*s = nil
		return nil
	}
	if trimmed[0] == '[' {
		var arr []T
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return err
		}
		*s = arr
		return nil
	}
	var single T
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return err
	}
	*s = []T{single}
	return nil
}

type quoteItem struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	PrevClose float64 `json:"prevclose"`
	Change    float64 `json:"change"`
	ChangePct float64 `json:"change_percentage"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Volume    int64   `json:"volume"`
}

type quotesResponse struct {
	Quotes struct {
		Quote singleOrArray[quoteItem] `json:"quote"`
	} `json:"quotes"`
}

type expirationsResponse struct {
	Expirations struct {
		Date singleOrArray[string] `json:"date"`
	} `json:"expirations"`
}

type optionItem struct {
	Symbol         string  `json:"symbol"`
	Underlying     string  `json:"underlying"`
	Strike         float64 `json:"strike"`
	OptionType     string  `json:"option_type"`
	ExpirationDate string  `json:"expiration_date"`
	Bid            float64 `json:"bid"`
	Ask            float64 `json:"ask"`
	Last           float64 `json:"last"`
	Volume         int64   `json:"volume"`
	OpenInterest   int64   `json:"open_interest"`
	Greeks         *struct {
		MidIV float64 `json:"mid_iv"`
	} `json:"greeks,omitempty"`
}

type optionChainResponse struct {
	Options struct {
		Option singleOrArray[optionItem] `json:"option"`
	} `json:"options"`
}

type balancesResponse struct {
	Balances struct {
		TotalCash   float64 `json:"total_cash"`
		TotalEquity float64 `json:"total_equity"`
		MarketValue float64 `json:"market_value"`
		Margin      *struct {
			OptionBuyingPower float64 `json:"option_buying_power"`
		} `json:"margin,omitempty"`
		Cash *struct {
			CashAvailable float64 `json:"cash_available"`
		} `json:"cash,omitempty"`
	} `json:"balances"`
}

type positionItem struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	CostBasis    float64 `json:"cost_basis"`
	DateAcquired string  `json:"date_acquired"`
}

type positionsResponse struct {
	Positions json.RawMessage `json:"positions"`
}

type positionsWrapper struct {
	Position singleOrArray[positionItem] `json:"position"`
}

type orderResponse struct {
	Order struct {
		ID           int     `json:"id"`
		Status       string  `json:"status"`
		AvgFillPrice float64 `json:"avg_fill_price"`
	} `json:"order"`
}

// makeRequestCtx performs an HTTP request against the Tradier API and decodes
// the JSON response into result.
func (t *TradierAPI) makeRequestCtx(ctx context.Context, method, path string, body url.Values, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		reqBody = strings.NewReader(body.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return &APIError{Status: resp.StatusCode, Body: string(b)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// GetQuote fetches the latest quote for a single symbol.
func (t *TradierAPI) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	var resp quotesResponse
	path := "/markets/quotes?symbols=" + url.QueryEscape(symbol)
	if err := t.makeRequestCtx(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Quotes.Quote) == 0 {
		return nil, fmt.Errorf("no quote returned for %s", symbol)
	}
	q := resp.Quotes.Quote[0]
	return &models.Quote{
		Symbol:    q.Symbol,
		Last:      q.Last,
		Bid:       q.Bid,
		Ask:       q.Ask,
		PrevClose: q.PrevClose,
		Change:    q.Change,
		ChangePct: q.ChangePct,
		High:      q.High,
		Low:       q.Low,
		Volume:    q.Volume,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// GetExpirations returns available option expiration dates for a symbol.
func (t *TradierAPI) GetExpirations(ctx context.Context, symbol string) ([]string, error) {
	var resp expirationsResponse
	path := "/markets/options/expirations?symbol=" + url.QueryEscape(symbol)
	if err := t.makeRequestCtx(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return []string(resp.Expirations.Date), nil
}

// GetOptionChain returns the option chain for a symbol and expiration date
// (YYYY-MM-DD).
func (t *TradierAPI) GetOptionChain(ctx context.Context, symbol, expiration string) ([]models.OptionQuote, error) {
	var resp optionChainResponse
	path := fmt.Sprintf("/markets/options/chains?symbol=%s&expiration=%s&greeks=true",
		url.QueryEscape(symbol), url.QueryEscape(expiration))
	if err := t.makeRequestCtx(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	chain := make([]models.OptionQuote, 0, len(resp.Options.Option))
	for _, o := range resp.Options.Option {
		oq := models.OptionQuote{
			Symbol:       o.Symbol,
			Underlying:   o.Underlying,
			Expiration:   o.ExpirationDate,
			Strike:       o.Strike,
			Type:         models.OptionType(o.OptionType),
			Bid:          o.Bid,
			Ask:          o.Ask,
			Last:         o.Last,
			Volume:       o.Volume,
			OpenInterest: o.OpenInterest,
		}
		if o.Greeks != nil {
			oq.ImpliedVolatility = o.Greeks.MidIV
		}
		chain = append(chain, oq)
	}
	return chain, nil
}

// GetBalance returns account balances mapped into a snapshot.
func (t *TradierAPI) GetBalance(ctx context.Context) (ledger.AccountSnapshot, error) {
	var resp balancesResponse
	path := "/accounts/" + url.PathEscape(t.accountID) + "/balances"
	if err := t.makeRequestCtx(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return ledger.AccountSnapshot{}, err
	}

	b := resp.Balances
	buyingPower := b.TotalCash
	switch {
	case b.Margin != nil:
		buyingPower = b.Margin.OptionBuyingPower
	case b.Cash != nil:
		buyingPower = b.Cash.CashAvailable
	}
	return ledger.AccountSnapshot{
		Cash:           b.TotalCash,
		BuyingPower:    buyingPower,
		Equity:         b.TotalEquity,
		PortfolioValue: b.TotalCash + b.MarketValue,
	}, nil
}

// GetPositions returns open option positions. Equity positions and symbols
// that do not parse as OCC option symbols are skipped.
func (t *TradierAPI) GetPositions(ctx context.Context) ([]ledger.Position, error) {
	var resp positionsResponse
	path := "/accounts/" + url.PathEscape(t.accountID) + "/positions"
	if err := t.makeRequestCtx(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	// Tradier returns the string "null" when the account has no positions.
	trimmed := bytes.TrimSpace(resp.Positions)
	if len(trimmed) == 0 || trimmed[0] == '"' || string(trimmed) == "null" {
		return []ledger.Position{}, nil
	}
	var wrapper positionsWrapper
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to decode positions: %w", err)
	}

	positions := make([]ledger.Position, 0, len(wrapper.Position))
	for _, p := range wrapper.Position {
		contract, err := models.ParseOCCSymbol(p.Symbol)
		if err != nil {
			continue
		}
		qty := int(p.Quantity)
		if qty <= 0 {
			continue
		}
		avg := p.CostBasis / (float64(qty) * models.SharesPerContract)
		positions = append(positions, ledger.Position{
			Symbol:        p.Symbol,
			Underlying:    contract.Underlying,
			Expiration:    contract.Expiration,
			Strike:        contract.Strike,
			Type:          contract.Type,
			Quantity:      qty,
			AvgEntryPrice: avg,
		})
	}
	return positions, nil
}

// PlaceOptionOrder submits an option order and returns the broker order ID.
// Side is buy_to_open or sell_to_close; limit nil means a market order.
func (t *TradierAPI) PlaceOptionOrder(ctx context.Context, underlying, occSymbol, side string,
	qty int, limit *float64) (*orderResponse, error) {
	form := url.Values{}
	form.Set("class", "option")
	form.Set("symbol", underlying)
	form.Set("option_symbol", occSymbol)
	form.Set("side", side)
	form.Set("quantity", strconv.Itoa(qty))
	form.Set("duration", "day")
	if limit != nil {
		form.Set("type", "limit")
		form.Set("price", fmt.Sprintf("%.2f", *limit))
	} else {
		form.Set("type", "market")
	}

	var resp orderResponse
	path := "/accounts/" + url.PathEscape(t.accountID) + "/orders"
	if err := t.makeRequestCtx(ctx, http.MethodPost, path, form, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetOrderStatus fetches the current status of an order.
func (t *TradierAPI) GetOrderStatus(ctx context.Context, orderID int) (*orderResponse, error) {
	var resp orderResponse
	path := fmt.Sprintf("/accounts/%s/orders/%d", url.PathEscape(t.accountID), orderID)
	if err := t.makeRequestCtx(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TradierClient adapts TradierAPI to the Broker interface. All calls use a
// per-request timeout derived from the client's configuration.
type TradierClient struct {
	api     *TradierAPI
	timeout time.Duration
}

var _ Broker = (*TradierClient)(nil)

// NewTradierClient creates a live Broker backed by the Tradier API.
func NewTradierClient(apiKey, accountID string, sandbox bool, timeout time.Duration) *TradierClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TradierClient{
		api:     NewTradierAPI(apiKey, accountID, sandbox, timeout),
		timeout: timeout,
	}
}

// Verify checks connectivity by fetching account balances.
func (c *TradierClient) Verify() error {
	ctx, cancel := c.callCtx()
	defer cancel()
	if _, err := c.api.GetBalance(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNoBrokerConnection, err)
	}
	return nil
}

func (c *TradierClient) callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

// Name identifies this broker implementation.
func (c *TradierClient) Name() string { return "tradier" }

// GetAccount returns live account balances.
func (c *TradierClient) GetAccount() (ledger.AccountSnapshot, error) {
	ctx, cancel := c.callCtx()
	defer cancel()
	return c.api.GetBalance(ctx)
}

// GetPositions returns live open option positions.
func (c *TradierClient) GetPositions() ([]ledger.Position, error) {
	ctx, cancel := c.callCtx()
	defer cancel()
	return c.api.GetPositions(ctx)
}

// GetQuote returns a live quote.
func (c *TradierClient) GetQuote(symbol string) (*models.Quote, error) {
	ctx, cancel := c.callCtx()
	defer cancel()
	return c.api.GetQuote(ctx, symbol)
}

// GetExpirations returns live expiration dates.
func (c *TradierClient) GetExpirations(symbol string) ([]string, error) {
	ctx, cancel := c.callCtx()
	defer cancel()
	return c.api.GetExpirations(ctx, symbol)
}

// GetOptionChain returns a live option chain.
func (c *TradierClient) GetOptionChain(symbol, expiration string) ([]models.OptionQuote, error) {
	ctx, cancel := c.callCtx()
	defer cancel()
	return c.api.GetOptionChain(ctx, symbol, expiration)
}

// SubmitOrder places a live option order and polls its status once to pick
// up an immediate fill price. Broker-side rejections come back as rejected
// receipts; transport failures return a system-error receipt and the error.
func (c *TradierClient) SubmitOrder(contract models.Contract, side models.OrderSide,
	qty int, limit *float64) (*models.OrderReceipt, error) {
	ctx, cancel := c.callCtx()
	defer cancel()

	brokerSide := "buy_to_open"
	if side == models.SideSell {
		brokerSide = "sell_to_close"
	}

	resp, err := c.api.PlaceOptionOrder(ctx, contract.Underlying, contract.OCCSymbol(), brokerSide, qty, limit)
	if err != nil {
		r := models.SystemErrorReceipt(contract.OCCSymbol(), side, qty, limit, err.Error(), time.Now().UTC())
		return r, err
	}

	status := resp.Order.Status
	fillPrice := resp.Order.AvgFillPrice
	if statusRes, err := c.api.GetOrderStatus(ctx, resp.Order.ID); err == nil {
		status = statusRes.Order.Status
		fillPrice = statusRes.Order.AvgFillPrice
	}

	receipt := &models.OrderReceipt{
		ID:             uuid.NewString(),
		Symbol:         contract.OCCSymbol(),
		Side:           side,
		Quantity:       qty,
		OrderType:      orderTypeFor(limit),
		LimitPrice:     limit,
		FilledAvgPrice: fillPrice,
		CreatedAt:      time.Now().UTC(),
	}
	switch status {
	case "rejected", "canceled", "expired":
		receipt.Status = models.StatusRejected
		receipt.Err = true
		receipt.ErrorMessage = "Order " + status + " by broker"
	default:
		receipt.Status = models.StatusFilled
	}
	return receipt, nil
}

func orderTypeFor(limit *float64) string {
	if limit != nil {
		return "limit"
	}
	return "market"
}
