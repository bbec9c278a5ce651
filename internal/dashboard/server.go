// Package dashboard serves the HTTP monitoring and order-entry surface.
package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/mhalpert/optiondesk/internal/broker"
	"github.com/mhalpert/optiondesk/internal/ledger"
	"github.com/mhalpert/optiondesk/internal/market"
	"github.com/mhalpert/optiondesk/internal/models"
)

//go:embed web/templates/*
var templateFS embed.FS

//go:embed web/static/*
var staticFS embed.FS

// TransactionSource exposes trade history. Only the simulated broker has
// one; live mode passes nil and /api/transactions returns an empty list.
type TransactionSource interface {
	Transactions() []ledger.Transaction
}

// Server hosts the dashboard and the JSON API in front of one broker.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	broker    broker.Broker
	poller    *market.Poller
	history   TransactionSource
	logger    *logrus.Logger
	port      int
	authToken string
}

// Config holds the dashboard listen settings.
type Config struct {
	Port      int
	AuthToken string
}

// NewServer builds the router. history may be nil.
func NewServer(cfg Config, b broker.Broker, poller *market.Poller,
	history TransactionSource, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:    chi.NewRouter(),
		broker:    b,
		poller:    poller,
		history:   history,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	// The embed FS is rooted at the package directory, so the assets live
	// under web/static/; serve the subtree so /static/style.css resolves.
	staticAssets, _ := fs.Sub(staticFS, "web/static")
	s.router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticAssets))))

	s.router.Get("/", s.handleIndex)
	s.router.Get("/health", s.handleHealth)

	s.router.Get("/api/account", s.handleGetAccount)
	s.router.Get("/api/positions", s.handleGetPositions)
	s.router.Get("/api/transactions", s.handleGetTransactions)
	s.router.Get("/api/tickers", s.handleGetTickers)
	s.router.Get("/api/market", s.handleGetMarketSnapshot)
	s.router.Get("/api/market/{ticker}", s.handleGetMarket)
	s.router.Post("/api/orders", s.handleSubmitOrder)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type indexData struct {
	Mode    string
	Account ledger.AccountSnapshot
	Tickers []string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	tmpl, err := template.ParseFS(templateFS, "web/templates/index.html")
	if err != nil {
		s.logger.WithError(err).Error("Failed to parse index template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	account, err := s.broker.GetAccount()
	if err != nil {
		s.logger.WithError(err).Error("Failed to load account")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := indexData{
		Mode:    s.broker.Name(),
		Account: account,
		Tickers: s.poller.Tickers(),
	}
	if err := tmpl.Execute(w, data); err != nil {
		s.logger.WithError(err).Error("Failed to execute index template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"mode":      s.broker.Name(),
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, _ *http.Request) {
	account, err := s.broker.GetAccount()
	if err != nil {
		s.logger.WithError(err).Error("Failed to load account")
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	s.writeJSON(w, account)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, _ *http.Request) {
	positions, err := s.broker.GetPositions()
	if err != nil {
		s.logger.WithError(err).Error("Failed to load positions")
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	s.writeJSON(w, positions)
}

func (s *Server) handleGetTransactions(w http.ResponseWriter, _ *http.Request) {
	txs := []ledger.Transaction{}
	if s.history != nil {
		txs = s.history.Transactions()
	}
	s.writeJSON(w, txs)
}

func (s *Server) handleGetTickers(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.poller.Tickers())
}

func (s *Server) handleGetMarketSnapshot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.poller.Snapshot())
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(chi.URLParam(r, "ticker"))
	data, ok := s.poller.Data(ticker)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, data)
}

// orderRequest is the POST /api/orders body.
type orderRequest struct {
	Underlying string   `json:"underlying"`
	Expiration string   `json:"expiration"` // YYYY-MM-DD
	Strike     float64  `json:"strike"`
	Type       string   `json:"type"` // call | put
	Side       string   `json:"side"` // buy | sell
	Quantity   int      `json:"qty"`
	LimitPrice *float64 `json:"limit_price,omitempty"`
}

// handleSubmitOrder places an order through the broker. Business rejections
// come back as 200 responses carrying a rejected receipt; only malformed
// requests and system faults map to HTTP errors.
func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid order request: "+err.Error(), http.StatusBadRequest)
		return
	}

	side := models.OrderSide(strings.ToLower(req.Side))
	if !side.Valid() {
		http.Error(w, "side must be 'buy' or 'sell'", http.StatusBadRequest)
		return
	}

	contract, err := models.NewContract(strings.ToUpper(req.Underlying), req.Expiration,
		req.Strike, models.OptionType(strings.ToLower(req.Type)))
	if err != nil {
		http.Error(w, "invalid contract: "+err.Error(), http.StatusBadRequest)
		return
	}

	receipt, err := s.broker.SubmitOrder(contract, side, req.Quantity, req.LimitPrice)
	if err != nil && receipt == nil {
		s.logger.WithError(err).Error("Order submission failed")
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("Order submission failed")
	}

	status := http.StatusOK
	if receipt.Status == models.StatusError {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(receipt); encErr != nil {
		s.logger.WithError(encErr).Error("Failed to encode receipt")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
