package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

// Engine is the subset of the ledger engine the HTTP API calls.
type Engine interface {
	OpenAccount(ctx context.Context, userID string, initialCash decimal.Decimal) (domain.Account, error)
	Quote(ctx context.Context, symbol string) (*domain.Quote, error)
	Trade(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error)
	ListTrades(ctx context.Context, userID string) ([]domain.TradeRecord, error)
	AvailableCash(ctx context.Context, userID string) (decimal.Decimal, error)
	NetShares(ctx context.Context, userID, symbol string) (int64, error)
	Portfolio(ctx context.Context, userID string) (domain.Portfolio, error)
	History(ctx context.Context, userID string) (domain.History, error)
}

// Server serves the papertrade HTTP API.
type Server struct {
	engine Engine
	stream http.Handler // websocket trade feed, may be nil
	log    *slog.Logger
}

// NewServer creates a new HTTP API server. stream may be nil to disable the
// websocket feed.
func NewServer(engine Engine, stream http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{engine: engine, stream: stream, log: log}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/v1/accounts", s.handleOpenAccount)
	mux.HandleFunc("GET /api/v1/quotes/{symbol}", s.handleQuote)
	mux.HandleFunc("POST /api/v1/users/{user}/trades", s.handleTrade)
	mux.HandleFunc("GET /api/v1/users/{user}/trades", s.handleListTrades)
	mux.HandleFunc("GET /api/v1/users/{user}/cash", s.handleCash)
	mux.HandleFunc("GET /api/v1/users/{user}/positions/{symbol}", s.handlePosition)
	mux.HandleFunc("GET /api/v1/users/{user}/portfolio", s.handlePortfolio)
	mux.HandleFunc("GET /api/v1/users/{user}/history", s.handleHistory)
	if s.stream != nil {
		mux.Handle("GET /api/v1/stream", s.stream)
	}
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownAccount), errors.Is(err, domain.ErrSymbolNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStorage):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	acct, err := s.engine.OpenAccount(r.Context(), req.UserID, req.InitialCash)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, acct)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q, err := s.engine.Quote(r.Context(), r.PathValue("symbol"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, q)
}

// handleTrade answers 201 for a committed trade and 422 with the reason for
// a rejected one. A storage failure after validation is a 503.
func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var body TradeRequestJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	req := domain.TradeRequest{
		UserID: r.PathValue("user"),
		Symbol: body.Symbol,
		Shares: body.Shares,
		Side:   domain.Side(body.Side),
	}
	if side, err := domain.ParseSide(body.Side); err == nil {
		req.Side = side
	}

	res, err := s.engine.Trade(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !res.Committed() {
		writeJSONStatus(w, http.StatusUnprocessableEntity, TradeResponse{Status: res.Status, Reason: res.Reason})
		return
	}
	rec := res.Record
	writeJSONStatus(w, http.StatusCreated, TradeResponse{Status: res.Status, Record: &rec})
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	recs, err := s.engine.ListTrades(r.Context(), r.PathValue("user"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []domain.TradeRecord{}
	}
	writeJSON(w, recs)
}

func (s *Server) handleCash(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	cash, err := s.engine.AvailableCash(r.Context(), user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, CashResponse{UserID: user, Cash: cash})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	symbol := domain.NormalizeSymbol(r.PathValue("symbol"))
	n, err := s.engine.NetShares(r.Context(), user, symbol)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, PositionResponse{UserID: user, Symbol: symbol, Shares: n})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Portfolio(r.Context(), r.PathValue("user"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, p)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	h, err := s.engine.History(r.Context(), r.PathValue("user"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, h)
}
