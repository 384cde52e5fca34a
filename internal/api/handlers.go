// Package api provides the HTTP boundary: JSON handlers over the settlement
// service and price cache, plus the WebSocket price broadcast hub.
//
// All monetary values use shopspring/decimal. Handlers decode, delegate,
// and map settlement errors to status codes; business rules live below.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradesim/exchange-engine/internal/model"
	"github.com/tradesim/exchange-engine/internal/pricecache"
	"github.com/tradesim/exchange-engine/internal/recovery"
	"github.com/tradesim/exchange-engine/internal/settle"
	"github.com/tradesim/exchange-engine/internal/store"
)

// Server bundles the handler dependencies.
type Server struct {
	store    store.Store
	cache    pricecache.Cache
	settle   *settle.Service
	recovery *recovery.Registry
	hub      *WSHub
	logger   *zap.Logger
}

// NewServer creates the HTTP handler set.
func NewServer(st store.Store, cache pricecache.Cache, svc *settle.Service, reg *recovery.Registry, hub *WSHub, logger *zap.Logger) *Server {
	return &Server{store: st, cache: cache, settle: svc, recovery: reg, hub: hub, logger: logger}
}

// Routes mounts all API routes on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/ws", s.hub.HandleWS)

	r.Post("/assets", s.CreateAsset)
	r.Get("/assets", s.ListAssets)
	r.Get("/assets/{assetID}/price", s.GetPrice)
	r.Get("/assets/{assetID}/history", s.GetPriceHistory)

	r.Post("/users", s.CreateUser)
	r.Get("/users/{userID}", s.GetUser)
	r.Post("/users/{userID}/recovery", s.IssueRecoveryCode)
	r.Post("/recovery/redeem", s.RedeemRecoveryCode)

	r.Post("/market/buy", s.MarketBuy)
	r.Post("/market/sell", s.MarketSell)

	r.Post("/orders", s.CreateOrder)
	r.Post("/orders/{orderID}/fill", s.FillOrder)
	r.Post("/orders/{orderID}/cancel", s.CancelOrder)
}

// --- Request types ---

// CreateAssetRequest is the JSON body for asset creation.
type CreateAssetRequest struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// CreateUserRequest is the JSON body for user creation.
type CreateUserRequest struct {
	Balance decimal.Decimal `json:"balance"`
}

// MarketTradeRequest is the JSON body for POST /market/buy and /market/sell.
type MarketTradeRequest struct {
	UserID  int64           `json:"user_id"`
	AssetID int64           `json:"asset_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// CreateOrderRequest is the JSON body for POST /orders.
type CreateOrderRequest struct {
	UserID  int64           `json:"user_id"`
	AssetID int64           `json:"asset_id"`
	Side    string          `json:"side"` // "buy" or "sell"
	Price   decimal.Decimal `json:"price"`
	Amount  decimal.Decimal `json:"amount"`
}

// OrderActionRequest is the JSON body for fill and cancel.
type OrderActionRequest struct {
	UserID int64 `json:"user_id"`
}

// PriceResponse is returned from GET /assets/{assetID}/price.
type PriceResponse struct {
	AssetID   int64           `json:"asset_id"`
	Price     decimal.Decimal `json:"price"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// HistoryResponse is returned from GET /assets/{assetID}/history.
type HistoryResponse struct {
	AssetID int64                     `json:"asset_id"`
	Points  []pricecache.HistoryPoint `json:"points"`
}

// --- Handlers ---

// CreateAsset handles POST /api/v1/assets.
func (s *Server) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req CreateAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}

	asset := &model.Asset{Symbol: req.Symbol, Name: req.Name}
	if err := s.store.CreateAsset(r.Context(), asset); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	s.logger.Info("asset created", zap.Int64("id", asset.ID), zap.String("symbol", asset.Symbol))
	writeJSON(w, http.StatusCreated, asset)
}

// ListAssets handles GET /api/v1/assets.
func (s *Server) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.store.ListAssets(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

// GetPrice handles GET /api/v1/assets/{assetID}/price.
func (s *Server) GetPrice(w http.ResponseWriter, r *http.Request) {
	assetID, ok := pathInt64(w, r, "assetID")
	if !ok {
		return
	}

	rec, err := s.cache.Current(r.Context(), assetID)
	if errors.Is(err, pricecache.ErrNoPrice) {
		writeError(w, "no price available", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, PriceResponse{
		AssetID:   assetID,
		Price:     rec.Price,
		UpdatedAt: rec.UpdatedAt,
	})
}

// GetPriceHistory handles GET /api/v1/assets/{assetID}/history. The optional
// "from" query parameter is RFC 3339; default is 24 hours ago.
func (s *Server) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	assetID, ok := pathInt64(w, r, "assetID")
	if !ok {
		return
	}

	from := time.Now().UTC().Add(-pricecache.HistoryRetention)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, "invalid from timestamp", http.StatusBadRequest)
			return
		}
		from = parsed
	}

	points, err := s.cache.History(r.Context(), assetID, from)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if points == nil {
		points = []pricecache.HistoryPoint{}
	}

	writeJSON(w, http.StatusOK, HistoryResponse{AssetID: assetID, Points: points})
}

// CreateUser handles POST /api/v1/users.
func (s *Server) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Balance.IsNegative() {
		writeError(w, "balance must not be negative", http.StatusBadRequest)
		return
	}

	user := &model.User{Balance: req.Balance.Round(model.DecimalScale)}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// GetUser handles GET /api/v1/users/{userID}.
func (s *Server) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt64(w, r, "userID")
	if !ok {
		return
	}

	user, err := s.store.GetUser(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "user not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// MarketBuy handles POST /api/v1/market/buy.
func (s *Server) MarketBuy(w http.ResponseWriter, r *http.Request) {
	var req MarketTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := s.settle.MarketBuy(r.Context(), req.UserID, req.AssetID, req.Amount)
	if err != nil {
		writeSettleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// MarketSell handles POST /api/v1/market/sell.
func (s *Server) MarketSell(w http.ResponseWriter, r *http.Request) {
	var req MarketTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := s.settle.MarketSell(r.Context(), req.UserID, req.AssetID, req.Amount)
	if err != nil {
		writeSettleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// CreateOrder handles POST /api/v1/orders.
func (s *Server) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := s.settle.CreateOrder(r.Context(), req.UserID, req.AssetID, req.Side, req.Price, req.Amount)
	if err != nil {
		writeSettleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// FillOrder handles POST /api/v1/orders/{orderID}/fill. The body carries the
// filling user.
func (s *Server) FillOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := s.settle.FillOrder(r.Context(), req.UserID, chi.URLParam(r, "orderID"))
	if err != nil {
		writeSettleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CancelOrder handles POST /api/v1/orders/{orderID}/cancel. The body carries
// the order owner.
func (s *Server) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := s.settle.CancelOrder(r.Context(), req.UserID, chi.URLParam(r, "orderID"))
	if err != nil {
		writeSettleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// --- Helpers ---

func pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

// writeSettleError maps settlement errors onto HTTP status codes: bad input
// is 400, missing entities 404, rejected-state transitions 409, and a cold
// price cache 503 because retrying after the next synthesis cycle succeeds.
func writeSettleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, settle.ErrInvalidArgument):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, settle.ErrUserNotFound),
		errors.Is(err, settle.ErrOrderNotFound),
		errors.Is(err, settle.ErrNoHolding):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, settle.ErrInsufficientFunds),
		errors.Is(err, settle.ErrInsufficientHoldings),
		errors.Is(err, settle.ErrInvalidState):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, settle.ErrPriceUnavailable):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
