package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/honeynil/ShopLedgerService/internal/infrastructure/auth"
	"github.com/honeynil/ShopLedgerService/internal/models"
	service "github.com/honeynil/ShopLedgerService/internal/services"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"github.com/shopspring/decimal"
)

type Handler struct {
	members    *service.MemberService
	recharges  *service.RechargeService
	orders     *service.OrderService
	activities *service.ActivitySelector
	reconciler *service.Reconciler
	sweeper    *service.Sweeper
	tokens     *auth.TokenService
}

func NewHandler(
	members *service.MemberService,
	recharges *service.RechargeService,
	orders *service.OrderService,
	activities *service.ActivitySelector,
	reconciler *service.Reconciler,
	sweeper *service.Sweeper,
	tokens *auth.TokenService,
) *Handler {
	return &Handler{
		members:    members,
		recharges:  recharges,
		orders:     orders,
		activities: activities,
		reconciler: reconciler,
		sweeper:    sweeper,
		tokens:     tokens,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrInvalidInput),
		errors.Is(err, pkgerrors.ErrInvalidAmount),
		errors.Is(err, pkgerrors.ErrUnsupportedPaymentMethod):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrInvalidSignature),
		errors.Is(err, pkgerrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, pkgerrors.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, pkgerrors.ErrNotAMember):
		return http.StatusForbidden
	case errors.Is(err, pkgerrors.ErrUserNotFound),
		errors.Is(err, pkgerrors.ErrProductNotFound),
		errors.Is(err, pkgerrors.ErrRecordNotFound),
		errors.Is(err, pkgerrors.ErrActivityNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrOutOfStock),
		errors.Is(err, pkgerrors.ErrAlreadySettled),
		errors.Is(err, pkgerrors.ErrUserAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, pkgerrors.ErrGatewayUnavailable),
		errors.Is(err, pkgerrors.ErrGatewayRejected):
		return http.StatusBadGateway
	case errors.Is(err, pkgerrors.ErrLockTimeout):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "method", r.Method, "error", err)
		msg = "internal error"
	}
	h.writeJSON(w, status, errorResponse{Error: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
	}
	return nil
}

func limitParam(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}

// RegisterPublicRoutes mounts the routes reachable without a bot token.
func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/webhook/{gateway}/{kind}", h.Webhook).Methods("POST")
	r.HandleFunc("/healthz", h.Health).Methods("GET")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/users/register", h.Register).Methods("POST")
	r.HandleFunc("/balance", h.GetBalance).Methods("GET")
	r.HandleFunc("/history", h.GetHistory).Methods("GET")
	r.HandleFunc("/profile", h.GetProfile).Methods("GET")
	r.HandleFunc("/activities", h.ListActivities).Methods("GET")
	r.HandleFunc("/payment-methods", h.PaymentMethods).Methods("GET")
	r.HandleFunc("/recharges", h.CreateRecharge).Methods("POST")
	r.HandleFunc("/recharges", h.ListRecharges).Methods("GET")
	r.HandleFunc("/recharges/{id}", h.GetRecharge).Methods("GET")
	r.HandleFunc("/recharges/{id}/check", h.CheckRecharge).Methods("POST")
	r.HandleFunc("/products", h.ListProducts).Methods("GET")
	r.HandleFunc("/products/{id}/quote", h.QuoteProduct).Methods("GET")
	r.HandleFunc("/orders", h.CreateOrder).Methods("POST")
	r.HandleFunc("/orders", h.ListOrders).Methods("GET")
	r.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET")
	r.HandleFunc("/orders/{id}/check", h.CheckOrder).Methods("POST")
}

func (h *Handler) RegisterAdminRoutes(r *mux.Router) {
	r.HandleFunc("/activities", h.CreateActivity).Methods("POST")
	r.HandleFunc("/users/{id}/balance", h.AdjustBalance).Methods("POST")
	r.HandleFunc("/users/{id}/token", h.IssueToken).Methods("POST")
	r.HandleFunc("/sweep", h.Sweep).Methods("POST")
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "user not authenticated"})
	}
	return id, ok
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Username     string `json:"username"`
		DisplayName  string `json:"display_name"`
		ReferralCode string `json:"referral_code"`
	}
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.members.Register(r.Context(), service.RegisterRequest{
		UserID:       userID,
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	balance, err := h.members.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": balance})
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	history, err := h.members.History(r.Context(), userID, limitParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if history == nil {
		history = []models.BalanceTransaction{}
	}
	h.writeJSON(w, http.StatusOK, history)
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	profile, err := h.members.Profile(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, profile)
}

// ListActivities returns running activities, or with ?amount= the ones the
// caller could use for that recharge.
func (h *Handler) ListActivities(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var (
		list []models.RechargeActivity
		err  error
	)
	if raw := r.URL.Query().Get("amount"); raw != "" {
		amount, perr := decimal.NewFromString(raw)
		if perr != nil {
			h.writeError(w, r, fmt.Errorf("%w: bad amount", pkgerrors.ErrInvalidAmount))
			return
		}
		user, uerr := h.members.GetUser(r.Context(), userID)
		if uerr != nil {
			h.writeError(w, r, uerr)
			return
		}
		list, err = h.activities.Applicable(r.Context(), user, amount)
	} else {
		list, err = h.activities.ListActive(r.Context())
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.RechargeActivity{}
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) PaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods := append([]models.PaymentMethod{models.MethodBalance}, h.recharges.Methods()...)
	h.writeJSON(w, http.StatusOK, methods)
}

func (h *Handler) CreateRecharge(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount        decimal.Decimal      `json:"amount"`
		PaymentMethod models.PaymentMethod `json:"payment_method"`
	}
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	checkout, err := h.recharges.Checkout(r.Context(), userID, req.Amount, req.PaymentMethod)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, checkout)
}

func (h *Handler) ListRecharges(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	records, err := h.recharges.History(r.Context(), userID, limitParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []models.RechargeRecord{}
	}
	h.writeJSON(w, http.StatusOK, records)
}

// ownRecharge loads a recharge belonging to the caller; other users' records
// are reported as missing.
func (h *Handler) ownRecharge(w http.ResponseWriter, r *http.Request) (*models.RechargeRecord, bool) {
	userID, ok := h.userID(w, r)
	if !ok {
		return nil, false
	}
	rec, err := h.recharges.Get(r.Context(), mux.Vars(r)["id"])
	if err == nil && rec.UserID != userID {
		err = pkgerrors.ErrRecordNotFound
	}
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return rec, true
}

func (h *Handler) GetRecharge(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.ownRecharge(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// CheckRecharge asks the gateway for the current status right away.
func (h *Handler) CheckRecharge(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.ownRecharge(w, r)
	if !ok {
		return
	}
	out, err := h.reconciler.Poll(r.Context(), service.KindRechargeRecord, rec.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.orders.Products(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, products)
}

func (h *Handler) QuoteProduct(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	qty := 1
	if raw := r.URL.Query().Get("qty"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: bad qty", pkgerrors.ErrInvalidInput))
			return
		}
		qty = n
	}
	quote, err := h.orders.Quote(r.Context(), userID, mux.Vars(r)["id"], qty)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, quote)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		ProductID     string               `json:"product_id"`
		Quantity      int                  `json:"quantity"`
		PaymentMethod models.PaymentMethod `json:"payment_method"`
	}
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	checkout, err := h.orders.CreateOrder(r.Context(), service.CreateOrderRequest{
		UserID:        userID,
		ProductID:     req.ProductID,
		Quantity:      req.Quantity,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, checkout)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	orders, err := h.orders.History(r.Context(), userID, limitParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) ownOrder(w http.ResponseWriter, r *http.Request) (*models.Order, bool) {
	userID, ok := h.userID(w, r)
	if !ok {
		return nil, false
	}
	order, err := h.orders.Get(r.Context(), mux.Vars(r)["id"])
	if err == nil && order.UserID != userID {
		err = pkgerrors.ErrRecordNotFound
	}
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return order, true
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownOrder(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) CheckOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownOrder(w, r)
	if !ok {
		return
	}
	out, err := h.reconciler.Poll(r.Context(), service.KindOrderRecord, order.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}
