package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/honeynil/ShopLedgerService/internal/models"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"github.com/shopspring/decimal"
)

func pathUserID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad user id", pkgerrors.ErrInvalidInput)
	}
	return id, nil
}

func (h *Handler) CreateActivity(w http.ResponseWriter, r *http.Request) {
	var a models.RechargeActivity
	if err := h.decode(r, &a); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.activities.CreateActivity(r.Context(), &a); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Reason string          `json:"reason"`
	}
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	entry, err := h.members.AdjustBalance(r.Context(), userID, req.Amount, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

// IssueToken mints the bot token for a chat user.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	token, err := h.tokens.Issue(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	changed, err := h.sweeper.SweepOnce(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"changed": changed})
}
