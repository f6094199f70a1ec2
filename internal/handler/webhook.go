package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	service "github.com/honeynil/ShopLedgerService/internal/services"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
)

const maxWebhookBody = 64 << 10

// Webhook receives gateway notifications, either JSON objects or form
// posts, and answers with the plain "ok" gateways expect.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind, err := service.ParseRecordKind(vars["kind"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	payload, err := readPayload(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if _, err := h.reconciler.HandleCallback(r.Context(), vars["gateway"], kind, payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func readPayload(r *http.Request) (map[string]string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
		}
		out := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			out[k] = r.PostForm.Get(k)
		}
		return out, nil
	}

	var raw map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case bool, float64:
			out[k] = fmt.Sprint(val)
		}
	}
	return out, nil
}
