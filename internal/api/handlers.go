// Package api exposes the ledger over a JSON REST API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/errs"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/models"
)

// Header names of the idempotency protocol.
const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "Idempotent-Replayed"
)

const maxBodyBytes = 1 << 20

// Handler serves the ledger routes.
type Handler struct {
	ledger *ledger.Service
}

// NewRouter builds the HTTP router. metrics and metricsHandler may be nil.
func NewRouter(svc *ledger.Service, jwtManager *auth.JWTManager, metrics *middleware.HTTPMetrics, metricsHandler http.Handler) *mux.Router {
	h := &Handler{ledger: svc}

	r := mux.NewRouter()
	r.Use(middleware.Logging)
	if metrics != nil {
		r.Use(metrics.Middleware)
	}

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	api := r.NewRoute().Subrouter()
	api.Use(middleware.RequireAuth(jwtManager))

	api.HandleFunc("/groups", h.createGroup).Methods(http.MethodPost)
	api.HandleFunc("/groups/{id}", h.getGroup).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}/expenses", h.listExpenses).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}/payments", h.listPayments).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}/balances", h.balances).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}/settlements", h.settlements).Methods(http.MethodGet)

	api.HandleFunc("/expenses", h.createExpense).Methods(http.MethodPost)
	api.HandleFunc("/expenses/{id}", h.updateExpense).Methods(http.MethodPut)
	api.HandleFunc("/expenses/{id}", h.deleteExpense).Methods(http.MethodDelete)
	api.HandleFunc("/payments", h.createPayment).Methods(http.MethodPost)
	api.HandleFunc("/payments/{id}", h.deletePayment).Methods(http.MethodDelete)

	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decode(r *http.Request, op string, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Validation(op, "invalid request body: %v", err)
	}
	return nil
}

func idempotencyKey(r *http.Request, op string) (string, error) {
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" {
		return "", errs.Validation(op, "%s header is required", IdempotencyKeyHeader)
	}
	return key, nil
}

// writeWrite answers a ledger write. Replays always get 200.
func writeWrite(w http.ResponseWriter, created, replayed bool, data any) {
	status := http.StatusOK
	if replayed {
		w.Header().Set(ReplayedHeader, "true")
	} else if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, data)
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var group models.Group
	if err := decode(r, "api.createGroup", &group); err != nil {
		writeError(w, err)
		return
	}
	created, err := h.ledger.CreateGroup(r.Context(), &group)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) getGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.ledger.GetGroup(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (h *Handler) listExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.ledger.ListExpenses(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if expenses == nil {
		expenses = []*models.Expense{}
	}
	writeJSON(w, http.StatusOK, expenses)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.ledger.ListPayments(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if payments == nil {
		payments = []*models.Payment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *Handler) balances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.ledger.Balances(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func (h *Handler) settlements(w http.ResponseWriter, r *http.Request) {
	plan, err := h.ledger.Settlements(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if plan == nil {
		plan = []models.SettlementSuggestion{}
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *Handler) createExpense(w http.ResponseWriter, r *http.Request) {
	const op = "api.createExpense"
	key, err := idempotencyKey(r, op)
	if err != nil {
		writeError(w, err)
		return
	}
	var req models.ExpenseRequest
	if err := decode(r, op, &req); err != nil {
		writeError(w, err)
		return
	}

	expense, replayed, err := h.ledger.RecordExpense(r.Context(), key, middleware.GetUserID(r.Context()), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeWrite(w, true, replayed, expense)
}

func (h *Handler) updateExpense(w http.ResponseWriter, r *http.Request) {
	const op = "api.updateExpense"
	key, err := idempotencyKey(r, op)
	if err != nil {
		writeError(w, err)
		return
	}
	var req models.ExpenseRequest
	if err := decode(r, op, &req); err != nil {
		writeError(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	if req.ID != "" && req.ID != id {
		writeError(w, errs.Validation(op, "body ID %s does not match path ID %s", req.ID, id))
		return
	}
	req.ID = id

	expense, replayed, err := h.ledger.UpdateExpense(r.Context(), key, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeWrite(w, false, replayed, expense)
}

func (h *Handler) deleteExpense(w http.ResponseWriter, r *http.Request) {
	key, err := idempotencyKey(r, "api.deleteExpense")
	if err != nil {
		writeError(w, err)
		return
	}
	expense, replayed, err := h.ledger.DeleteExpense(r.Context(), key, r.URL.Query().Get("group_id"), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeWrite(w, false, replayed, expense)
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	const op = "api.createPayment"
	key, err := idempotencyKey(r, op)
	if err != nil {
		writeError(w, err)
		return
	}
	var payment models.Payment
	if err := decode(r, op, &payment); err != nil {
		writeError(w, err)
		return
	}

	saved, replayed, err := h.ledger.RecordPayment(r.Context(), key, middleware.GetUserID(r.Context()), &payment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeWrite(w, true, replayed, saved)
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	key, err := idempotencyKey(r, "api.deletePayment")
	if err != nil {
		writeError(w, err)
		return
	}
	payment, replayed, err := h.ledger.DeletePayment(r.Context(), key, r.URL.Query().Get("group_id"), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeWrite(w, false, replayed, payment)
}

// DecodeEnvelope reads an API response body into data, or returns the API error.
func DecodeEnvelope(body io.Reader, data any) (*ErrorBody, error) {
	var env Envelope
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		return nil, err
	}
	if !env.Success {
		if env.Error == nil {
			return nil, errors.New("unsuccessful response without error body")
		}
		return env.Error, nil
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			return nil, err
		}
	}
	return nil, nil
}
