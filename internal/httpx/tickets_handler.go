package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-realtime-raffle/internal/reconcile"
	"github.com/ariefcatur/go-realtime-raffle/internal/reservation"
	"github.com/ariefcatur/go-realtime-raffle/internal/tickets"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Catalog interface {
	ListAll(ctx context.Context) ([]tickets.PublicTicket, error)
	ListByPhone(ctx context.Context, phone string) ([]tickets.Ticket, error)
}

type Reserver interface {
	Reserve(ctx context.Context, req reservation.Request) (*reservation.Result, error)
}

type Reconciler interface {
	HandleNotification(ctx context.Context, n reconcile.Notification) (*reconcile.Result, error)
	QueryStatus(ctx context.Context, ref string) (*reconcile.StatusReport, error)
}

type ReserveReq struct {
	Numbers []int  `json:"numbers" validate:"required,min=1,dive,gte=1"`
	Name    string `json:"name" validate:"required"`
	Phone   string `json:"phone" validate:"required"`
}

// BuyerTicket is the phone lookup view; it leaves out the payment handle.
type BuyerTicket struct {
	Number         int            `json:"number"`
	Status         tickets.Status `json:"status"`
	OrderReference string         `json:"order_reference"`
}

type TicketsHandler struct {
	Catalog      Catalog
	Reservations Reserver
	Reconciler   Reconciler
	Validate     *validator.Validate
	Log          zerolog.Logger
}

func (h *TicketsHandler) Register(r chi.Router) {
	r.Get("/tickets", h.listTickets)
	r.Post("/tickets/reserve", h.reserve)
	r.Get("/tickets/phone/{phone}", h.ticketsByPhone)
	r.Get("/orders/{reference}/status", h.orderStatus)
	r.Post("/webhooks/payments", h.paymentWebhook)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (h *TicketsHandler) listTickets(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ts, err := h.Catalog.ListAll(ctx)
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (h *TicketsHandler) reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validate().Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Reservations.Reserve(ctx, reservation.Request{
		Numbers: req.Numbers,
		Buyer:   tickets.Buyer{Name: req.Name, Phone: req.Phone},
	})
	if err != nil {
		h.reserveError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *TicketsHandler) reserveError(w http.ResponseWriter, err error) {
	if c, ok := tickets.AsConflict(err); ok {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "tickets unavailable", "conflicts": c.Conflicts})
		return
	}
	switch {
	case tickets.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case tickets.IsPaymentProvider(err):
		writeError(w, http.StatusBadGateway, "payment provider unavailable, try again")
	case errors.Is(err, tickets.ErrReservationLost):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.storeError(w, err)
	}
}

func (h *TicketsHandler) storeError(w http.ResponseWriter, err error) {
	if tickets.IsTransient(err) {
		writeError(w, http.StatusServiceUnavailable, "store busy, try again")
		return
	}
	h.Log.Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (h *TicketsHandler) ticketsByPhone(w http.ResponseWriter, r *http.Request) {
	phone := strings.TrimSpace(chi.URLParam(r, "phone"))
	if phone == "" {
		writeError(w, http.StatusBadRequest, "missing phone")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ts, err := h.Catalog.ListByPhone(ctx, phone)
	if err != nil {
		h.storeError(w, err)
		return
	}
	out := make([]BuyerTicket, 0, len(ts))
	for _, t := range ts {
		out = append(out, BuyerTicket{Number: t.Number, Status: t.Status, OrderReference: t.OrderReference})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *TicketsHandler) orderStatus(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "reference")
	if ref == "" {
		writeError(w, http.StatusBadRequest, "missing reference")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	report, err := h.Reconciler.QueryStatus(ctx, ref)
	if err != nil {
		h.storeError(w, err)
		return
	}
	if report.Status == reconcile.StateUnknown {
		writeJSON(w, http.StatusNotFound, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *TicketsHandler) validate() *validator.Validate {
	if h.Validate == nil {
		h.Validate = validator.New()
	}
	return h.Validate
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	if i := strings.IndexByte(field, '['); i >= 0 {
		field = field[:i]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " needs at least " + fe.Param() + " entry"
	default:
		return field + " is invalid"
	}
}
