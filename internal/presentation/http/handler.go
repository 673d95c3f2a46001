// Package httppresentation is the REST edge: routing, authentication, error
// mapping and the JSON views of orders, items and payment intents.
package httppresentation

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ahz777/nxtmarket/internal/application/checkout"
	appOrder "github.com/ahz777/nxtmarket/internal/application/order"
	appPayment "github.com/ahz777/nxtmarket/internal/application/payment"
	"github.com/ahz777/nxtmarket/internal/observability"
	"github.com/ahz777/nxtmarket/internal/observability/logctx"
	"github.com/ahz777/nxtmarket/internal/pkg/apperr"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerIdempotencyKey = "Idempotency-Key"
	headerSignature      = "X-Webhook-Signature"
	headerReplayed       = "Idempotent-Replayed"
	maxBodyBytes         = 1 << 20
)

type Handler struct {
	checkout *checkout.Service
	orders   *appOrder.Service
	payments *appPayment.Service
	auth     *Authenticator
	log      observability.Logger
	tel      observability.Observability
	name     string
	now      func() time.Time
}

type Services struct {
	Checkout *checkout.Service
	Orders   *appOrder.Service
	Payments *appPayment.Service
}

func NewHandler(svc Services, auth *Authenticator, name string, tel observability.Observability) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		checkout: svc.Checkout,
		orders:   svc.Orders,
		payments: svc.Payments,
		auth:     auth,
		log:      tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:      tel,
		name:     name,
		now:      time.Now,
	}
}

// Router wires: otelhttp server span -> request logger, metrics and access
// log -> panic recovery -> auth -> handler.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(ObservabilityMiddleware(h.log, func(r *http.Request) string {
		return r.Header.Get(headerRequestID)
	}, h.tel))
	r.Use(h.recoverer)
	r.Use(middleware.CleanPath)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) { h.writeError(w, r, errNotFound) })

	r.Get("/api/ping", h.handlePing)
	r.Post("/api/payments/webhook", h.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.Middleware(h.writeError))

		r.Get("/api/whoami", h.handleWhoAmI)

		r.Route("/api/orders", func(r chi.Router) {
			r.Post("/", h.handleCheckout)
			r.Get("/my", h.handleMyOrders)
			r.Get("/{id}", h.handleGetOrder)
			r.Patch("/{id}/cancel", h.handleCancel)
			r.Patch("/{id}/status", h.handleSetStatus)
		})

		r.Post("/api/payments/intents", h.handleCreateIntent)

		r.Route("/api/vendor/orders", func(r chi.Router) {
			r.Get("/", h.handleVendorList)
			r.Get("/{id}", h.handleVendorGet)
			r.Patch("/{orderId}/items/{itemId}/ship", h.handleShipItem)
		})

		r.Route("/api/admin", func(r chi.Router) {
			r.Get("/orders", h.handleAdminList)
			r.Get("/orders/{id}", h.handleAdminGet)
			r.Patch("/orders/{id}/status", h.handleSetStatus)
			r.Get("/metrics", h.handleAdminMetrics)
		})
	})

	return otelhttp.NewHandler(r, h.name+".http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logctx.FromOr(r.Context(), h.log).Error("http_panic", observability.F("panic", rec))
				h.writeError(w, r, apperr.Internal(fmt.Errorf("panic: %v", rec)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "name": h.name, "ts": h.now().UTC()})
}

func (h *Handler) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	a := actorOf(r)
	writeJSON(w, http.StatusOK, map[string]any{"user": map[string]any{"id": a.ID, "role": a.Role}})
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	res, err := h.checkout.Execute(r.Context(), checkout.Input{
		Actor:          actorOf(r),
		IdempotencyKey: r.Header.Get(headerIdempotencyKey),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.Replayed {
		w.Header().Set(headerReplayed, "true")
	}
	writeRaw(w, res.StatusCode, res.Body)
}

func (h *Handler) handleMyOrders(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	l, err := h.orders.ListMine(r.Context(), actorOf(r), page, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]orderView, 0, len(l.Orders))
	for _, o := range l.Orders {
		items = append(items, viewOrder(o))
	}
	writeJSON(w, http.StatusOK, newPageView(items, l))
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), actorOf(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewDetail(o, true))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Cancel(r.Context(), actorOf(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": viewOrder(o)})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		h.writeError(w, r, apperr.Validation("Validation error").WithDetails(map[string]any{"field": "status"}))
		return
	}
	o, err := h.orders.SetStatus(r.Context(), actorOf(r), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": viewOrder(o)})
}

type intentRequest struct {
	OrderID string `json:"orderId"`
}

func (h *Handler) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.payments.CreateIntent(r.Context(), actorOf(r), strings.TrimSpace(req.OrderID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, r, appPayment.ErrInvalidPayload)
		return
	}
	res, err := h.payments.HandleWebhook(r.Context(), appPayment.WebhookInput{
		Signature: r.Header.Get(headerSignature),
		Body:      body,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.Replayed {
		w.Header().Set(headerReplayed, "true")
	}
	writeRaw(w, res.StatusCode, res.Body)
}

func (h *Handler) handleVendorList(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	l, err := h.orders.VendorList(r.Context(), actorOf(r), page, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]detailView, 0, len(l.Orders))
	for _, o := range l.Orders {
		items = append(items, viewDetail(o, true))
	}
	writeJSON(w, http.StatusOK, newPageView(items, l))
}

func (h *Handler) handleVendorGet(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.VendorGet(r.Context(), actorOf(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewDetail(o, true))
}

func (h *Handler) handleShipItem(w http.ResponseWriter, r *http.Request) {
	o, it, err := h.orders.ShipItem(r.Context(), actorOf(r), chi.URLParam(r, "orderId"), chi.URLParam(r, "itemId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": viewOrder(o), "item": viewItem(*it)})
}

func (h *Handler) handleAdminList(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	q := r.URL.Query()
	l, err := h.orders.AdminList(r.Context(), actorOf(r), appOrder.AdminQuery{
		Status: q.Get("status"),
		UserID: q.Get("userId"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	withItems, _ := strconv.ParseBool(q.Get("includeItems"))
	items := make([]detailView, 0, len(l.Orders))
	for _, o := range l.Orders {
		items = append(items, viewDetail(o, withItems))
	}
	writeJSON(w, http.StatusOK, newPageView(items, l))
}

func (h *Handler) handleAdminGet(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.AdminGet(r.Context(), actorOf(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewDetail(o, true))
}

func (h *Handler) handleAdminMetrics(w http.ResponseWriter, r *http.Request) {
	st, err := h.orders.Metrics(r.Context(), actorOf(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"totalOrders":  st.TotalOrders,
		"totalRevenue": st.TotalRevenue.StringFixed(2),
	})
}

func pageParams(r *http.Request) (page, limit int) {
	q := r.URL.Query()
	page, _ = strconv.Atoi(q.Get("page"))
	limit, _ = strconv.Atoi(q.Get("limit"))
	return page, limit
}

// decodeJSON tolerates an empty body and unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return errBadJSON
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
