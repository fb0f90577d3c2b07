package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"shopmall/pkg/domain/model"
	"shopmall/pkg/domain/service"
)

const (
	headerMemberID       = "X-Member-ID"
	headerActor          = "X-Actor"
	headerIdempotencyKey = "Idempotency-Key"

	systemActor = "system"
)

type handler struct {
	orders       service.OrderService
	cancellation service.CancellationService
	payments     service.PaymentService
}

// Router serves the order and payment API under /api/v1 next to /metrics and
// /healthz.
func Router(
	orders service.OrderService,
	cancellation service.CancellationService,
	payments service.PaymentService,
	registry *prometheus.Registry,
	health http.Handler,
) http.Handler {
	h := &handler{orders: orders, cancellation: cancellation, payments: payments}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.Handle("/healthz", health).Methods(http.MethodGet)

	s := r.PathPrefix("/api/v1").Subrouter()
	s.Use(newRequestMetrics(registry).middleware)

	s.HandleFunc("/orders", h.createOrder).Methods(http.MethodPost)
	s.HandleFunc("/orders/number/{number}", h.getOrderByNumber).Methods(http.MethodGet)
	s.HandleFunc("/orders/{orderID}", h.getOrder).Methods(http.MethodGet)
	s.HandleFunc("/orders/{orderID}/status", h.changeStatus).Methods(http.MethodPatch)
	s.HandleFunc("/orders/{orderID}/cancel", h.cancelOrder).Methods(http.MethodPost)
	s.HandleFunc("/orders/{orderID}/items/{itemID}/cancel", h.cancelOrderItem).Methods(http.MethodPost)
	s.HandleFunc("/orders/{orderID}/history", h.getHistory).Methods(http.MethodGet)
	s.HandleFunc("/members/{memberID}/orders", h.listMemberOrders).Methods(http.MethodGet)

	s.HandleFunc("/payments", h.processPayment).Methods(http.MethodPost)
	s.HandleFunc("/payments/order/{orderID}", h.getPayment).Methods(http.MethodGet)
	s.HandleFunc("/payments/order/{orderID}/cancel", h.cancelPayment).Methods(http.MethodPost)

	return logMiddleware(r)
}

func (h *handler) createOrder(w http.ResponseWriter, r *http.Request) {
	memberID, ok, err := callerID(r)
	if err == nil && !ok {
		err = badRequest("%s header is required", headerMemberID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req createOrderRequest
	if err = decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	lines := make([]service.OrderLine, 0, len(req.Items))
	for _, item := range req.Items {
		productID, err := uuid.Parse(item.ProductID)
		if err != nil {
			writeError(w, r, badRequest("invalid product id %q", item.ProductID))
			return
		}
		lines = append(lines, service.OrderLine{ProductID: productID, Quantity: item.Quantity})
	}

	shipping := model.Shipping{
		Address:       req.ShippingAddress,
		ReceiverName:  req.ReceiverName,
		ReceiverPhone: req.ReceiverPhone,
	}
	order, err := h.orders.CreateOrder(r.Context(), memberID, shipping, lines)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := h.authorizedOrder(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *handler) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrderByNumber(r.Context(), mux.Vars(r)["number"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if memberID, ok, err := callerID(r); err != nil || (ok && memberID != order.MemberID) {
		if err == nil {
			err = model.ErrAccessDenied
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *handler) listMemberOrders(w http.ResponseWriter, r *http.Request) {
	memberID, err := pathID(r, "memberID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if caller, ok, err := callerID(r); err != nil || (ok && caller != memberID) {
		if err == nil {
			err = model.ErrAccessDenied
		}
		writeError(w, r, err)
		return
	}

	page, err := queryInt(r, "page", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	size, err := queryInt(r, "size", 10)
	if err != nil {
		writeError(w, r, err)
		return
	}

	orders, err := h.orders.ListMemberOrders(r.Context(), memberID, page, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req changeStatusRequest
	if err = decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	target, err := model.ParseOrderStatus(req.Status)
	if err != nil {
		writeError(w, r, badRequest("%s", err.Error()))
		return
	}

	order, err := h.orders.ChangeOrderStatus(r.Context(), orderID, target, req.Reason, actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := h.authorizedOrder(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req cancelRequest
	if err = decodeOptional(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	order, err := h.cancellation.CancelOrder(r.Context(), orderID, req.Reason, actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *handler) cancelOrderItem(w http.ResponseWriter, r *http.Request) {
	orderID, err := h.authorizedOrder(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	itemID, err := pathID(r, "itemID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req cancelRequest
	if err = decodeOptional(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	order, err := h.cancellation.CancelOrderItem(r.Context(), orderID, itemID, req.Reason, actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *handler) getHistory(w http.ResponseWriter, r *http.Request) {
	orderID, err := h.authorizedOrder(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	histories, err := h.orders.GetOrderHistory(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryResponses(histories))
}

func (h *handler) processPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		writeError(w, r, badRequest("invalid order id %q", req.OrderID))
		return
	}
	if err = h.verifyCaller(r, orderID); err != nil {
		writeError(w, r, err)
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get(headerIdempotencyKey)
	}

	payment, err := h.payments.ProcessPayment(r.Context(), orderID, key, req.Method, actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(payment))
}

func (h *handler) getPayment(w http.ResponseWriter, r *http.Request) {
	orderID, err := h.authorizedOrder(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	payment, err := h.payments.GetPaymentByOrderID(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(payment))
}

func (h *handler) cancelPayment(w http.ResponseWriter, r *http.Request) {
	orderID, err := h.authorizedOrder(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	payment, err := h.payments.CancelPayment(r.Context(), orderID, actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(payment))
}

// authorizedOrder reads {orderID} and, when the caller is a member, checks
// that the order is theirs.
func (h *handler) authorizedOrder(r *http.Request) (uuid.UUID, error) {
	orderID, err := pathID(r, "orderID")
	if err != nil {
		return uuid.Nil, err
	}
	return orderID, h.verifyCaller(r, orderID)
}

func (h *handler) verifyCaller(r *http.Request, orderID uuid.UUID) error {
	memberID, ok, err := callerID(r)
	if err != nil || !ok {
		return err
	}
	return h.orders.VerifyOwnership(r.Context(), orderID, memberID)
}

// callerID returns the member making the request. Requests without the
// header come from back office tooling.
func callerID(r *http.Request) (uuid.UUID, bool, error) {
	raw := strings.TrimSpace(r.Header.Get(headerMemberID))
	if raw == "" {
		return uuid.Nil, false, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, badRequest("invalid %s header", headerMemberID)
	}
	return id, true, nil
}

func actor(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get(headerActor)); a != "" {
		return a
	}
	if m := strings.TrimSpace(r.Header.Get(headerMemberID)); m != "" {
		return m
	}
	return systemActor
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	raw := mux.Vars(r)[name]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, badRequest("invalid %s %q", name, raw)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return v, nil
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("malformed request body: %s", err.Error())
	}
	return nil
}

// decodeOptional accepts an empty body.
func decodeOptional(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || err == io.EOF {
		return nil
	}
	return badRequest("malformed request body: %s", err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err = w.Write(b); err != nil {
		log.WithField("err", err).Error("write response")
	}
}

func logMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.WithFields(log.Fields{
			"method":     r.Method,
			"url":        r.URL,
			"remoteAddr": r.RemoteAddr,
			"userAgent":  r.UserAgent(),
		}).Info("got a new request")
		h.ServeHTTP(w, r)
	})
}
