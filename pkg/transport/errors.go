package transport

import (
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"shopmall/pkg/domain/model"
)

var errInvalidInput = errors.New("invalid input")

type errorResponse struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// First match wins, so wrapped sentinels must come before broader ones.
var errorMappings = []errorMapping{
	{model.ErrOrderNotFound, http.StatusNotFound, "O001"},
	{model.ErrInvalidTransition, http.StatusBadRequest, "O002"},
	{model.ErrInvalidOrderStatus, http.StatusBadRequest, "O002"},
	{model.ErrOrderNotCancellable, http.StatusBadRequest, "O003"},
	{model.ErrOrderItemNotFound, http.StatusNotFound, "O004"},
	{model.ErrEmptyOrderItems, http.StatusBadRequest, "O005"},
	{model.ErrLockTimeout, http.StatusConflict, "O006"},
	{model.ErrOptimisticLock, http.StatusConflict, "O006"},
	{model.ErrProductNotFound, http.StatusNotFound, "P001"},
	{model.ErrInsufficientStock, http.StatusBadRequest, "P002"},
	{model.ErrDuplicateInFlight, http.StatusConflict, "PAY001"},
	{model.ErrDuplicateIdempotencyKey, http.StatusConflict, "PAY001"},
	{model.ErrPaymentFailed, http.StatusBadRequest, "PAY002"},
	{model.ErrPaymentNotFound, http.StatusNotFound, "PAY003"},
	{model.ErrPaymentAmountMismatch, http.StatusBadRequest, "PAY004"},
	{model.ErrMemberNotFound, http.StatusNotFound, "M002"},
	{model.ErrAccessDenied, http.StatusForbidden, "A005"},
	{model.ErrInvalidQuantity, http.StatusBadRequest, "C001"},
	{model.ErrInvalidShipping, http.StatusBadRequest, "C001"},
	{model.ErrIdempotencyKeyRequired, http.StatusBadRequest, "C001"},
	{model.ErrIdempotencyKeyTooLong, http.StatusBadRequest, "C001"},
	{model.ErrInvalidPaymentMethod, http.StatusBadRequest, "C001"},
	{errInvalidInput, http.StatusBadRequest, "C001"},
}

func badRequest(format string, args ...interface{}) error {
	return errors.Wrapf(errInvalidInput, format, args...)
}

func toErrorResponse(err error) errorResponse {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return errorResponse{Status: m.status, Code: m.code, Message: err.Error()}
		}
	}
	return errorResponse{
		Status:  http.StatusInternalServerError,
		Code:    "C002",
		Message: "internal server error",
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := toErrorResponse(err)
	if model.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	fields := log.Fields{"method": r.Method, "url": r.URL.String(), "code": resp.Code}
	if resp.Status >= http.StatusInternalServerError {
		log.WithFields(fields).WithError(err).Error("request failed")
	} else {
		log.WithFields(fields).WithError(err).Info("request rejected")
	}
	writeJSON(w, resp.Status, resp)
}
