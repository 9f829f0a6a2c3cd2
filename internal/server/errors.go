package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	gatewaydomain "github.com/thanhtoan69/ahihi-sub023/internal/gateway/domain"
	orderdomain "github.com/thanhtoan69/ahihi-sub023/internal/order/domain"
)

var ErrServiceUnavailable = errors.New("service_unavailable")

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor maps domain errors onto HTTP statuses. Signature failures are 401
// so provider dashboards surface them as authentication problems, not as
// malformed requests.
func statusFor(err error) int {
	switch {
	case errors.Is(err, gatewaydomain.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, gatewaydomain.ErrMalformedPayload),
		errors.Is(err, orderdomain.ErrInvalidAmount),
		errors.Is(err, orderdomain.ErrInvalidCurrency):
		return http.StatusBadRequest
	case errors.Is(err, gatewaydomain.ErrProviderNotFound),
		errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, orderdomain.ErrAttemptRefNotFound):
		return http.StatusNotFound
	case errors.Is(err, orderdomain.ErrOrderNotPayable),
		errors.Is(err, orderdomain.ErrInvalidTransition),
		errors.Is(err, gatewaydomain.ErrNoTransactionID):
		return http.StatusConflict
	case errors.Is(err, gatewaydomain.ErrUnsupportedCurrency),
		errors.Is(err, gatewaydomain.ErrRefundAmountTooLarge):
		return http.StatusUnprocessableEntity
	case errors.Is(err, gatewaydomain.ErrNetworkTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, gatewaydomain.ErrProviderRejected),
		errors.Is(err, gatewaydomain.ErrRefundRejected):
		return http.StatusBadGateway
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func codeFor(err error) string {
	for _, sentinel := range []error{
		gatewaydomain.ErrInvalidSignature,
		gatewaydomain.ErrMalformedPayload,
		gatewaydomain.ErrProviderNotFound,
		gatewaydomain.ErrUnsupportedCurrency,
		gatewaydomain.ErrRefundAmountTooLarge,
		gatewaydomain.ErrRefundRejected,
		gatewaydomain.ErrNoTransactionID,
		gatewaydomain.ErrNetworkTimeout,
		gatewaydomain.ErrProviderRejected,
		orderdomain.ErrOrderNotFound,
		orderdomain.ErrOrderNotPayable,
		orderdomain.ErrInvalidTransition,
		orderdomain.ErrInvalidAmount,
		orderdomain.ErrInvalidCurrency,
		orderdomain.ErrAttemptRefNotFound,
		ErrServiceUnavailable,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal_error"
}

// AbortWithError writes the mapped error response and stops the handler
// chain.
func AbortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	body := apiError{Code: codeFor(err)}
	if status < http.StatusInternalServerError {
		body.Message = err.Error()
	} else {
		body.Message = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}
