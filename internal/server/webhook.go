package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	gatewaydomain "github.com/thanhtoan69/ahihi-sub023/internal/gateway/domain"
)

// Webhook bodies are small JSON or query-string payloads; anything near this
// limit is not a legitimate provider delivery.
const maxWebhookBody = 1 << 20

// HandleWebhook ingests one provider webhook delivery. Duplicates and ignored
// event types still acknowledge with 200 so providers stop redelivering.
func (s *Server) HandleWebhook(c *gin.Context) {
	provider := c.Param("provider")

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, gatewaydomain.ErrMalformedPayload)
		return
	}

	err = s.gatewaySvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, gatewaydomain.ErrEventAlreadyProcessed):
		c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
	case errors.Is(err, gatewaydomain.ErrEventIgnored):
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
	default:
		s.logger.Warn("webhook rejected",
			zap.String("provider", provider),
			zap.Error(err),
		)
		AbortWithError(c, err)
	}
}

// HandleVNPayWebhook handles VNPay's IPN, which arrives as a GET with the
// signed parameters in the query string. VNPay expects an RspCode body and
// retries until it sees "00" or "02"; every response is HTTP 200.
func (s *Server) HandleVNPayWebhook(c *gin.Context) {
	payload := []byte(c.Request.URL.RawQuery)

	err := s.gatewaySvc.IngestWebhook(c.Request.Context(), "vnpay", payload, c.Request.Header)
	switch {
	case err == nil, errors.Is(err, gatewaydomain.ErrEventIgnored):
		c.JSON(http.StatusOK, gin.H{"RspCode": "00", "Message": "Confirm Success"})
	case errors.Is(err, gatewaydomain.ErrEventAlreadyProcessed):
		c.JSON(http.StatusOK, gin.H{"RspCode": "02", "Message": "Order already confirmed"})
	case errors.Is(err, gatewaydomain.ErrInvalidSignature):
		c.JSON(http.StatusOK, gin.H{"RspCode": "97", "Message": "Invalid Checksum"})
	default:
		s.logger.Warn("vnpay ipn rejected", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"RspCode": "99", "Message": "Unknown error"})
	}
}
