package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	orderdomain "github.com/thanhtoan69/ahihi-sub023/internal/order/domain"
)

type checkoutRequest struct {
	Provider string `json:"provider" binding:"required"`
}

type checkoutResponse struct {
	Provider    string `json:"provider"`
	ExternalRef string `json:"external_ref"`
	RedirectURL string `json:"redirect_url,omitempty"`
	Captured    bool   `json:"captured"`
}

type refundRequest struct {
	Amount int64  `json:"amount" binding:"required"`
	Reason string `json:"reason"`
}

type refundResponse struct {
	RefundRef string `json:"refund_ref"`
	Status    string `json:"status"`
}

type orderResponse struct {
	ID             string     `json:"id"`
	OrderNumber    string     `json:"order_number"`
	TotalAmount    int64      `json:"total_amount"`
	Currency       string     `json:"currency"`
	Status         string     `json:"status"`
	Provider       string     `json:"provider,omitempty"`
	CaptureRef     string     `json:"capture_ref,omitempty"`
	RefundRef      string     `json:"refund_ref,omitempty"`
	RefundedAmount int64      `json:"refunded_amount"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	RefundedAt     *time.Time `json:"refunded_at,omitempty"`
}

func orderToResponse(order *orderdomain.Order) orderResponse {
	return orderResponse{
		ID:             order.ID.String(),
		OrderNumber:    order.OrderNumber,
		TotalAmount:    order.TotalAmount,
		Currency:       order.Currency,
		Status:         string(order.Status),
		Provider:       order.Provider,
		CaptureRef:     order.CaptureRef,
		RefundRef:      order.RefundRef,
		RefundedAmount: order.RefundedAmount,
		FailureReason:  order.FailureReason,
		PaidAt:         order.PaidAt,
		RefundedAt:     order.RefundedAt,
	}
}

func orderIDParam(c *gin.Context) (snowflake.ID, bool) {
	raw, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || raw <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": apiError{Code: "invalid_order_id", Message: "order id must be a positive integer"},
		})
		return 0, false
	}
	return snowflake.ID(raw), true
}

// GetOrder returns the payment view of one order.
func (s *Server) GetOrder(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}

	order, err := s.orders.FindByID(c.Request.Context(), s.db, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderToResponse(order))
}

// CreateCheckout starts a payment for the order with the requested provider.
func (s *Server) CreateCheckout(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": apiError{Code: "invalid_request", Message: "provider is required"},
		})
		return
	}

	result, err := s.gatewaySvc.CreateCheckout(c.Request.Context(), id, req.Provider)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, checkoutResponse{
		Provider:    result.Provider,
		ExternalRef: result.ExternalRef,
		RedirectURL: result.RedirectURL,
		Captured:    result.Captured,
	})
}

// RefundOrder refunds part or all of a captured payment.
func (s *Server) RefundOrder(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": apiError{Code: "invalid_request", Message: "amount is required"},
		})
		return
	}

	result, err := s.gatewaySvc.Refund(c.Request.Context(), id, req.Amount, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, refundResponse{
		RefundRef: result.RefundRef,
		Status:    string(result.Status),
	})
}
