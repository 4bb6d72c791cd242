package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"order-fulfillment-service/internal/apperr"
	"order-fulfillment-service/internal/dto"
	"order-fulfillment-service/internal/middleware"
	"order-fulfillment-service/internal/service"
)

type PaymentController struct {
	Payments   *service.PaymentService
	Reconciler *service.Reconciler
}

func NewPaymentController(payments *service.PaymentService, reconciler *service.Reconciler) *PaymentController {
	return &PaymentController{Payments: payments, Reconciler: reconciler}
}

// POST /payments/initiate
func (ctl *PaymentController) Initiate(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	var req dto.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := ctl.Payments.Initiate(c.Request.Context(), service.InitiatePaymentInput{
		OrderID: req.OrderID,
		Phone:   req.Phone,
		User:    user,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.InitiatePaymentResponse{RedirectURL: res.RedirectURL, TxRef: res.TxRef})
}

// POST /payments/callback - called by the gateway, no token. Stale and duplicate
// reports are acknowledged with 200 so the gateway stops retrying.
func (ctl *PaymentController) Callback(c *gin.Context) {
	var req dto.PaymentCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Reference() == "" {
		writeError(c, apperr.Validation("tx_ref", "is required"))
		return
	}

	out, err := ctl.Reconciler.Reconcile(c.Request.Context(), service.Report{
		TxRef:         req.Reference(),
		Status:        req.Status,
		TransactionID: req.Transaction(),
		Source:        service.SourceCallback,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       "payment callback processed",
		"applied":       out.Applied,
		"paymentStatus": out.PaymentStatus,
	})
}

// GET /payments/verify/:txRef
func (ctl *PaymentController) Verify(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	out, err := ctl.Payments.Verify(c.Request.Context(), c.Param("txRef"), user)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.PaymentStatusResponse{
		PaymentStatus: out.PaymentStatus,
		Applied:       out.Applied,
		Order:         out.Order,
	})
}
