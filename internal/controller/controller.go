package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"order-fulfillment-service/internal/dto"
	"order-fulfillment-service/internal/middleware"
	"order-fulfillment-service/internal/model"
	"order-fulfillment-service/internal/repository"
	"order-fulfillment-service/internal/service"
)

type OrderController struct {
	Orders   *service.OrderService
	Payments *service.PaymentService
}

func NewOrderController(orders *service.OrderService, payments *service.PaymentService) *OrderController {
	return &OrderController{Orders: orders, Payments: payments}
}

// POST /orders
func (ctl *OrderController) CreateOrder(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	lines := make([]service.OrderLineInput, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, service.OrderLineInput{ProductRef: it.Product, Quantity: it.Quantity})
	}
	order, err := ctl.Orders.CreateOrder(c.Request.Context(), service.CreateOrderInput{
		UserID:          user.ID,
		Items:           lines,
		ShippingAddress: req.ShippingAddress.ToModel(),
		PaymentMethod:   req.PaymentMethod,
		ItemsPrice:      req.ItemsPrice,
		ShippingPrice:   req.ShippingPrice,
		TotalPrice:      req.TotalPrice,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// GET /orders/myorders (alias /orders/mine)
func (ctl *OrderController) GetMyOrders(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	orders, err := ctl.Orders.ListMyOrders(c.Request.Context(), user.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// GET /orders/:id - owner or admin
func (ctl *OrderController) GetOrder(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	order, err := ctl.Orders.GetOrder(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// GET /orders?status=&search=&page=&limit= (alias /admin/orders) - admin
func (ctl *OrderController) ListOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	res, err := ctl.Orders.ListOrders(c.Request.Context(), repository.OrderFilter{
		Status: model.Status(c.Query("status")),
		Search: c.Query("search"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.OrderListResponse{
		Orders: res.Orders,
		Pagination: dto.Pagination{
			Page:  res.Page,
			Limit: res.Limit,
			Total: res.Total,
			Pages: res.Pages,
		},
	})
}

// PATCH /orders/:id/status - admin
func (ctl *OrderController) UpdateStatus(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := ctl.Orders.UpdateStatus(c.Request.Context(), service.UpdateStatusInput{
		OrderID: c.Param("id"),
		Status:  model.Status(req.Status),
		Note:    req.Note,
		Version: req.Version,
		Actor:   user.ID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// PATCH /orders/:id/payment - admin
func (ctl *OrderController) MarkPaid(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	var req dto.MarkPaidRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	order, err := ctl.Payments.MarkPaid(c.Request.Context(), c.Param("id"), req.TransactionID, user)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
