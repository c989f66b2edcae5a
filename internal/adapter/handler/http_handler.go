package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/rl1809/order-saga/internal/core/domain"
)

type OrderService interface {
	CreateOrder(ctx context.Context, userID, productID int64, quantity int) (*domain.PurchaseOrder, error)
	GetOrder(ctx context.Context, orderID int64) (*domain.PurchaseOrder, error)
	GetProduct(ctx context.Context, productID int64) (*domain.Product, error)
	ListProducts(ctx context.Context, limit int) ([]domain.Product, error)
}

type HTTPHandler struct {
	orders OrderService
	log    zerolog.Logger
}

type CreateOrderHTTPRequest struct {
	UserID    int64 `json:"userId" binding:"required"`
	ProductID int64 `json:"productId" binding:"required"`
	Quantity  int   `json:"quantity"`
}

type OrderHTTPResponse struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"userId"`
	ProductID  int64     `json:"productId"`
	Quantity   int       `json:"quantity"`
	TotalPrice string    `json:"totalPrice"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

type ProductHTTPResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
	Stock int    `json:"stock"`
}

type ErrorHTTPResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func NewHTTPHandler(orders OrderService, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{orders: orders, log: log.With().Str("component", "http").Logger()}
}

func (h *HTTPHandler) Register(r gin.IRouter) {
	r.POST("/api/orders", h.CreateOrder)
	r.GET("/api/orders/:id", h.GetOrder)
	r.GET("/api/products", h.ListProducts)
	r.GET("/api/products/:id", h.GetProduct)
}

func (h *HTTPHandler) CreateOrder(c *gin.Context) {
	var req CreateOrderHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid request body", Detail: err.Error()})
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), req.UserID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, toOrderHTTPResponse(order))
}

func (h *HTTPHandler) GetOrder(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid order id"})
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, toOrderHTTPResponse(order))
}

func (h *HTTPHandler) GetProduct(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid product id"})
		return
	}

	product, err := h.orders.GetProduct(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, toProductHTTPResponse(product))
}

// ListProducts accepts an optional ?limit=; zero or absent means the service default.
func (h *HTTPHandler) ListProducts(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	products, err := h.orders.ListProducts(c.Request.Context(), limit)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	resp := make([]ProductHTTPResponse, 0, len(products))
	for i := range products {
		resp = append(resp, toProductHTTPResponse(&products[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func toProductHTTPResponse(p *domain.Product) ProductHTTPResponse {
	return ProductHTTPResponse{
		ID:    p.ID,
		Name:  p.Name,
		Price: p.Price.StringFixed(2),
		Stock: p.Stock,
	}
}

func toOrderHTTPResponse(o *domain.PurchaseOrder) OrderHTTPResponse {
	return OrderHTTPResponse{
		ID:         o.ID,
		UserID:     o.UserID,
		ProductID:  o.ProductID,
		Quantity:   o.Quantity,
		TotalPrice: o.TotalPrice.StringFixed(2),
		Status:     string(o.Status),
		CreatedAt:  o.CreatedAt,
	}
}

func writeError(c *gin.Context, log zerolog.Logger, err error) {
	m := lookupError(err)
	if m.status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(m.status, ErrorHTTPResponse{Error: m.message})
		return
	}
	c.JSON(m.status, ErrorHTTPResponse{Error: m.message, Detail: err.Error()})
}
