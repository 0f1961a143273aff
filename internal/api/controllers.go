package api

import (
	"errors"
	"fmt"
	"net/http"

	"swap-core/internal/order"
	"swap-core/pkg/db"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type executeOrderRequest struct {
	Type     string  `json:"type" binding:"omitempty,oneof=market limit sniper"`
	TokenIn  string  `json:"tokenIn" binding:"required,min=1"`
	TokenOut string  `json:"tokenOut" binding:"required,min=1"`
	AmountIn float64 `json:"amountIn" binding:"required,gt=0"`
	Slippage float64 `json:"slippage"`
}

type listOrdersQuery struct {
	Limit int `form:"limit"`
}

func (q *listOrdersQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// executeOrder validates a swap request, persists the order row and
// submits the job. Validation failures create no job.
func (s *Server) executeOrder(c *gin.Context) {
	var req executeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}

	if req.Slippage == 0 {
		req.Slippage = 0.01
	}
	if req.Slippage < 0 || req.Slippage > 1 {
		respondError(c, http.StatusBadRequest, "INVALID_SLIPPAGE", "slippage must be in (0,1]")
		return
	}
	if req.Type == "" {
		req.Type = order.TypeMarket
	}

	orderID := uuid.NewString()

	rec := db.Order{
		ID:       orderID,
		Type:     req.Type,
		TokenIn:  req.TokenIn,
		TokenOut: req.TokenOut,
		AmountIn: req.AmountIn,
		Slippage: req.Slippage,
		Status:   order.StatusPending,
	}
	if err := s.DB.InsertOrder(c.Request.Context(), rec); err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", "failed to store order")
		return
	}

	job := order.Job{
		OrderID: orderID,
		Request: order.Request{
			Type:     req.Type,
			TokenIn:  req.TokenIn,
			TokenOut: req.TokenOut,
			AmountIn: req.AmountIn,
			Slippage: req.Slippage,
		},
	}
	if err := s.Queue.Submit(job); err != nil {
		respondError(c, http.StatusServiceUnavailable, "QUEUE_ERROR", err.Error())
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"orderId": orderID,
		"status":  "queued",
		"wsUrl":   s.statusChannelURL(c, orderID),
	})
}

// statusChannelURL builds the per-order websocket address from the
// incoming request, honoring proxies that terminate TLS.
func (s *Server) statusChannelURL(c *gin.Context, orderID string) string {
	scheme := "ws"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws/orders/%s", scheme, c.Request.Host, orderID)
}

func (s *Server) listOrders(c *gin.Context) {
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize()

	orders, err := s.DB.ListOrders(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", "failed to list orders")
		return
	}
	if orders == nil {
		orders = []db.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) getOrder(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_ORDER_ID", "order id must be a UUID")
		return
	}

	o, err := s.DB.GetOrder(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(c, http.StatusNotFound, "NOT_FOUND", "order not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "DB_ERROR", "failed to load order")
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) getMetrics(c *gin.Context) {
	published, dropped := s.Broadcaster.Stats()
	c.JSON(http.StatusOK, gin.H{
		"system": s.Metrics.GetSnapshot(),
		"stream": gin.H{
			"events_published": published,
			"events_dropped":   dropped,
		},
	})
}

func (s *Server) getQueueMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"queue": s.Queue.GetMetrics(),
		"depth": s.Queue.Len(),
	})
}
