package api

import (
	"net/http"

	"swap-core/internal/monitor"
	"swap-core/internal/order"
	"swap-core/internal/stream"
	"swap-core/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires the HTTP intake and status-channel endpoints around the
// queue and broadcaster.
type Server struct {
	Router      *gin.Engine
	DB          *db.Database
	Queue       *order.Queue
	Broadcaster *stream.Broadcaster
	Metrics     *monitor.SystemMetrics
	Meta        SystemMeta
}

// SystemMeta describes runtime status exposed on the root endpoint.
type SystemMeta struct {
	Venues  []string
	Version string
}

func NewServer(database *db.Database, queue *order.Queue, broadcaster *stream.Broadcaster, metrics *monitor.SystemMetrics, meta SystemMeta) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware())
	r.Use(CORSMiddleware())

	s := &Server{
		Router:      r,
		DB:          database,
		Queue:       queue,
		Broadcaster: broadcaster,
		Metrics:     metrics,
		Meta:        meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/", s.root)
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws/orders/:id", s.orderSocket)

	api := s.Router.Group("/api")
	{
		api.POST("/orders/execute", s.executeOrder)
		api.GET("/orders", s.listOrders)
		api.GET("/orders/:id", s.getOrder)
		api.GET("/metrics", s.getMetrics)
		api.GET("/queue/metrics", s.getQueueMetrics)
	}
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "swap-core",
		"version": s.Meta.Version,
		"venues":  s.Meta.Venues,
	})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
