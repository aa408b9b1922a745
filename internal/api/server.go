package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"agent-core/internal/market"
	"agent-core/internal/strategy"
	"agent-core/internal/vault"
	"agent-core/internal/ws"
	"agent-core/pkg/db"
)

// Server wires the REST endpoints and the websocket upgrade routes.
type Server struct {
	Router    *gin.Engine
	DB        *db.Database
	Catalog   *strategy.Catalog
	Vaults    *vault.Service
	Feed      market.PriceSource
	WS        *ws.Server
	JWTSecret string
	TokenTTL  time.Duration
}

// NewServer builds the router with the full middleware stack and routes.
func NewServer(database *db.Database, catalog *strategy.Catalog, vaults *vault.Service, feed market.PriceSource, wsServer *ws.Server, jwtSecret string, tokenTTL time.Duration) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(CORSMiddleware())

	if tokenTTL <= 0 {
		tokenTTL = 72 * time.Hour
	}
	s := &Server{
		Router:    r,
		DB:        database,
		Catalog:   catalog,
		Vaults:    vaults,
		Feed:      feed,
		WS:        wsServer,
		JWTSecret: jwtSecret,
		TokenTTL:  tokenTTL,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	if s.WS != nil {
		s.WS.RegisterRoutes(s.Router)
	}

	api := s.Router.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/strategies", s.listStrategies)
			protected.GET("/market/:symbol", s.getPrice)

			protected.GET("/vaults", s.listVaults)
			protected.GET("/vaults/:id", s.getVault)
			protected.GET("/vaults/:id/position", s.getVaultPosition)
			protected.GET("/vaults/:id/events", s.listVaultEvents)
			protected.POST("/vaults/:id/pause", s.pauseVault)
			protected.POST("/vaults/:id/resume", s.resumeVault)
			protected.POST("/vaults/:id/close", s.closeVault)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
