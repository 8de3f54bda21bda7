// Package httpserver exposes the account API over HTTP with gin.
package httpserver

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/and161185/todo-keeper/internal/model"
)

// RouterOptions configures cross-cutting behaviour of the router.
type RouterOptions struct {
	// CORSOrigins lists allowed origins; empty allows any origin without credentials.
	CORSOrigins []string
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", "Content-Type", RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// NewRouter wires middleware and routes. Owner-scoped routes verify the bearer token first,
// then compare its user id with :userId.
func NewRouter(h *Handler, v Verifier, log *zap.Logger, opts RouterOptions) *gin.Engine {
	registerValidators()

	r := gin.New()
	r.Use(
		Recovery(log, h.tracker),
		RequestLogger(log),
		Metrics(),
		corsMiddleware(opts.CORSOrigins),
	)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/.well-known/jwks.json", h.jwks)

	users := r.Group("/users")
	users.POST("/register", h.register)
	users.POST("/login", h.login)
	users.POST("/checkusernameandemail", h.checkAvailability)

	r.POST("/forgot", h.forgot)
	r.POST("/reset_password", h.resetPassword)

	owned := users.Group("/:userId", RequireBearer(v), RequireOwner("userId", model.RoleUser))
	owned.GET("", h.getProfile)
	owned.PUT("", h.updateProfile)
	owned.DELETE("", h.deleteAccount)
	owned.GET("/todos", h.listTodos)

	return r
}

// NewServer wraps handler in an http.Server with conservative timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
