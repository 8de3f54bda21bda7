package httpserver

import (
	"errors"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/todo-keeper/internal/authz"
	"github.com/and161185/todo-keeper/internal/errs"
	"github.com/and161185/todo-keeper/internal/metrics"
	"github.com/and161185/todo-keeper/internal/model"
	"github.com/and161185/todo-keeper/internal/token"
	"github.com/and161185/todo-keeper/internal/tracker"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Verifier validates bearer tokens.
type Verifier interface {
	Verify(raw string) (*token.Claims, error)
}

// RequestLogger writes one line per request. Query strings and bodies are not logged.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			if id, err := uuid.NewV4(); err == nil {
				rid = id.String()
			}
		}
		c.Header(RequestIDHeader, rid)

		c.Next()

		status := c.Writer.Status()
		lvl := zap.InfoLevel
		if status >= http.StatusInternalServerError {
			lvl = zap.ErrorLevel
		}
		log.Log(lvl, "http",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("dur", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", rid),
		)
	}
}

// Recovery turns panics into 500 responses and reports them.
func Recovery(log *zap.Logger, rep tracker.Reporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("route", c.FullPath()),
				)
				rep.Report(c.Request.Context(), errors.New("panic in handler"), map[string]string{"route": c.FullPath()})
				abort(c, http.StatusInternalServerError, msgInternal)
			}
		}()
		c.Next()
	}
}

// Metrics records request counts and latency per route template.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		metrics.HTTPRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>"; the scheme is case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, errs.ErrTokenExpired):
		return "expired"
	case errors.Is(err, errs.ErrTokenSignature):
		return "signature"
	default:
		return "malformed"
	}
}

// RequireBearer verifies the bearer token and stores the principal in the request context.
// Any failure ends the request with 401.
func RequireBearer(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			metrics.TokenRejections.WithLabelValues("missing").Inc()
			abort(c, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		claims, err := v.Verify(raw)
		if err != nil {
			metrics.TokenRejections.WithLabelValues(rejectReason(err)).Inc()
			abort(c, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		c.Request = c.Request.WithContext(authz.WithPrincipal(c.Request.Context(), claims.Principal()))
		c.Next()
	}
}

// RequireOwner allows the request only when the principal owns the :param user id and holds role.
// Must run after RequireBearer.
func RequireOwner(param, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, err := strconv.ParseInt(c.Param(param), 10, 64)
		if err != nil || ownerID <= 0 {
			abort(c, http.StatusBadRequest, "Invalid user id")
			return
		}
		p, ok := authz.PrincipalFromCtx(c.Request.Context())
		if !ok {
			abort(c, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		if err := authz.Guard(p, ownerID, role); err != nil {
			abort(c, http.StatusForbidden, msgForbidden)
			return
		}
		c.Next()
	}
}

// principal returns the authenticated principal of an owner-guarded route.
func principal(c *gin.Context) model.Principal {
	p, _ := authz.PrincipalFromCtx(c.Request.Context())
	return p
}
