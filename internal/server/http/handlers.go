package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/todo-keeper/internal/errs"
	"github.com/and161185/todo-keeper/internal/service"
	"github.com/and161185/todo-keeper/internal/token"
	"github.com/and161185/todo-keeper/internal/tracker"
)

// KeySet publishes the token verification keys.
type KeySet interface {
	JWKS() token.JWKSet
}

// Handler serves the account and todo endpoints.
type Handler struct {
	accounts service.AccountService
	todos    service.TodoService
	keys     KeySet
	tracker  tracker.Reporter
	log      *zap.Logger
}

// NewHandler constructs Handler.
func NewHandler(accounts service.AccountService, todos service.TodoService, keys KeySet, rep tracker.Reporter, log *zap.Logger) *Handler {
	return &Handler{accounts: accounts, todos: todos, keys: keys, tracker: rep, log: log}
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		abort(c, http.StatusBadRequest, invalidFields(err))
		return false
	}
	return true
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}
	sess, err := h.accounts.Register(c.Request.Context(), req.model(), c.ClientIP())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	sess, err := h.accounts.Login(c.Request.Context(), req.Username, req.Password, c.ClientIP())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) checkAvailability(c *gin.Context) {
	var req availabilityRequest
	if !bindJSON(c, &req) {
		return
	}
	av, err := h.accounts.CheckAvailability(c.Request.Context(), req.Username, req.Email)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, av)
}

// forgot answers 200 whether or not the address is registered.
func (h *Handler) forgot(c *gin.Context) {
	var req forgotRequest
	if !bindJSON(c, &req) {
		return
	}
	err := h.accounts.RequestPasswordReset(c.Request.Context(), req.Email, c.ClientIP())
	switch {
	case err == nil, errors.Is(err, errs.ErrNotFound):
	case errors.Is(err, errs.ErrRateLimited):
		h.fail(c, err)
		return
	default:
		h.log.Error("password reset request failed", zap.Error(err))
		h.tracker.Report(c.Request.Context(), err, map[string]string{"route": c.FullPath()})
	}
	c.JSON(http.StatusOK, gin.H{"message": "If the address is registered, a reset code has been sent."})
}

func (h *Handler) resetPassword(c *gin.Context) {
	var req resetRequest
	if !bindJSON(c, &req) {
		return
	}
	sess, err := h.accounts.ResetPassword(c.Request.Context(), req.Email, req.Token, req.Password, c.ClientIP())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) getProfile(c *gin.Context) {
	p, err := h.accounts.Profile(c.Request.Context(), principal(c).UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) updateProfile(c *gin.Context) {
	var req updateRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.accounts.UpdateProfile(c.Request.Context(), principal(c).UserID, req.model())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) deleteAccount(c *gin.Context) {
	if err := h.accounts.SoftDelete(c.Request.Context(), principal(c).UserID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil && n >= 0
}

func (h *Handler) listTodos(c *gin.Context) {
	page, ok1 := queryInt(c, "page", 0)
	size, ok2 := queryInt(c, "size", service.DefaultPageSize)
	if !ok1 || !ok2 {
		abort(c, http.StatusBadRequest, "Invalid paging parameters")
		return
	}
	out, err := h.todos.ListForUser(c.Request.Context(), principal(c).UserID, page, size)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) jwks(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=300")
	c.JSON(http.StatusOK, h.keys.JWKS())
}
