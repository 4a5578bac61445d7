package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/wallet-events/internal/model"
	"github.com/richardliu001/wallet-events/internal/repo"
	"github.com/richardliu001/wallet-events/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxPageSize = 500

// DeadLetterStore lists dead letters for operators.
type DeadLetterStore interface {
	ListDeadLetters(ctx context.Context, topic string, limit int) ([]model.DeadLetter, error)
}

// Requeuer moves a FAILED outbox row back to PENDING.
type Requeuer interface {
	Requeue(ctx context.Context, eventID string) error
}

// Handler serves the v1 API.
type Handler struct {
	accounts    *service.AccountService
	ledger      *service.LedgerService
	deadLetters DeadLetterStore
	requeuer    Requeuer
	log         *zap.SugaredLogger
}

func NewHandler(accounts *service.AccountService, ledger *service.LedgerService, dl DeadLetterStore, rq Requeuer, log *zap.SugaredLogger) *Handler {
	return &Handler{accounts: accounts, ledger: ledger, deadLetters: dl, requeuer: rq, log: log}
}

func RegisterHandlers(r gin.IRouter, h *Handler) {
	v1 := r.Group("/v1")
	{
		v1.POST("/users", h.registerUser)
		v1.POST("/users/:id/verify-email", h.verifyEmail)
		v1.POST("/users/:id/password-reset", h.requestPasswordReset)
		v1.POST("/users/:id/password-reset/complete", h.completePasswordReset)
		v1.PATCH("/users/:id/status", h.changeStatus)

		v1.POST("/wallets/:id/deposit", h.deposit)
		v1.POST("/wallets/:id/withdraw", h.withdraw)
		v1.POST("/wallets/:id/transfer", h.transfer)
		v1.GET("/wallets/:id/balance", h.balance)
		v1.GET("/wallets/:id/history", h.history)

		v1.GET("/admin/dead-letters", h.listDeadLetters)
		v1.POST("/admin/outbox/:eventId/requeue", h.requeue)
	}
}

func eventContext(c *gin.Context) model.EventContext {
	return model.EventContext{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Device:    c.GetHeader("X-Device"),
		RequestID: c.GetString(requestIDKey),
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	var invalid *model.ErrInvalidTransition
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrMissingIdempotencyKey),
		errors.Is(err, service.ErrSameWallet),
		errors.Is(err, service.ErrCurrencyMismatch),
		errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrNotOperatorStatus):
		status = http.StatusBadRequest
	case errors.Is(err, repo.ErrUserNotFound),
		errors.Is(err, repo.ErrWalletNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repo.ErrEmailTaken),
		errors.Is(err, repo.ErrNotRequeueable),
		errors.Is(err, service.ErrStatusConflict),
		errors.Is(err, service.ErrIdempotencyKeyReused),
		errors.As(err, &invalid):
		status = http.StatusConflict
	case errors.Is(err, repo.ErrInsufficientFunds):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		h.log.Errorw("request failed", "path", c.FullPath(), "request_id", c.GetString(requestIDKey), "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

type registerReq struct {
	Email string `json:"email" binding:"required"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := h.accounts.RegisterUser(c, req.Email)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *Handler) verifyEmail(c *gin.Context) {
	u, err := h.accounts.VerifyEmail(c, c.Param("id"), eventContext(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) requestPasswordReset(c *gin.Context) {
	if _, err := h.accounts.RequestPasswordReset(c, c.Param("id"), eventContext(c)); err != nil {
		h.fail(c, err)
		return
	}
	// The token travels only by email.
	c.Status(http.StatusAccepted)
}

func (h *Handler) completePasswordReset(c *gin.Context) {
	if err := h.accounts.CompletePasswordReset(c, c.Param("id"), eventContext(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type statusReq struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) changeStatus(c *gin.Context) {
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := h.accounts.ChangeStatus(c, c.Param("id"), model.AccountStatus(req.Status))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

type depositReq struct {
	Amount         string `json:"amount" binding:"required"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
}

func (h *Handler) deposit(c *gin.Context) {
	var req depositReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amt, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	res, err := h.ledger.Deposit(c, c.Param("id"), amt, req.IdempotencyKey, eventContext(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) withdraw(c *gin.Context) {
	var req depositReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amt, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	res, err := h.ledger.Withdraw(c, c.Param("id"), amt, req.IdempotencyKey, eventContext(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type transferReq struct {
	ToID           string `json:"to_id" binding:"required"`
	Amount         string `json:"amount" binding:"required"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
}

func (h *Handler) transfer(c *gin.Context) {
	var req transferReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amt, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	res, err := h.ledger.Transfer(c, c.Param("id"), req.ToID, amt, req.IdempotencyKey, eventContext(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) balance(c *gin.Context) {
	bal, err := h.ledger.Balance(c, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal})
}

func pageSize(c *gin.Context) (int, bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		return 0, false
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit, true
}

func (h *Handler) history(c *gin.Context) {
	limit, ok := pageSize(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	sinceStr := c.DefaultQuery("since", time.Now().Add(-24*time.Hour).Format(time.RFC3339))
	since, err := time.Parse(time.RFC3339, sinceStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
		return
	}
	entries, err := h.ledger.History(c, c.Param("id"), limit, since)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) listDeadLetters(c *gin.Context) {
	limit, ok := pageSize(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	dls, err := h.deadLetters.ListDeadLetters(c, c.Query("topic"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dls)
}

func (h *Handler) requeue(c *gin.Context) {
	if err := h.requeuer.Requeue(c, c.Param("eventId")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
