package handler

import (
	"net/http"
	"time"

	"pettycash/internal/dto"
	"pettycash/internal/metrics"
	"pettycash/internal/service"

	"github.com/gin-gonic/gin"
)

type CashHandler struct {
	sessions service.SessionService
	ledger   service.LedgerService
	recon    service.ReconciliationService
	metrics  *metrics.Metrics
}

// NewCashHandler builds the cash endpoints. m may be nil.
func NewCashHandler(sessions service.SessionService, ledger service.LedgerService, recon service.ReconciliationService, m *metrics.Metrics) *CashHandler {
	return &CashHandler{sessions: sessions, ledger: ledger, recon: recon, metrics: m}
}

// ── Sessions ──────────────────────────────────────────────────────────────────

// Open godoc
// @Summary Open a cash session on a register
// @Tags cash
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.OpenSessionRequest true "Opening data"
// @Success 201 {object} model.CashSession
// @Failure 409 {object} apierror.APIError
// @Failure 422 {object} apierror.FieldsError
// @Router /v1/cash/sessions [post]
func (h *CashHandler) Open(c *gin.Context) {
	var req dto.OpenSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	session, err := h.sessions.Open(c.Request.Context(), callerFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// Active godoc
// @Summary Active session of a register
// @Tags cash
// @Produce json
// @Security BearerAuth
// @Param register path int true "Register number"
// @Success 200 {object} dto.ActiveSessionResponse
// @Router /v1/cash/registers/{register}/active [get]
func (h *CashHandler) Active(c *gin.Context) {
	register, ok := registerParam(c)
	if !ok {
		return
	}
	session, err := h.sessions.GetActive(c.Request.Context(), register)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ActiveSessionResponse{RegisterID: register, Active: session != nil, Session: session})
}

// LastClosed godoc
// @Summary Counted balance of the register's last closed session
// @Tags cash
// @Produce json
// @Security BearerAuth
// @Param register path int true "Register number"
// @Success 200 {object} dto.LastClosedBalanceResponse
// @Router /v1/cash/registers/{register}/last-closed [get]
func (h *CashHandler) LastClosed(c *gin.Context) {
	register, ok := registerParam(c)
	if !ok {
		return
	}
	resp, err := h.sessions.LastClosedBalance(c.Request.Context(), register)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// List godoc
// @Summary Paginated session history
// @Tags cash
// @Produce json
// @Security BearerAuth
// @Param register_id query int false "Register"
// @Param status query string false "open, suspended or closed"
// @Param page query int false "Page (default 1)"
// @Param limit query int false "Page size (default 20)"
// @Success 200 {object} dto.SessionListResponse
// @Router /v1/cash/sessions [get]
func (h *CashHandler) List(c *gin.Context) {
	var filter dto.SessionFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid query: " + err.Error()})
		return
	}
	if !validateStruct(c, &filter) {
		return
	}
	resp, err := h.sessions.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Stats godoc
// @Summary Session counts and opening amount aggregates
// @Tags cash
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.SessionStatsResponse
// @Router /v1/cash/sessions/stats [get]
func (h *CashHandler) Stats(c *gin.Context) {
	resp, err := h.sessions.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Suspend godoc
// @Summary Pause an open session
// @Tags cash
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} model.CashSession
// @Failure 409 {object} apierror.APIError
// @Router /v1/cash/sessions/{id}/suspend [post]
func (h *CashHandler) Suspend(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	session, err := h.sessions.Suspend(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Resume godoc
// @Summary Reopen a suspended session
// @Tags cash
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} model.CashSession
// @Failure 409 {object} apierror.APIError
// @Router /v1/cash/sessions/{id}/resume [post]
func (h *CashHandler) Resume(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	session, err := h.sessions.Resume(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Close godoc
// @Summary Close a session against the counted cash
// @Tags cash
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param body body dto.CloseSessionRequest true "Counted cash"
// @Success 200 {object} model.CashClosure
// @Failure 404 {object} apierror.APIError
// @Failure 409 {object} apierror.APIError
// @Router /v1/cash/sessions/{id}/close [post]
func (h *CashHandler) Close(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.CloseSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	closure, err := h.sessions.Close(c.Request.Context(), callerFrom(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	h.metrics.ClosureRecorded(closure.Classification)
	c.JSON(http.StatusOK, closure)
}

// Delete godoc
// @Summary Force delete a session and everything it owns
// @Tags cash
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 204
// @Failure 403 {object} apierror.APIError
// @Failure 404 {object} apierror.APIError
// @Router /v1/cash/sessions/{id} [delete]
func (h *CashHandler) Delete(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.sessions.ForceDelete(c.Request.Context(), callerFrom(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Summary godoc
// @Summary Read-only reconciliation summary
// @Tags cash
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} dto.ClosureSummary
// @Failure 404 {object} apierror.APIError
// @Router /v1/cash/sessions/{id}/summary [get]
func (h *CashHandler) Summary(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	resp, err := h.recon.Summary(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// IncomeSummary godoc
// @Summary Income totals per category of a session
// @Tags cash
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} dto.IncomeSummary
// @Failure 404 {object} apierror.APIError
// @Router /v1/cash/sessions/{id}/incomes/summary [get]
func (h *CashHandler) IncomeSummary(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	resp, err := h.recon.IncomeSummary(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ── Closures / reports ────────────────────────────────────────────────────────

// Closures godoc
// @Summary Closure history, newest first
// @Tags cash
// @Produce json
// @Security BearerAuth
// @Param register_id query int false "Register"
// @Param limit query int false "Max rows (default 10, max 100)"
// @Success 200 {array} model.CashClosure
// @Router /v1/cash/closures [get]
func (h *CashHandler) Closures(c *gin.Context) {
	var filter dto.ClosureFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid query: " + err.Error()})
		return
	}
	if !validateStruct(c, &filter) {
		return
	}
	resp, err := h.recon.ListClosures(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Closure godoc
// @Summary One closure with its session
// @Tags cash
// @Produce json
// @Security BearerAuth
// @Param id path string true "Closure ID"
// @Success 200 {object} model.CashClosure
// @Failure 404 {object} apierror.APIError
// @Router /v1/cash/closures/{id} [get]
func (h *CashHandler) Closure(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	closure, err := h.recon.GetClosure(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, closure)
}

// DailyReport godoc
// @Summary Sessions opened on a day with their closure totals
// @Tags cash
// @Produce json
// @Security BearerAuth
// @Param date query string false "UTC day, YYYY-MM-DD (default today)"
// @Success 200 {object} dto.DailyCashReport
// @Failure 422 {object} apierror.FieldsError
// @Router /v1/cash/reports/daily [get]
func (h *CashHandler) DailyReport(c *gin.Context) {
	var q dto.DailyReportQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid query: " + err.Error()})
		return
	}
	if !validateStruct(c, &q) {
		return
	}
	day := time.Now().UTC()
	if q.Date != "" {
		day, _ = time.Parse("2006-01-02", q.Date)
	}
	resp, err := h.recon.DailyReport(c.Request.Context(), day)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ── Ledger ────────────────────────────────────────────────────────────────────

// Transactions godoc
// @Summary Expenses, purchases and incomes of a session
// @Tags cash
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} dto.TransactionsResponse
// @Router /v1/cash/sessions/{id}/transactions [get]
func (h *CashHandler) Transactions(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	resp, err := h.ledger.ListTransactions(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RecordExpense godoc
// @Summary Record an expense paid from the drawer
// @Tags cash
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param Idempotency-Key header string false "Client retry key"
// @Param body body dto.ExpenseRequest true "Expense"
// @Success 201 {object} model.Expense
// @Failure 409 {object} apierror.APIError
// @Failure 422 {object} apierror.FieldsError
// @Router /v1/cash/sessions/{id}/expenses [post]
func (h *CashHandler) RecordExpense(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.ExpenseRequest
	if !bindAndValidate(c, &req) {
		return
	}
	req.IdempotencyKey = idempotencyKey(c, req.IdempotencyKey)
	e, err := h.ledger.RecordExpense(c.Request.Context(), callerFrom(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

// RecordPurchase godoc
// @Summary Record a purchase paid from the drawer
// @Tags cash
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param Idempotency-Key header string false "Client retry key"
// @Param body body dto.PurchaseRequest true "Purchase"
// @Success 201 {object} model.Purchase
// @Failure 409 {object} apierror.APIError
// @Failure 422 {object} apierror.FieldsError
// @Router /v1/cash/sessions/{id}/purchases [post]
func (h *CashHandler) RecordPurchase(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.PurchaseRequest
	if !bindAndValidate(c, &req) {
		return
	}
	req.IdempotencyKey = idempotencyKey(c, req.IdempotencyKey)
	p, err := h.ledger.RecordPurchase(c.Request.Context(), callerFrom(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// RecordIncome godoc
// @Summary Record cash received into the drawer
// @Tags cash
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param Idempotency-Key header string false "Client retry key"
// @Param body body dto.IncomeRequest true "Income"
// @Success 201 {object} model.Income
// @Failure 409 {object} apierror.APIError
// @Failure 422 {object} apierror.FieldsError
// @Router /v1/cash/sessions/{id}/incomes [post]
func (h *CashHandler) RecordIncome(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.IncomeRequest
	if !bindAndValidate(c, &req) {
		return
	}
	req.IdempotencyKey = idempotencyKey(c, req.IdempotencyKey)
	i, err := h.ledger.RecordIncome(c.Request.Context(), callerFrom(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, i)
}
