package management

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"enrollsync/internal/audit"
	"enrollsync/internal/batch"
	"enrollsync/internal/constants"
	"enrollsync/internal/logger"
	"enrollsync/pkg/errors"
	"enrollsync/pkg/middleware"
)

// ActorHeader names the caller on rule changes and retriggers.
const ActorHeader = middleware.UserIDHeader

type BaseHandler struct {
	Service Service
	Logger  logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.Logger.InfowCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}

	c.JSON(status, errors.ToErrorResponse(err))
}

func (h *BaseHandler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err).WithDetail("message", err.Error())))
}

type Handler struct {
	BaseHandler
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{
			Service: service,
			Logger:  log,
		},
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	v1.Use(actorMiddleware())
	{
		rules := v1.Group("/rules/actions")
		{
			rules.GET("", h.ListRules)
			rules.POST("", h.CreateRule)
			rules.POST("/reload", h.ReloadRules)
			rules.GET("/changes", h.ListRuleChanges)
			rules.GET("/:id", h.GetRule)
			rules.PUT("/:id", h.UpdateRule)
			rules.DELETE("/:id", h.DeleteRule)
			rules.GET("/:id/changes", h.GetRuleChanges)
		}

		batches := v1.Group("/batches")
		{
			batches.GET("", h.ListBatches)
			batches.POST("/cut", h.Cut)
			batches.GET("/:id", h.GetBatch)
			batches.GET("/:id/transactions", h.ListTransactions)
			batches.POST("/:id/retrigger", h.RetriggerBatch)
		}

		v1.GET("/audit/records", h.QueryAudit)
	}
}

func actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithActor(c.Request.Context(), Actor{
			ChangedBy: c.GetHeader(ActorHeader),
			IPAddress: c.ClientIP(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ListRules godoc
// @Summary      List action rules
// @Description  List every action rule, enabled or not, in evaluation order
// @Tags         action-rules
// @Produce      json
// @Success      200  {array}   resolver.Rule
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /rules/actions [get]
func (h *Handler) ListRules(c *gin.Context) {
	rules, err := h.Service.ListRules(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// CreateRule godoc
// @Summary      Create an action rule
// @Description  Create an action rule; the CEL expression must compile to a boolean
// @Tags         action-rules
// @Accept       json
// @Produce      json
// @Param        rule  body      CreateRuleRequest  true  "Action rule"
// @Success      201   {object}  resolver.Rule
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      409   {object}  errors.ErrorResponse
// @Failure      500   {object}  errors.ErrorResponse
// @Router       /rules/actions [post]
func (h *Handler) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	rule, err := h.Service.CreateRule(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// GetRule godoc
// @Summary      Get an action rule
// @Tags         action-rules
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {object}  resolver.Rule
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /rules/actions/{id} [get]
func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.Service.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateRule godoc
// @Summary      Update an action rule
// @Description  Update the given fields of an action rule
// @Tags         action-rules
// @Accept       json
// @Produce      json
// @Param        id    path      string             true  "Rule ID"
// @Param        rule  body      UpdateRuleRequest  true  "Fields to change"
// @Success      200   {object}  resolver.Rule
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      404   {object}  errors.ErrorResponse
// @Failure      500   {object}  errors.ErrorResponse
// @Router       /rules/actions/{id} [put]
func (h *Handler) UpdateRule(c *gin.Context) {
	var req UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	rule, err := h.Service.UpdateRule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

// DeleteRule godoc
// @Summary      Delete an action rule
// @Tags         action-rules
// @Param        id   path  string  true  "Rule ID"
// @Success      204  "No Content"
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /rules/actions/{id} [delete]
func (h *Handler) DeleteRule(c *gin.Context) {
	if err := h.Service.DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReloadRules godoc
// @Summary      Reload action rules
// @Description  Ask every batch processor to reload its action rule table
// @Tags         action-rules
// @Success      202  "Accepted"
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /rules/actions/reload [post]
func (h *Handler) ReloadRules(c *gin.Context) {
	if err := h.Service.ReloadRules(c.Request.Context()); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// GetRuleChanges godoc
// @Summary      Get the change log of an action rule
// @Tags         action-rules
// @Produce      json
// @Param        id     path      string  true   "Rule ID"
// @Param        limit  query     int     false  "Maximum number of changes to return (1-1000)" default(100)
// @Success      200    {array}   RuleChange
// @Failure      500    {object}  errors.ErrorResponse
// @Router       /rules/actions/{id}/changes [get]
func (h *Handler) GetRuleChanges(c *gin.Context) {
	changes, err := h.Service.GetRuleChanges(c.Request.Context(), c.Param("id"), parseLimit(c.Query("limit")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, changes)
}

// ListRuleChanges godoc
// @Summary      List action rule changes
// @Tags         action-rules
// @Produce      json
// @Param        limit  query     int  false  "Maximum number of changes to return (1-1000)" default(100)
// @Success      200    {array}   RuleChange
// @Failure      500    {object}  errors.ErrorResponse
// @Router       /rules/actions/changes [get]
func (h *Handler) ListRuleChanges(c *gin.Context) {
	changes, err := h.Service.GetRuleChanges(c.Request.Context(), "", parseLimit(c.Query("limit")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, changes)
}

// ListBatches godoc
// @Summary      List batches
// @Description  List batches, newest first, optionally filtered by state
// @Tags         batches
// @Produce      json
// @Param        state   query     string  false  "open, pending_transmission, closed or error"
// @Param        limit   query     int     false  "Maximum number of batches to return (1-1000)" default(100)
// @Param        offset  query     int     false  "Number of batches to skip"
// @Success      200     {array}   batch.Batch
// @Failure      400     {object}  errors.ErrorResponse
// @Failure      500     {object}  errors.ErrorResponse
// @Router       /batches [get]
func (h *Handler) ListBatches(c *gin.Context) {
	state, err := validateBatchState(c.Query("state"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	batches, err := h.Service.ListBatches(c.Request.Context(), batch.ListFilter{
		State:  state,
		Limit:  parseLimit(c.Query("limit")),
		Offset: parseOffset(c.Query("offset")),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, batches)
}

// GetBatch godoc
// @Summary      Get a batch
// @Tags         batches
// @Produce      json
// @Param        id   path      string  true  "Batch ID"
// @Success      200  {object}  batch.Batch
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /batches/{id} [get]
func (h *Handler) GetBatch(c *gin.Context) {
	b, err := h.Service.GetBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// ListTransactions godoc
// @Summary      List the transactions of a batch
// @Description  List stored enrollment event messages in arrival order with their last outcome
// @Tags         batches
// @Produce      json
// @Param        id   path      string  true  "Batch ID"
// @Success      200  {array}   batch.Transaction
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /batches/{id}/transactions [get]
func (h *Handler) ListTransactions(c *gin.Context) {
	txs, err := h.Service.ListTransactions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, txs)
}

// RetriggerBatch godoc
// @Summary      Retrigger a failed batch
// @Description  Hand a batch in error back to the processor; only unfinished transactions run again
// @Tags         batches
// @Produce      json
// @Param        id   path      string  true  "Batch ID"
// @Success      202  {object}  batch.Batch
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      409  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /batches/{id}/retrigger [post]
func (h *Handler) RetriggerBatch(c *gin.Context) {
	b, err := h.Service.RetriggerBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, b)
}

// Cut godoc
// @Summary      Cut open batches
// @Description  Dispatch every processable open batch to the batch processor now
// @Tags         batches
// @Produce      json
// @Success      202  {object}  CutResult
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /batches/cut [post]
func (h *Handler) Cut(c *gin.Context) {
	result, err := h.Service.Cut(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// QueryAudit godoc
// @Summary      Query enrollment event outcomes
// @Description  Query the audit records written for every enrollment event outcome, newest first
// @Tags         audit
// @Produce      json
// @Param        hbx_enrollment_id  query     string  false  "Enrollment ID"
// @Param        enrollment_action  query     string  false  "Enrollment action URI"
// @Param        event_key          query     string  false  "Outcome event key"
// @Param        batch_id           query     string  false  "Batch ID"
// @Param        limit              query     int     false  "Maximum number of records to return (1-1000)" default(100)
// @Param        offset             query     int     false  "Number of records to skip"
// @Success      200                {array}   audit.Record
// @Failure      500                {object}  errors.ErrorResponse
// @Router       /audit/records [get]
func (h *Handler) QueryAudit(c *gin.Context) {
	records, err := h.Service.QueryAudit(c.Request.Context(), audit.Query{
		HbxEnrollmentID:  c.Query("hbx_enrollment_id"),
		EnrollmentAction: c.Query("enrollment_action"),
		EventKey:         c.Query("event_key"),
		BatchID:          c.Query("batch_id"),
		Limit:            parseLimit(c.Query("limit")),
		Offset:           parseOffset(c.Query("offset")),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func parseLimit(limitStr string) int {
	if limitStr == "" {
		return constants.DefaultLimit
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed <= 0 || parsed > constants.MaxLimit {
		return constants.DefaultLimit
	}
	return parsed
}

func parseOffset(offsetStr string) int {
	parsed, err := strconv.Atoi(offsetStr)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
