package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// WebhookSecretHeader carries the secret of api-webhook triggers.
const WebhookSecretHeader = "X-Docflow-Secret"

type APIHandlers struct {
	engine    *services.Engine
	validator *validator.Validate
}

func NewAPIHandlers(engine *services.Engine, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		engine:    engine,
		validator: validator,
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req, err := parseListWorkflowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.engine.Workflows.List(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func parseListWorkflowsRequest(c fiber.Ctx) (*services.ListWorkflowsRequest, error) {
	req := &services.ListWorkflowsRequest{
		Category:  models.Category(c.Query("category")),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}

	var err error

	if req.Limit, err = queryInt(c, "limit"); err != nil {
		return nil, err
	}

	if req.Offset, err = queryInt(c, "offset"); err != nil {
		return nil, err
	}

	if enabledStr := c.Query("enabled"); enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return nil, err
		}

		req.Enabled = &enabled
	}

	return req, nil
}

func queryInt(c fiber.Ctx, key string) (int, error) {
	value := c.Query(key)
	if value == "" {
		return 0, nil
	}

	return strconv.Atoi(value)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var definition models.Workflow
	if err := c.Bind().JSON(&definition); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	created, err := h.engine.Workflows.Define(c.Context(), &definition)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.engine.Workflows.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) GetWorkflowVersion(c fiber.Ctx) error {
	version, err := strconv.Atoi(c.Params("version"))
	if err != nil {
		return badRequest(c, "Version must be a number")
	}

	workflow, err := h.engine.Workflows.GetVersion(c.Context(), c.Params("id"), version)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var patch models.WorkflowPatch
	if err := c.Bind().JSON(&patch); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	updated, err := h.engine.Workflows.Update(c.Context(), c.Params("id"), patch)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) EnableWorkflow(c fiber.Ctx) error {
	return h.setEnabled(c, true)
}

func (h *APIHandlers) DisableWorkflow(c fiber.Ctx) error {
	return h.setEnabled(c, false)
}

func (h *APIHandlers) setEnabled(c fiber.Ctx, enabled bool) error {
	workflow, err := h.engine.Workflows.SetEnabled(c.Context(), c.Params("id"), enabled)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.engine.Workflows.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ExecuteWorkflow runs a workflow. With ?async=true it answers 202 with the
// execution id as soon as the execution is dispatched.
func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	var body ExecuteWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&body); err != nil {
			return badRequest(c, "Invalid JSON format: "+err.Error())
		}
	}

	if err := h.validator.Struct(body); err != nil {
		return badRequest(c, err.Error())
	}

	req := services.ExecuteRequest{
		WorkflowID:  c.Params("id"),
		Version:     body.Version,
		DocumentID:  body.DocumentID,
		Metadata:    body.Metadata,
		Variables:   body.Variables,
		Permissions: body.Permissions,
		InitiatedBy: body.InitiatedBy,
		Trigger:     body.Trigger,
	}

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		// The request context is recycled once the handler returns.
		id, err := h.engine.StartWorkflow(context.Background(), req)
		if err != nil {
			return handleServiceError(c, err)
		}

		return c.Status(fiber.StatusAccepted).JSON(ExecutionAccepted{ExecutionID: id, WorkflowID: req.WorkflowID})
	}

	execution, err := h.engine.ExecuteWorkflow(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

// TriggerWebhook runs a workflow through its api-webhook trigger. The
// request body is exposed to conditions as variables.payload.
func (h *APIHandlers) TriggerWebhook(c fiber.Ctx) error {
	var payload map[string]any
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&payload); err != nil {
			return badRequest(c, "Invalid JSON format: "+err.Error())
		}
	}

	execution, err := h.engine.TriggerWebhook(c.Context(), c.Get(WebhookSecretHeader), services.ExecuteRequest{
		WorkflowID:  c.Params("id"),
		DocumentID:  c.Query("document_id"),
		Variables:   map[string]any{"payload": payload},
		InitiatedBy: "webhook",
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return badRequest(c, "Invalid limit")
	}

	executions, err := h.engine.ListExecutions(c.Context(), c.Params("id"), limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	if executions == nil {
		executions = []*models.Execution{}
	}

	return c.JSON(ExecutionsResponse{Executions: executions})
}

func (h *APIHandlers) GetWorkflowMetrics(c fiber.Ctx) error {
	return h.metrics(c, c.Params("id"))
}

func (h *APIHandlers) GetAllMetrics(c fiber.Ctx) error {
	return h.metrics(c, "")
}

func (h *APIHandlers) metrics(c fiber.Ctx, workflowID string) error {
	out, err := h.engine.Metrics(c.Context(), workflowID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(MetricsResponse{Metrics: out})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.engine.GetExecution(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	if err := h.engine.CancelExecution(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) ProcessDocument(c fiber.Ctx) error {
	var body ProcessDocumentRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&body); err != nil {
			return badRequest(c, "Invalid JSON format: "+err.Error())
		}
	}

	item, err := h.engine.ProcessDocument(c.Context(), c.Params("id"), body.WorkflowID, body.SkipIfAnalyzed)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(item)
}

func (h *APIHandlers) ProcessBatch(c fiber.Ctx) error {
	var body BatchRequest
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(body); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.engine.ProcessDocuments(c.Context(), services.ProcessRequest{
		DocumentIDs:       body.DocumentIDs,
		WorkflowID:        body.WorkflowID,
		MaxConcurrent:     body.MaxConcurrent,
		MaxProcessingTime: body.maxProcessingTime(),
		SkipIfAnalyzed:    body.SkipIfAnalyzed,
		InitiatedBy:       body.InitiatedBy,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) CreateApproval(c fiber.Ctx) error {
	var req models.ApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	approval, err := h.engine.CreateApproval(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(approval)
}

func (h *APIHandlers) GetApproval(c fiber.Ctx) error {
	approval, err := h.engine.GetApproval(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(approval)
}

func (h *APIHandlers) DecideApproval(c fiber.Ctx) error {
	var body DecisionRequest
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(body); err != nil {
		return badRequest(c, err.Error())
	}

	approval, err := h.engine.DecideApproval(c.Context(), services.DecideRequest{
		ApprovalID: c.Params("id"),
		StageID:    body.StageID,
		Approver:   body.Approver,
		Decision:   body.Decision,
		Comment:    body.Comment,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(approval)
}

func (h *APIHandlers) CancelApproval(c fiber.Ctx) error {
	approval, err := h.engine.CancelApproval(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(approval)
}

func (h *APIHandlers) GetCapabilities(c fiber.Ctx) error {
	return c.JSON(h.engine.Capabilities())
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	check, ok := h.engine.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   check,
		"running":   len(h.engine.RunningExecutions()),
		"timestamp": time.Now().UTC(),
	})
}

// Register mounts every handler on router.
func (h *APIHandlers) Register(router fiber.Router) {
	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Patch("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Get("/:id/versions/:version", h.GetWorkflowVersion)
	w.Post("/:id/enable", h.EnableWorkflow)
	w.Post("/:id/disable", h.DisableWorkflow)
	w.Post("/:id/execute", h.ExecuteWorkflow)
	w.Post("/:id/webhook", h.TriggerWebhook)
	w.Get("/:id/executions", h.GetWorkflowExecutions)
	w.Get("/:id/metrics", h.GetWorkflowMetrics)

	e := router.Group("/executions")
	e.Get("/:id", h.GetExecution)
	e.Post("/:id/cancel", h.CancelExecution)

	router.Post("/documents/:id/process", h.ProcessDocument)
	router.Post("/batches", h.ProcessBatch)

	a := router.Group("/approvals")
	a.Post("/", h.CreateApproval)
	a.Get("/:id", h.GetApproval)
	a.Post("/:id/decisions", h.DecideApproval)
	a.Post("/:id/cancel", h.CancelApproval)

	router.Get("/workflow-metrics", h.GetAllMetrics)
	router.Get("/capabilities", h.GetCapabilities)
	router.Get("/health", h.HealthCheck)
}
