package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/pagemill/api/internal/model"
	"github.com/pagemill/api/internal/service"
	"github.com/pagemill/api/pkg/response"
)

type BatchHandler struct {
	service   *service.BatchService
	validator *validator.Validate
}

func NewBatchHandler(svc *service.BatchService, v *validator.Validate) *BatchHandler {
	return &BatchHandler{
		service:   svc,
		validator: v,
	}
}

// Submit handles POST /api/batch. All documents are validated before any
// job is persisted, so a bad member rejects the whole batch.
func (h *BatchHandler) Submit(c *fiber.Ctx) error {
	var req model.BatchRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Submit(c.Context(), &req)
	if err != nil {
		return mapSubmitError(c, err)
	}

	return response.Accepted(c, result)
}

// Get handles GET /api/batch/:batchId
func (h *BatchHandler) Get(c *fiber.Ctx) error {
	batchID := c.Params("batchId")
	if batchID == "" {
		return response.ValidationError(c, "Batch ID is required", nil)
	}

	result, err := h.service.Get(c.Context(), batchID)
	if err != nil {
		return mapLookupError(c, err, "Batch not found")
	}

	return response.OK(c, result)
}
