package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/pagemill/api/internal/model"
	"github.com/pagemill/api/internal/queue"
	"github.com/pagemill/api/internal/service"
	"github.com/pagemill/api/internal/store"
	"github.com/pagemill/api/pkg/response"
)

type ConvertHandler struct {
	service   *service.ConvertService
	validator *validator.Validate
}

func NewConvertHandler(svc *service.ConvertService, v *validator.Validate) *ConvertHandler {
	return &ConvertHandler{
		service:   svc,
		validator: v,
	}
}

// Submit handles POST /api/convert. The conversion runs asynchronously;
// the response carries the job id to poll.
func (h *ConvertHandler) Submit(c *fiber.Ctx) error {
	var req model.ConvertRequest
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

// Status handles GET /api/convert/status/:jobId
func (h *ConvertHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), jobID)
	if err != nil {
		return mapLookupError(c, err, "Job not found")
	}

	return response.OK(c, result)
}

// Result handles GET /api/convert/result/:jobId
func (h *ConvertHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetResult(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrNotCompleted) {
			return response.Conflict(c, response.CodeJobNotCompleted, "Job not completed yet")
		}
		if errors.Is(err, service.ErrJobFailed) {
			return response.Conflict(c, response.CodeJobFailed, err.Error())
		}
		return mapLookupError(c, err, "Job not found")
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/convert/cancel/:jobId
func (h *ConvertHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Cancel(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, queue.ErrNotCancelable) {
			return response.Conflict(c, response.CodeNotCancelable, "Job already dequeued or finished")
		}
		return mapLookupError(c, err, "Job not found")
	}

	return response.OK(c, result)
}

func mapSubmitError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidDocument):
		return response.ValidationError(c, err.Error(), nil)
	case errors.Is(err, queue.ErrUnavailable):
		return response.Unavailable(c, response.CodeBrokerUnavailable, "Broker unavailable, retry later")
	case errors.Is(err, store.ErrUnavailable):
		return response.Unavailable(c, response.CodeStoreUnavailable, "Store unavailable, retry later")
	default:
		return response.ServiceError(c, err.Error())
	}
}

func mapLookupError(c *fiber.Ctx, err error, notFoundMsg string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return response.NotFound(c, notFoundMsg)
	case errors.Is(err, store.ErrUnavailable):
		return response.Unavailable(c, response.CodeStoreUnavailable, "Store unavailable, retry later")
	case errors.Is(err, queue.ErrUnavailable):
		return response.Unavailable(c, response.CodeBrokerUnavailable, "Broker unavailable, retry later")
	default:
		return response.ServiceError(c, err.Error())
	}
}
