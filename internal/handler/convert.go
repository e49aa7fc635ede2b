package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/modporter/api/internal/model"
	"github.com/modporter/api/internal/service"
	"github.com/modporter/api/internal/store"
	"github.com/modporter/api/pkg/response"
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

// Start handles POST /api/convert
// @Summary      Start conversion job
// @Description  Queue a conversion of an uploaded mod artifact to a Bedrock add-on
// @Tags         Convert
// @Accept       json
// @Produce      json
// @Param        request body model.ConvertStartRequest true "Conversion request"
// @Success      202 {object} model.ConvertStartResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/convert [post]
func (h *ConvertHandler) Start(c *fiber.Ctx) error {
	var req model.ConvertStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Start(c.Context(), &req)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.ValidationError(c, "Unknown artifact; upload the mod package first", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/convert/status/:jobId
// @Summary      Get conversion job status
// @Tags         Convert
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.ConvertStatusResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/convert/status/{jobId} [get]
func (h *ConvertHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Result handles GET /api/convert/result/:jobId
// @Summary      Get conversion result
// @Description  Return the finalized conversion report; 404 until the job completes
// @Tags         Convert
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.ConversionResult
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/convert/result/{jobId} [get]
func (h *ConvertHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetResult(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Result not available")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/convert/cancel/:jobId
// @Summary      Cancel conversion job
// @Description  Request cancellation; observed at the next stage boundary
// @Tags         Convert
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.ConvertCancelResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/convert/cancel/{jobId} [post]
func (h *ConvertHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Cancel(c.Context(), jobID, c.Query("reason"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, store.ErrConflict):
			return response.Conflict(c, "Job already finished")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// List handles GET /api/convert/jobs
// @Summary      List conversion jobs
// @Tags         Convert
// @Produce      json
// @Param        status   query string false "Filter by status"
// @Param        page     query int    false "Page (1-based)"
// @Param        pageSize query int    false "Page size"
// @Success      200 {object} model.JobListResponse
// @Failure      400 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/convert/jobs [get]
func (h *ConvertHandler) List(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("pageSize", "20"))

	result, err := h.service.List(c.Context(), c.Query("status"), page, pageSize)
	if err != nil {
		if errors.Is(err, store.ErrInvalidArgument) {
			return response.ValidationError(c, "Unknown status filter", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
