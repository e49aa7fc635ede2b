package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/modporter/api/internal/model"
	"github.com/modporter/api/internal/service"
	"github.com/modporter/api/internal/store"
	"github.com/modporter/api/pkg/response"
)

type UploadHandler struct {
	service       *service.UploadService
	validator     *validator.Validate
	maxChunkBytes int64
}

func NewUploadHandler(svc *service.UploadService, v *validator.Validate, maxChunkBytes int64) *UploadHandler {
	return &UploadHandler{
		service:       svc,
		validator:     v,
		maxChunkBytes: maxChunkBytes,
	}
}

// Init handles POST /api/upload/init
// @Summary      Start chunked mod upload
// @Description  Create an upload session for a fixed number of chunks
// @Tags         Upload
// @Accept       json
// @Produce      json
// @Param        request body model.UploadInitRequest true "Upload init request"
// @Success      201 {object} model.UploadInitResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/upload/init [post]
func (h *UploadHandler) Init(c *fiber.Ctx) error {
	var req model.UploadInitRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	session, err := h.service.InitSession(c.Context(), req.TotalChunks)
	if err != nil {
		if errors.Is(err, store.ErrInvalidArgument) {
			return response.ValidationError(c, "totalChunks must be positive", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, model.UploadInitResponse{
		SessionID:   session.ID,
		TotalChunks: session.TotalChunks,
	})
}

// Chunk handles POST /api/upload/chunk
// @Summary      Upload one chunk
// @Description  Submit a 0-based chunk for an open session; chunks may arrive in any order
// @Tags         Upload
// @Accept       multipart/form-data
// @Produce      json
// @Param        sessionId   formData string true "Session ID"
// @Param        chunkNumber formData int    true "0-based chunk index"
// @Param        totalChunks formData int    false "Expected chunk count, cross-checked against the session"
// @Param        file        formData file   true "Chunk bytes"
// @Success      200 {object} model.UploadChunkResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      422 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/upload/chunk [post]
func (h *UploadHandler) Chunk(c *fiber.Ctx) error {
	sessionID := c.FormValue("sessionId")
	if _, err := uuid.Parse(sessionID); err != nil {
		return response.Unprocessable(c, "sessionId is not a valid UUID", nil)
	}

	index, err := strconv.Atoi(c.FormValue("chunkNumber"))
	if err != nil {
		return response.Unprocessable(c, "chunkNumber must be an integer", nil)
	}

	session, err := h.service.Progress(c.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Upload session not found or expired")
		}
		return response.ServiceError(c, err.Error())
	}

	if raw := c.FormValue("totalChunks"); raw != "" {
		total, err := strconv.Atoi(raw)
		if err != nil || total != session.TotalChunks {
			return response.Unprocessable(c, "totalChunks does not match the session", map[string]interface{}{
				"expected": session.TotalChunks,
			})
		}
	}

	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}
	if file.Size > h.maxChunkBytes {
		return response.ValidationError(c, "Chunk exceeds size limit", map[string]interface{}{
			"maxSize":   h.maxChunkBytes,
			"chunkSize": file.Size,
		})
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open chunk")
	}
	defer f.Close()

	mark, err := h.service.PutChunk(c.Context(), sessionID, index, f)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return response.NotFound(c, "Upload session not found or expired")
		case errors.Is(err, store.ErrInvalidArgument):
			return response.Unprocessable(c, "Chunk index out of range", map[string]interface{}{
				"totalChunks": session.TotalChunks,
			})
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.UploadChunkResponse{
		Status:   mark.Status,
		Received: mark.Received,
		Total:    mark.Total,
	})
}

// Complete handles POST /api/upload/complete
// @Summary      Complete chunked upload
// @Description  Assemble the received chunks, in index order, into the mod artifact
// @Tags         Upload
// @Accept       json
// @Produce      json
// @Param        request body model.UploadCompleteRequest true "Completion request"
// @Success      200 {object} model.UploadCompleteResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/upload/complete [post]
func (h *UploadHandler) Complete(c *fiber.Ctx) error {
	var req model.UploadCompleteRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	ref, err := h.service.Complete(c.Context(), req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return response.NotFound(c, "Upload session not found or expired")
		case errors.Is(err, store.ErrIncomplete):
			return response.Conflict(c, "Upload incomplete: not all chunks received")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.UploadCompleteResponse{
		ArtifactID: ref.ID,
		Size:       ref.Size,
	})
}

// Progress handles GET /api/upload/:sessionId/progress
// @Summary      Upload progress
// @Tags         Upload
// @Produce      json
// @Param        sessionId path string true "Session ID"
// @Success      200 {object} model.UploadProgressResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/upload/{sessionId}/progress [get]
func (h *UploadHandler) Progress(c *fiber.Ctx) error {
	sessionID := c.Params("sessionId")

	session, err := h.service.Progress(c.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Upload session not found or expired")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.UploadProgressResponse{
		Received: session.Received,
		Total:    session.TotalChunks,
	})
}

// Cancel handles DELETE /api/upload/:sessionId
// @Summary      Cancel upload session
// @Description  Release the session and its chunk storage; idempotent
// @Tags         Upload
// @Produce      json
// @Param        sessionId path string true "Session ID"
// @Success      204 "No Content"
// @Security     BearerAuth
// @Router       /api/upload/{sessionId} [delete]
func (h *UploadHandler) Cancel(c *fiber.Ctx) error {
	sessionID := c.Params("sessionId")

	if err := h.service.Cancel(c.Context(), sessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return response.ServiceError(c, err.Error())
	}

	return response.NoContent(c)
}
