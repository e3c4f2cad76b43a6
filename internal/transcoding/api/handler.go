package api

import (
	"errors"
	"strconv"

	"video_transcoding_service/internal/transcoding/app"
	"video_transcoding_service/internal/transcoding/domain"
	"video_transcoding_service/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const defaultTopMessages = 10

// TranscodeHandler definition HTTP surface of the transcoding usecase
type TranscodeHandler struct {
	Usecase app.TranscodeUseCase
}

// ErrorRes error body
type ErrorRes struct {
	Error string `json:"error"`
}

// SubmitJob POST /jobs
func (h *TranscodeHandler) SubmitJob(c *fiber.Ctx) error {
	var req domain.SubmitJobReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorRes{Error: "invalid request body: " + err.Error()})
	}

	res, err := h.Usecase.Submit(c.UserContext(), req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidJob) {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorRes{Error: err.Error()})
		}
		logger.Log.Error("submit job failed", zap.String("job_id", req.JobID), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorRes{Error: err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(res)
}

// GetStatus GET /jobs/:id
func (h *TranscodeHandler) GetStatus(c *fiber.Ctx) error {
	res, err := h.Usecase.GetStatus(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorRes{Error: err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorRes{Error: err.Error()})
	}
	return c.JSON(res)
}

// GetErrors GET /jobs/:id/errors, history of the workers running in this process only
func (h *TranscodeHandler) GetErrors(c *fiber.Ctx) error {
	errs := h.Usecase.GetErrors(c.Params("id"))
	if errs == nil {
		errs = []domain.ClassifiedError{}
	}
	return c.JSON(fiber.Map{
		"job_id": c.Params("id"),
		"errors": errs,
	})
}

// ErrorStats GET /diagnostics/errors?top=N, over the history of this process only
func (h *TranscodeHandler) ErrorStats(c *fiber.Ctx) error {
	top := defaultTopMessages
	if raw := c.Query("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorRes{Error: "top must be a non-negative integer"})
		}
		top = n
	}
	return c.JSON(h.Usecase.ErrorStats(top))
}

// Health GET /health, 503 while the pool is not consuming
func (h *TranscodeHandler) Health(c *fiber.Ctx) error {
	health := h.Usecase.Health(c.UserContext())
	if !health.Healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(health)
	}
	return c.JSON(health)
}
