package api

import (
	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes bind the transcoding endpoints on r
func RegisterRoutes(r fiber.Router, h *TranscodeHandler) {
	jobs := r.Group("/jobs")
	jobs.Post("", h.SubmitJob)
	jobs.Get("/:id", h.GetStatus)
	jobs.Get("/:id/errors", h.GetErrors)

	r.Get("/diagnostics/errors", h.ErrorStats)
	r.Get("/health", h.Health)
}

// NewApp fiber app with the transcoding routes
func NewApp(h *TranscodeHandler) *fiber.App {
	r := fiber.New(fiber.Config{
		AppName:               "transcode_service",
		DisableStartupMessage: true,
	})
	RegisterRoutes(r, h)
	return r
}
