package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-dashboard/internal/api/dto"
	"github.com/spec-kit/ticket-dashboard/internal/service"
	apperrors "github.com/spec-kit/ticket-dashboard/pkg/util/errorutil"
)

// DashboardHandler serves aggregates and the shared filter.
type DashboardHandler struct {
	service *service.DashboardService
}

// NewDashboardHandler constructs handler.
func NewDashboardHandler(svc *service.DashboardService) *DashboardHandler {
	return &DashboardHandler{service: svc}
}

// Dashboard GET /api/dashboard.
func (h *DashboardHandler) Dashboard(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.service.Dashboard()})
}

// SetFilter PUT /api/filters.
func (h *DashboardHandler) SetFilter(c *fiber.Ctx) error {
	var req dto.FilterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	resp, err := h.service.SetFilter(req)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": resp})
}

// SyncStatus GET /api/sync.
func (h *DashboardHandler) SyncStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.service.SyncStatus()})
}

// Refresh POST /api/sync.
func (h *DashboardHandler) Refresh(c *fiber.Ctx) error {
	if err := h.service.Refresh(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.service.SyncStatus()})
}
