package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-dashboard/internal/api/dto"
	"github.com/spec-kit/ticket-dashboard/internal/service"
	apperrors "github.com/spec-kit/ticket-dashboard/pkg/util/errorutil"
)

// PreferencesHandler manages per-user list preferences and the event
// journal.
type PreferencesHandler struct {
	service *service.DashboardService
}

// NewPreferencesHandler constructs handler.
func NewPreferencesHandler(svc *service.DashboardService) *PreferencesHandler {
	return &PreferencesHandler{service: svc}
}

// Get GET /api/preferences.
func (h *PreferencesHandler) Get(c *fiber.Ctx) error {
	prefs, err := h.service.Preferences(c.UserContext(), subjectID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewPreferencesResponse(prefs)})
}

// Put PUT /api/preferences.
func (h *PreferencesHandler) Put(c *fiber.Ctx) error {
	var req dto.PreferencesRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	prefs, err := h.service.SavePreferences(c.UserContext(), subjectID(c), req)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewPreferencesResponse(prefs)})
}

// Journal GET /api/journal.
func (h *PreferencesHandler) Journal(c *fiber.Ctx) error {
	var ticketID *int64
	if raw := c.Query("ticketId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return apperrors.NewValidationError("invalid ticketId", map[string]any{"ticketId": raw})
		}
		ticketID = &id
	}
	entries, err := h.service.Journal(c.UserContext(), c.QueryInt("limit"), ticketID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewJournalEntryResponses(entries)})
}
