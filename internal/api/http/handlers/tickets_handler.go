package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-dashboard/internal/api/dto"
	"github.com/spec-kit/ticket-dashboard/internal/auth"
	"github.com/spec-kit/ticket-dashboard/internal/service"
	apperrors "github.com/spec-kit/ticket-dashboard/pkg/util/errorutil"
)

const defaultKeepAlive = 15 * time.Second

// TicketsHandler serves the ticket list, detail and live detail stream.
type TicketsHandler struct {
	service   *service.DashboardService
	keepAlive time.Duration
	done      <-chan struct{}
	logger    *zap.Logger
}

// NewTicketsHandler constructs handler. Open streams end when done is
// closed.
func NewTicketsHandler(svc *service.DashboardService, keepAlive time.Duration, done <-chan struct{}, logger *zap.Logger) *TicketsHandler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketsHandler{service: svc, keepAlive: keepAlive, done: done, logger: logger}
}

// ListTickets GET /api/tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	resp, err := h.service.ListTickets(c.UserContext(), subjectID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": resp})
}

// GetTicket GET /api/tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	resp, err := h.service.TicketDetail(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": resp})
}

// StreamTicket GET /api/tickets/:id/stream. Sends the current ticket and
// every change as server-sent events until the client leaves or the ticket
// is deleted.
func (h *TicketsHandler) StreamTicket(c *fiber.Ctx) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	handle, err := h.service.OpenDetail(c.UserContext(), id)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	logger := h.logger.With(zap.Int64("ticket_id", id))
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer handle.Close()

		if ticket, ok := handle.Ticket(); ok {
			if err := writeEvent(w, "ticket", dto.NewTicketResponse(ticket)); err != nil {
				return
			}
		}

		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()
		for {
			select {
			case update, open := <-handle.Updates():
				if !open {
					return
				}
				if update.Deleted {
					_ = writeEvent(w, "deleted", fiber.Map{"id": id})
					return
				}
				if err := writeEvent(w, "ticket", dto.NewTicketResponse(update.Ticket)); err != nil {
					logger.Debug("stream client gone", zap.Error(err))
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString(": keep-alive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			case <-h.done:
				return
			}
		}
	}))
	return nil
}

func writeEvent(w *bufio.Writer, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	return w.Flush()
}

func ticketID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("invalid ticket id", map[string]any{"id": c.Params("id")})
	}
	return id, nil
}

func subjectID(c *fiber.Ctx) string {
	if principal, ok := auth.PrincipalFromContext(c); ok {
		return principal.SubjectID
	}
	return ""
}
