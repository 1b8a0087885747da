// Package client fetches tickets from the backend REST API.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-dashboard/internal/api/dto"
	"github.com/spec-kit/ticket-dashboard/internal/domain"
)

const ticketsPath = "/serviceTickets"

// DefaultRecentLimit is the number of related tickets shown on a detail view.
const DefaultRecentLimit = 4

// ErrorKind classifies a failed request.
type ErrorKind string

const (
	KindTimeout      ErrorKind = "timeout"
	KindUnauthorized ErrorKind = "unauthorized"
	KindClient       ErrorKind = "client"
	KindServer       ErrorKind = "server"
	KindNetwork      ErrorKind = "network"
)

// ErrNotAuthenticated is returned before any request when the session has
// no valid token.
var ErrNotAuthenticated = errors.New("backend session is not authenticated")

// RequestError describes a failed backend call.
type RequestError struct {
	Kind   ErrorKind
	Status int
	URL    string
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s request to %s failed with status %d", e.Kind, e.URL, e.Status)
	}
	return fmt.Sprintf("%s request to %s failed: %v", e.Kind, e.URL, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Status == http.StatusNotFound
}

// Session supplies the bearer token for backend calls.
type Session interface {
	IsAuthenticated() bool
	Token() string
}

// Filter narrows the ticket list on the backend.
type Filter struct {
	From  *time.Time
	To    *time.Time
	Query string
}

// RecentFilter selects the latest tickets of one submitter or project.
type RecentFilter struct {
	SubmitterID *int64
	ProjectID   *int64
	Limit       int
}

// Client is a thin resty wrapper over the ticket endpoints.
type Client struct {
	http    *resty.Client
	session Session
	loc     *time.Location
	logger  *zap.Logger
}

// New builds a client for baseURL. loc interprets zone-less timestamps.
func New(baseURL string, timeout time.Duration, session Session, loc *time.Location, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: rc, session: session, loc: loc, logger: logger.Named("client")}
}

// FetchTickets returns the tickets matching filter.
func (c *Client) FetchTickets(ctx context.Context, filter Filter) ([]domain.Ticket, error) {
	params := map[string]string{}
	if filter.From != nil {
		params["from"] = filter.From.Format(time.RFC3339)
	}
	if filter.To != nil {
		params["to"] = filter.To.Format(time.RFC3339)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		params["q"] = q
	}
	return c.list(ctx, params)
}

// FetchAll is FetchTickets without a filter, shaped for the cache.
func (c *Client) FetchAll(ctx context.Context) ([]domain.Ticket, error) {
	return c.FetchTickets(ctx, Filter{})
}

// FetchRecent returns the newest tickets of a submitter or project.
func (c *Client) FetchRecent(ctx context.Context, filter RecentFilter) ([]domain.Ticket, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	params := map[string]string{
		"limit": strconv.Itoa(limit),
		"sort":  "desc",
	}
	switch {
	case filter.SubmitterID != nil:
		params["submitterId"] = strconv.FormatInt(*filter.SubmitterID, 10)
	case filter.ProjectID != nil:
		params["projectId"] = strconv.FormatInt(*filter.ProjectID, 10)
	default:
		return nil, errors.New("recent filter needs a submitter or project")
	}
	return c.list(ctx, params)
}

// FetchTicket returns a single ticket.
func (c *Client) FetchTicket(ctx context.Context, id int64) (domain.Ticket, error) {
	req, err := c.request(ctx)
	if err != nil {
		return domain.Ticket{}, err
	}
	var payload dto.TicketPayload
	resp, err := req.
		SetResult(&payload).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		Get(ticketsPath + "/{id}")
	if err := c.check(resp, err); err != nil {
		return domain.Ticket{}, err
	}
	if payload.ID == 0 {
		payload.ID = id
	}
	return payload.ToTicket(c.loc)
}

func (c *Client) list(ctx context.Context, params map[string]string) ([]domain.Ticket, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var payloads []dto.TicketPayload
	resp, err := req.
		SetQueryParams(params).
		SetResult(&payloads).
		Get(ticketsPath)
	if err := c.check(resp, err); err != nil {
		return nil, err
	}

	tickets := make([]domain.Ticket, 0, len(payloads))
	for _, p := range payloads {
		if p.ID <= 0 {
			c.logger.Warn("skipping ticket without id")
			continue
		}
		t, err := p.ToTicket(c.loc)
		if err != nil {
			c.logger.Warn("skipping undecodable ticket", zap.Int64("ticket_id", p.ID), zap.Error(err))
			continue
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	if c.session == nil || !c.session.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	return c.http.R().
		SetContext(ctx).
		SetAuthToken(c.session.Token()).
		ForceContentType("application/json"), nil
}

func (c *Client) check(resp *resty.Response, err error) error {
	url := ""
	if resp != nil && resp.Request != nil {
		url = resp.Request.URL
	}
	if err != nil {
		kind := KindNetwork
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			kind = KindTimeout
		}
		return &RequestError{Kind: kind, URL: url, Err: err}
	}
	if !resp.IsError() {
		return nil
	}

	status := resp.StatusCode()
	kind := KindClient
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindUnauthorized
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = KindTimeout
	case status >= http.StatusInternalServerError:
		kind = KindServer
	}
	return &RequestError{Kind: kind, Status: status, URL: url}
}
