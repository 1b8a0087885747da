package service

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/ticket-dashboard/internal/api/dto"
	"github.com/spec-kit/ticket-dashboard/internal/cache"
	"github.com/spec-kit/ticket-dashboard/internal/client"
	"github.com/spec-kit/ticket-dashboard/internal/dashboard"
	"github.com/spec-kit/ticket-dashboard/internal/domain"
	"github.com/spec-kit/ticket-dashboard/internal/livesync"
	"github.com/spec-kit/ticket-dashboard/internal/observability"
	"github.com/spec-kit/ticket-dashboard/internal/repository"
	apperrors "github.com/spec-kit/ticket-dashboard/pkg/util/errorutil"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 500
)

// RecentFetcher loads related tickets for a detail view.
type RecentFetcher interface {
	FetchRecent(ctx context.Context, filter client.RecentFilter) ([]domain.Ticket, error)
}

// DetailOpener opens a live detail view.
type DetailOpener interface {
	Open(ctx context.Context, id int64) (*livesync.DetailHandle, error)
}

// FeedState reports live connection health.
type FeedState interface {
	Connected() bool
}

// DashboardService coordinates the cache, aggregates and optional stores.
type DashboardService struct {
	cache      *cache.TicketCache
	aggregator *dashboard.Aggregator
	recent     RecentFetcher
	details    DetailOpener
	feed       FeedState
	prefs      repository.PreferencesRepository
	journal    repository.EventJournalRepository
	validate   *validator.Validate
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// DashboardDependencies bundles collaborators. Prefs and Journal may be nil
// when Redis or Postgres are not configured.
type DashboardDependencies struct {
	Cache      *cache.TicketCache
	Aggregator *dashboard.Aggregator
	Recent     RecentFetcher
	Details    DetailOpener
	Feed       FeedState
	Prefs      repository.PreferencesRepository
	Journal    repository.EventJournalRepository
	Validate   *validator.Validate
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// NewDashboardService creates the service.
func NewDashboardService(deps DashboardDependencies) *DashboardService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := deps.Validate
	if validate == nil {
		validate = validator.New()
	}
	return &DashboardService{
		cache:      deps.Cache,
		aggregator: deps.Aggregator,
		recent:     deps.Recent,
		details:    deps.Details,
		feed:       deps.Feed,
		prefs:      deps.Prefs,
		journal:    deps.Journal,
		validate:   validate,
		metrics:    deps.Metrics,
		logger:     logger.Named("dashboard"),
	}
}

// Refresh reloads the collection from the backend.
func (s *DashboardService) Refresh(ctx context.Context) error {
	start := time.Now()
	err := s.cache.Refresh(ctx)
	s.metrics.ObserveRefresh(time.Since(start), err)
	if err != nil {
		s.logger.Warn("refresh failed", zap.Error(err))
		return apperrors.NewUpstreamUnavailable("ticket refresh failed", err)
	}
	return nil
}

// SyncStatus reports cache and feed state.
func (s *DashboardService) SyncStatus() dto.SyncStatusResponse {
	resp := dto.SyncStatusResponse{
		Status:  string(s.cache.Status()),
		Loading: s.cache.Loading(),
		Tickets: len(s.cache.Tickets()),
		Version: s.cache.Version(),
	}
	if s.feed != nil {
		resp.Connected = s.feed.Connected()
	}
	if last := s.cache.LastSync(); !last.IsZero() {
		resp.LastSync = &last
	}
	return resp
}

// Dashboard returns KPIs and chart series for the filtered view.
func (s *DashboardService) Dashboard() dto.DashboardResponse {
	return dto.NewDashboardResponse(s.aggregator.Snapshot(), s.cache.Criteria(), s.cache.Loading())
}

// SetFilter validates and applies the shared filter.
func (s *DashboardService) SetFilter(req dto.FilterRequest) (dto.FilterResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return dto.FilterResponse{}, apperrors.FromValidation(err)
	}
	from, err := s.parseBound("from", req.From)
	if err != nil {
		return dto.FilterResponse{}, err
	}
	to, err := s.parseBound("to", req.To)
	if err != nil {
		return dto.FilterResponse{}, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return dto.FilterResponse{}, apperrors.NewValidationError("invalid date range", map[string]any{"to": "before from"})
	}

	s.cache.SetDateRange(from, to)
	s.cache.SetSearchQuery(req.Query)
	return dto.NewFilterResponse(s.cache.Criteria()), nil
}

func (s *DashboardService) parseBound(field string, raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	ts, err := dto.ParseTimestamp(*raw, s.cache.Location())
	if err != nil {
		return nil, apperrors.NewValidationError("invalid date", map[string]any{field: "datetime"})
	}
	return &ts, nil
}

// ListTickets returns the filtered view ordered by the caller's preferences.
func (s *DashboardService) ListTickets(ctx context.Context, userID string) (dto.TicketListResponse, error) {
	prefs, err := s.Preferences(ctx, userID)
	if err != nil {
		return dto.TicketListResponse{}, err
	}
	items := prefs.Apply(s.cache.FilteredTickets())
	resp := dto.TicketListResponse{
		Items:   dto.NewTicketResponses(items),
		Total:   len(items),
		Loading: s.cache.Loading(),
	}
	if last := s.cache.LastSync(); !last.IsZero() {
		resp.LastSync = &last
	}
	return resp, nil
}

// TicketDetail returns a cached ticket and the latest tickets of the same
// submitter and project.
func (s *DashboardService) TicketDetail(ctx context.Context, id int64) (dto.TicketDetailResponse, error) {
	ticket, ok := s.cache.Get(id)
	if !ok {
		return dto.TicketDetailResponse{}, apperrors.NewNotFound("ticket", map[string]any{"id": id})
	}

	var bySubmitter, byProject []domain.Ticket
	g, gctx := errgroup.WithContext(ctx)
	if ticket.SubmittedBy != nil && ticket.SubmittedBy.ID > 0 {
		submitterID := ticket.SubmittedBy.ID
		g.Go(func() error {
			found, err := s.recent.FetchRecent(gctx, client.RecentFilter{SubmitterID: &submitterID})
			bySubmitter = withoutTicket(found, id)
			return err
		})
	}
	if projectID, ok := projectOf(ticket); ok {
		g.Go(func() error {
			found, err := s.recent.FetchRecent(gctx, client.RecentFilter{ProjectID: &projectID})
			byProject = withoutTicket(found, id)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return dto.TicketDetailResponse{}, apperrors.NewUpstreamUnavailable("recent tickets unavailable", err)
	}

	return dto.TicketDetailResponse{
		Ticket:            dto.NewTicketResponse(ticket),
		RecentBySubmitter: dto.NewTicketResponses(bySubmitter),
		RecentByProject:   dto.NewTicketResponses(byProject),
	}, nil
}

// OpenDetail starts a live view of one ticket.
func (s *DashboardService) OpenDetail(ctx context.Context, id int64) (*livesync.DetailHandle, error) {
	handle, err := s.details.Open(ctx, id)
	switch {
	case err == nil:
		return handle, nil
	case client.IsNotFound(err):
		return nil, apperrors.NewNotFound("ticket", map[string]any{"id": id})
	case errors.Is(err, client.ErrNotAuthenticated):
		return nil, apperrors.NewUpstreamUnavailable("backend session expired", err)
	default:
		return nil, apperrors.NewUpstreamUnavailable("ticket unavailable", err)
	}
}

// Preferences returns the stored preferences or the defaults.
func (s *DashboardService) Preferences(ctx context.Context, userID string) (domain.ViewPreferences, error) {
	if s.prefs == nil || userID == "" {
		return domain.DefaultViewPreferences(), nil
	}
	prefs, ok, err := s.prefs.Get(ctx, userID)
	if err != nil {
		s.logger.Warn("unable to read preferences; using defaults", zap.String("user_id", userID), zap.Error(err))
		return domain.DefaultViewPreferences(), nil
	}
	if !ok {
		return domain.DefaultViewPreferences(), nil
	}
	return prefs, nil
}

// SavePreferences validates and stores the caller's preferences.
func (s *DashboardService) SavePreferences(ctx context.Context, userID string, req dto.PreferencesRequest) (domain.ViewPreferences, error) {
	if err := s.validate.Struct(req); err != nil {
		return domain.ViewPreferences{}, apperrors.FromValidation(err)
	}
	if s.prefs == nil {
		return domain.ViewPreferences{}, apperrors.NewStorageUnavailable("preferences store")
	}
	prefs := req.ToDomain()
	if err := s.prefs.Save(ctx, userID, prefs); err != nil {
		return domain.ViewPreferences{}, apperrors.NewInternalError(err)
	}
	return prefs, nil
}

// Journal returns the most recent applied events, newest first.
func (s *DashboardService) Journal(ctx context.Context, limit int, ticketID *int64) ([]domain.JournalEntry, error) {
	if s.journal == nil {
		return nil, apperrors.NewStorageUnavailable("event journal")
	}
	if limit <= 0 {
		limit = defaultJournalLimit
	}
	limit = min(limit, maxJournalLimit)
	entries, err := s.journal.Recent(ctx, limit, ticketID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return entries, nil
}

func projectOf(t domain.Ticket) (int64, bool) {
	switch {
	case t.ProjectID != nil:
		return *t.ProjectID, true
	case t.Project != nil && t.Project.ID > 0:
		return t.Project.ID, true
	}
	return 0, false
}

func withoutTicket(tickets []domain.Ticket, id int64) []domain.Ticket {
	return slices.DeleteFunc(tickets, func(t domain.Ticket) bool { return t.ID == id })
}
