package dto

import (
	"encoding/json"
	"time"

	"github.com/spec-kit/ticket-dashboard/internal/dashboard"
	"github.com/spec-kit/ticket-dashboard/internal/domain"
)

// FilterRequest updates the shared filter. Dates accept YYYY-MM-DD or RFC 3339.
type FilterRequest struct {
	From  *string `json:"from"`
	To    *string `json:"to"`
	Query string  `json:"q" validate:"max=200"`
}

// FilterResponse echoes the active filter.
type FilterResponse struct {
	From  *time.Time `json:"from"`
	To    *time.Time `json:"to"`
	Query string     `json:"q"`
}

// NewFilterResponse maps filter criteria.
func NewFilterResponse(c domain.FilterCriteria) FilterResponse {
	resp := FilterResponse{Query: c.SearchQuery}
	if c.DateRange != nil {
		resp.From = c.DateRange.Start
		resp.To = c.DateRange.End
	}
	return resp
}

// PreferencesRequest replaces a user's list preferences.
type PreferencesRequest struct {
	Statuses   []string `json:"statuses" validate:"dive,oneof=OPEN CLOSED PENDING IN_PROGRESS ESCALATED"`
	Types      []string `json:"types" validate:"dive,oneof=HARDWARE SOFTWARE QUESTION CHANGE UNKNOWN"`
	Priorities []string `json:"priorities" validate:"dive,oneof=CRITICAL HIGH MEDIUM LOW"`
	SortBy     string   `json:"sortBy" validate:"omitempty,oneof=lastUpdated creationDate priority id"`
	SortDir    string   `json:"sortDir" validate:"omitempty,oneof=asc desc"`
}

// ToDomain maps the request. Empty sort fields fall back to defaults; nil
// selections keep the default selection.
func (r PreferencesRequest) ToDomain() domain.ViewPreferences {
	prefs := domain.DefaultViewPreferences()
	if r.Statuses != nil {
		prefs.Statuses = make([]domain.TicketStatus, 0, len(r.Statuses))
		for _, s := range r.Statuses {
			prefs.Statuses = append(prefs.Statuses, domain.TicketStatus(s))
		}
	}
	if r.Types != nil {
		prefs.Types = make([]domain.TicketType, 0, len(r.Types))
		for _, s := range r.Types {
			prefs.Types = append(prefs.Types, domain.TicketType(s))
		}
	}
	if r.Priorities != nil {
		prefs.Priorities = make([]domain.TicketPriority, 0, len(r.Priorities))
		for _, s := range r.Priorities {
			prefs.Priorities = append(prefs.Priorities, domain.TicketPriority(s))
		}
	}
	if r.SortBy != "" {
		prefs.SortBy = domain.SortKey(r.SortBy)
	}
	if r.SortDir != "" {
		prefs.SortDir = domain.SortDirection(r.SortDir)
	}
	return prefs
}

// PreferencesResponse is the stored form of a user's preferences.
type PreferencesResponse struct {
	Statuses   []domain.TicketStatus   `json:"statuses"`
	Types      []domain.TicketType     `json:"types"`
	Priorities []domain.TicketPriority `json:"priorities"`
	SortBy     domain.SortKey          `json:"sortBy"`
	SortDir    domain.SortDirection    `json:"sortDir"`
}

// NewPreferencesResponse maps preferences.
func NewPreferencesResponse(p domain.ViewPreferences) PreferencesResponse {
	return PreferencesResponse(p)
}

// ToDomain converts back, used when reading persisted preferences.
func (r PreferencesResponse) ToDomain() domain.ViewPreferences {
	return domain.ViewPreferences(r)
}

// TicketListResponse wraps the list endpoint result.
type TicketListResponse struct {
	Items    []TicketResponse `json:"items"`
	Total    int              `json:"total"`
	Loading  bool             `json:"loading"`
	LastSync *time.Time       `json:"lastSync"`
}

// TicketDetailResponse is one ticket plus related recent tickets.
type TicketDetailResponse struct {
	Ticket            TicketResponse   `json:"ticket"`
	RecentBySubmitter []TicketResponse `json:"recentBySubmitter"`
	RecentByProject   []TicketResponse `json:"recentByProject"`
}

// KPIResponse carries the headline counters.
type KPIResponse struct {
	Open       int `json:"open"`
	Escalated  int `json:"escalated"`
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Unlinked   int `json:"unlinked"`
}

// SeriesResponse is one named data series.
type SeriesResponse struct {
	Name string    `json:"name"`
	Data []float64 `json:"data"`
}

// ChartResponse is a category chart.
type ChartResponse struct {
	Categories []string         `json:"categories"`
	Series     []SeriesResponse `json:"series"`
}

// DonutResponse holds parallel label/value arrays.
type DonutResponse struct {
	Labels []string `json:"labels"`
	Values []int    `json:"values"`
}

// DashboardResponse is the full dashboard payload.
type DashboardResponse struct {
	KPIs    KPIResponse    `json:"kpis"`
	Bar     ChartResponse  `json:"bar"`
	Donut   DonutResponse  `json:"donut"`
	Area    ChartResponse  `json:"area"`
	Total   int            `json:"total"`
	Filter  FilterResponse `json:"filter"`
	Loading bool           `json:"loading"`
}

// NewDashboardResponse maps an aggregate snapshot.
func NewDashboardResponse(s dashboard.Snapshot, criteria domain.FilterCriteria, loading bool) DashboardResponse {
	resp := DashboardResponse{
		KPIs:    KPIResponse(s.KPIs),
		Bar:     newChart(s.Bar),
		Area:    newChart(s.Area),
		Total:   s.Total,
		Filter:  NewFilterResponse(criteria),
		Loading: loading,
		Donut: DonutResponse{
			Labels: make([]string, 0, len(s.Donut)),
			Values: make([]int, 0, len(s.Donut)),
		},
	}
	for _, slice := range s.Donut {
		resp.Donut.Labels = append(resp.Donut.Labels, slice.Label)
		resp.Donut.Values = append(resp.Donut.Values, slice.Value)
	}
	return resp
}

func newChart(c dashboard.CategorySeries) ChartResponse {
	out := ChartResponse{Categories: c.Categories, Series: make([]SeriesResponse, 0, len(c.Series))}
	if out.Categories == nil {
		out.Categories = []string{}
	}
	for _, s := range c.Series {
		data := s.Data
		if data == nil {
			data = []float64{}
		}
		out.Series = append(out.Series, SeriesResponse{Name: s.Name, Data: data})
	}
	return out
}

// SyncStatusResponse reports cache and feed state.
type SyncStatusResponse struct {
	Status    string     `json:"status"`
	Loading   bool       `json:"loading"`
	Connected bool       `json:"connected"`
	Tickets   int        `json:"tickets"`
	Version   uint64     `json:"version"`
	LastSync  *time.Time `json:"lastSync"`
}

// JournalEntryResponse is one recorded change event.
type JournalEntryResponse struct {
	ID         string          `json:"id"`
	TicketID   int64           `json:"ticketId"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// NewJournalEntryResponses maps journal entries.
func NewJournalEntryResponses(entries []domain.JournalEntry) []JournalEntryResponse {
	out := make([]JournalEntryResponse, 0, len(entries))
	for _, e := range entries {
		payload := json.RawMessage(e.Payload)
		if len(payload) == 0 {
			payload = json.RawMessage("null")
		}
		out = append(out, JournalEntryResponse{
			ID:         e.ID,
			TicketID:   e.TicketID,
			Type:       string(e.Type),
			Payload:    payload,
			ReceivedAt: e.ReceivedAt,
		})
	}
	return out
}
