package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSession struct {
	token string
}

func (s staticSession) IsAuthenticated() bool { return s.token != "" }
func (s staticSession) Token() string         { return s.token }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", 500*time.Millisecond, staticSession{token: "tok"}, time.UTC, nil)
}

func TestFetchTickets_SendsFilterAndDecodes(t *testing.T) {
	var got *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":1,"title":"A","status":"OPEN","creationDate":"2024-01-01"},
			{"title":"no id"},
			{"id":2,"title":"B","createdAt":"2024-01-02T10:00:00Z","closedAt":null}
		]`))
	})

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tickets, err := c.FetchTickets(context.Background(), Filter{From: &from, Query: "  printer "})
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "/serviceTickets", got.URL.Path)
	assert.Equal(t, "2024-01-01T00:00:00Z", got.URL.Query().Get("from"))
	assert.Empty(t, got.URL.Query().Get("to"))
	assert.Equal(t, "printer", got.URL.Query().Get("q"))
	assert.Equal(t, "Bearer tok", got.Header.Get("Authorization"))

	require.Len(t, tickets, 2)
	assert.Equal(t, int64(1), tickets[0].ID)
	assert.Equal(t, 2, tickets[1].CreationDate.Day())
	assert.Nil(t, tickets[1].ClosingDate)
}

func TestFetchRecent_BySubmitter(t *testing.T) {
	var query map[string][]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		_, _ = w.Write([]byte(`[]`))
	})

	id := int64(5)
	tickets, err := c.FetchRecent(context.Background(), RecentFilter{SubmitterID: &id})
	require.NoError(t, err)
	assert.Empty(t, tickets)
	assert.Equal(t, []string{"5"}, query["submitterId"])
	assert.Equal(t, []string{"4"}, query["limit"])
	assert.Equal(t, []string{"desc"}, query["sort"])

	_, err = c.FetchRecent(context.Background(), RecentFilter{})
	assert.Error(t, err)
}

func TestFetchTicket(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/serviceTickets/9" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":9,"title":"Nine","project":{"id":3,"name":"Acme"}}`))
	})

	ticket, err := c.FetchTicket(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, "Acme", ticket.ProjectName())

	_, err = c.FetchTicket(context.Background(), 10)
	assert.True(t, IsNotFound(err))
}

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusUnauthorized, KindUnauthorized},
		{http.StatusForbidden, KindUnauthorized},
		{http.StatusBadRequest, KindClient},
		{http.StatusGatewayTimeout, KindTimeout},
		{http.StatusInternalServerError, KindServer},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})
			_, err := c.FetchTickets(context.Background(), Filter{})

			var reqErr *RequestError
			require.True(t, errors.As(err, &reqErr))
			assert.Equal(t, tc.want, reqErr.Kind)
			assert.Equal(t, tc.status, reqErr.Status)
		})
	}
}

func TestTimeoutAndNetworkErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	})
	_, err := c.FetchTickets(context.Background(), Filter{})
	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, KindTimeout, reqErr.Kind)

	down := New("http://127.0.0.1:1", time.Second, staticSession{token: "tok"}, time.UTC, nil)
	_, err = down.FetchTickets(context.Background(), Filter{})
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, KindNetwork, reqErr.Kind)
}

func TestUnauthenticatedSessionFailsFast(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	t.Cleanup(srv.Close)

	c := New(srv.URL, time.Second, staticSession{}, time.UTC, nil)
	_, err := c.FetchAll(context.Background())

	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.False(t, called)
}
