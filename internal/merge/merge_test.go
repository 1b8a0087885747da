package merge

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-dashboard/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func TestMerge_CreateUpdateDeleteScenario(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	list, err := Merge(nil, domain.NewCreated(domain.Ticket{
		ID:           1,
		Status:       domain.TicketStatusOpen,
		CreationDate: created,
	}))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(1), list[0].ID)

	list, err = Merge(list, domain.NewUpdated(1, domain.TicketPatch{Status: ptr(domain.TicketStatusClosed)}))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.TicketStatusClosed, list[0].Status)
	assert.Equal(t, created, list[0].CreationDate)

	list, err = Merge(list, domain.NewDeleted(1))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMerge_CreatedPrependsNewAndReplacesExisting(t *testing.T) {
	list := []domain.Ticket{{ID: 1, Title: "a"}, {ID: 2, Title: "b"}}

	got, err := Merge(list, domain.NewCreated(domain.Ticket{ID: 3, Title: "c"}))
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, ids(got))

	got, err = Merge(got, domain.NewCreated(domain.Ticket{ID: 1, Title: "a2"}))
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, ids(got), "re-delivery keeps position")
	assert.Equal(t, "a2", got[1].Title)
}

func TestMerge_UpdateOfMissingTicketCreatesIt(t *testing.T) {
	list := []domain.Ticket{{ID: 1}}

	got, err := Merge(list, domain.NewUpdated(5, domain.TicketPatch{Title: ptr("late")}))
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 1}, ids(got))
	assert.Equal(t, "late", got[0].Title)
}

func TestMerge_DeleteMissingIsNoop(t *testing.T) {
	list := []domain.Ticket{{ID: 1}, {ID: 2}}

	got, err := Merge(list, domain.NewDeleted(99))
	require.NoError(t, err)
	assert.Equal(t, list, got)
}

func TestMerge_MalformedEventLeavesCollection(t *testing.T) {
	list := []domain.Ticket{{ID: 1}}

	got, err := Merge(list, domain.ChangeEvent{Type: domain.ChangeCreated})
	assert.ErrorIs(t, err, domain.ErrMalformedEvent)
	assert.Equal(t, list, got)

	got, err = Merge(list, domain.ChangeEvent{Type: "RENAMED", TicketID: 1})
	assert.ErrorIs(t, err, domain.ErrMalformedEvent)
	assert.Equal(t, list, got)
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	list := []domain.Ticket{{ID: 1, Title: "orig"}, {ID: 2}}
	snapshot := append([]domain.Ticket(nil), list...)

	_, err := Merge(list, domain.NewUpdated(1, domain.TicketPatch{Title: ptr("new")}))
	require.NoError(t, err)
	_, err = Merge(list, domain.NewCreated(domain.Ticket{ID: 2, Title: "replaced"}))
	require.NoError(t, err)
	_, err = Merge(list, domain.NewDeleted(1))
	require.NoError(t, err)

	assert.Equal(t, snapshot, list)
}

func TestMerge_RandomSequencesKeepIDsUnique(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		var list []domain.Ticket
		var want *domain.Ticket

		for step := 0; step < 30; step++ {
			id := int64(rng.Intn(3) + 1)
			var evt domain.ChangeEvent
			switch rng.Intn(3) {
			case 0:
				evt = domain.NewCreated(domain.Ticket{ID: id, Title: "created"})
			case 1:
				evt = domain.NewUpdated(id, domain.TicketPatch{Title: ptr("updated")})
			default:
				evt = domain.NewDeleted(id)
			}

			next, err := Merge(list, evt)
			require.NoError(t, err)
			list = next

			if id == 1 {
				switch evt.Type {
				case domain.ChangeDeleted:
					want = nil
				case domain.ChangeCreated:
					want = &domain.Ticket{ID: 1, Title: "created"}
				default:
					if want == nil {
						want = &domain.Ticket{ID: 1}
					}
					want.Title = "updated"
				}
			}
		}

		seen := map[int64]int{}
		for _, tk := range list {
			seen[tk.ID]++
		}
		for id, n := range seen {
			assert.Equal(t, 1, n, "id %d duplicated", id)
		}

		idx := indexOf(list, 1)
		if want == nil {
			assert.Equal(t, -1, idx)
			continue
		}
		require.NotEqual(t, -1, idx)
		assert.Equal(t, *want, list[idx])
	}
}

func TestMergeAll_SkipsInvalid(t *testing.T) {
	got, errs := MergeAll(nil, []domain.ChangeEvent{
		domain.NewCreated(domain.Ticket{ID: 1}),
		{Type: domain.ChangeDeleted},
		domain.NewCreated(domain.Ticket{ID: 2}),
	})

	assert.Equal(t, []int64{2, 1}, ids(got))
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], domain.ErrMalformedEvent)
}

func ids(list []domain.Ticket) []int64 {
	out := make([]int64, 0, len(list))
	for _, t := range list {
		out = append(out, t.ID)
	}
	return out
}
