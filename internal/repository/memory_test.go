package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/temple-admission/internal/model"
)

func TestMemoryPassRegistry_TransitionIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryPassRegistry()
	_, err := reg.Create(ctx, &model.Pass{Token: "t1", VenueID: "v1", PartySize: 1, State: model.PassConfirmed})
	require.NoError(t, err)

	const callers = 50
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := reg.Transition(ctx, "t1", model.PassConfirmed, model.PassUsed); err {
			case nil:
				wins.Add(1)
			case ErrConflict:
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(callers-1), conflicts.Load())

	p, err := reg.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.PassUsed, p.State)
	assert.NotNil(t, p.EntryAt)
}

func TestMemoryPassRegistry_Errors(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryPassRegistry()

	_, err := reg.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrPassNotFound)
	assert.ErrorIs(t, reg.Transition(ctx, "nope", model.PassConfirmed, model.PassUsed), ErrPassNotFound)

	_, err = reg.Create(ctx, &model.Pass{Token: "t", State: model.PassConfirmed})
	require.NoError(t, err)
	_, err = reg.Create(ctx, &model.Pass{Token: "t", State: model.PassConfirmed})
	assert.ErrorIs(t, err, ErrDuplicateToken)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = reg.Get(cancelled, "t")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryPassRegistry_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryPassRegistry()
	_, err := reg.Create(ctx, &model.Pass{Token: "t", State: model.PassConfirmed})
	require.NoError(t, err)

	p, err := reg.Get(ctx, "t")
	require.NoError(t, err)
	p.State = model.PassCancelled

	again, err := reg.Get(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, model.PassConfirmed, again.State)
}

func TestMemoryPassRegistry_BookedVisitors(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryPassRegistry()
	day := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)
	passes := []model.Pass{
		{Token: "a", VenueID: "v1", VisitDate: day, TimeWindow: "am", PartySize: 4, State: model.PassConfirmed},
		{Token: "b", VenueID: "v1", VisitDate: day, TimeWindow: "am", PartySize: 2, State: model.PassUsed},
		{Token: "c", VenueID: "v1", VisitDate: day, TimeWindow: "am", PartySize: 5, State: model.PassCancelled},
		{Token: "d", VenueID: "v1", VisitDate: day, TimeWindow: "pm", PartySize: 3, State: model.PassConfirmed},
		{Token: "e", VenueID: "v2", VisitDate: day, TimeWindow: "am", PartySize: 3, State: model.PassConfirmed},
	}
	for i := range passes {
		_, err := reg.Create(ctx, &passes[i])
		require.NoError(t, err)
	}

	n, err := reg.BookedVisitors(ctx, "v1", day, "am")
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}

func TestMemoryVenueRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryVenueRepo(
		model.Venue{ID: "b", Name: "Somnath", CapacityTotal: 10},
		model.Venue{ID: "a", Name: "Meenakshi", CapacityTotal: 20},
	)

	v, err := repo.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultWarningRatio, v.WarningRatio)

	_, err = repo.Get(ctx, "zzz")
	assert.ErrorIs(t, err, ErrVenueNotFound)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Meenakshi", list[0].Name)

	require.NoError(t, repo.SaveLiveCount(ctx, "a", 7))
	assert.ErrorIs(t, repo.SaveLiveCount(ctx, "zzz", 1), ErrVenueNotFound)
	counts, err := repo.LiveCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"a": 7}, counts)
}
