package blacklist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	users       []Entry
	groups      []Entry
	userFetches int
	err         error
}

func (s *countingSource) FetchUsers(ctx context.Context) ([]Entry, error) {
	s.userFetches++
	if s.err != nil {
		return nil, s.err
	}
	return s.users, nil
}

func (s *countingSource) FetchGroups(ctx context.Context) ([]Entry, error) {
	return s.groups, nil
}

func TestServiceCaching(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &countingSource{users: []Entry{{ID: 1, Reason: "alt"}}}
	svc := NewService(src, 10*time.Minute, WithClock(func() time.Time { return now }))

	ctx := context.Background()

	entries, err := svc.Users(ctx, false)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 1, src.userFetches)

	// Within TTL: served from cache.
	_, err = svc.Users(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, src.userFetches)

	// Force refresh bypasses the cache.
	_, err = svc.Users(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, src.userFetches)

	// TTL expiry refetches.
	now = now.Add(11 * time.Minute)
	_, err = svc.Users(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, src.userFetches)
}

func TestServiceFetchFailureDoesNotServeStale(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &countingSource{users: []Entry{{ID: 1}}}
	svc := NewService(src, time.Minute, WithClock(func() time.Time { return now }))

	ctx := context.Background()
	_, err := svc.Users(ctx, false)
	require.NoError(t, err)

	src.err = errors.New("scraper down")
	now = now.Add(2 * time.Minute)

	_, err = svc.Users(ctx, false)
	assert.Error(t, err, "expired cache with failing source must fail, not serve stale data")
}
