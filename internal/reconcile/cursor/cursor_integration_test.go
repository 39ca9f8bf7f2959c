//go:build integration

package cursor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/myx-labs/api-mecs/internal/reconcile/cursor"
	"github.com/myx-labs/api-mecs/pkg/testutil/containers"
)

type RedisCursorSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *cursor.Redis
}

func TestRedisCursorSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCursorSuite))
}

func (s *RedisCursorSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = cursor.NewRedis(s.redis.Client)
}

func (s *RedisCursorSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCursorSuite) TestGetWhenUnset() {
	got, err := s.store.Get(context.Background())
	s.Require().NoError(err)
	s.Equal("", got)
}

func (s *RedisCursorSuite) TestSetAndGet() {
	ctx := context.Background()
	s.Require().NoError(s.store.Set(ctx, "page-token-42"))

	got, err := s.store.Get(ctx)
	s.Require().NoError(err)
	s.Equal("page-token-42", got)
}

func (s *RedisCursorSuite) TestSetEmptyClears() {
	ctx := context.Background()
	s.Require().NoError(s.store.Set(ctx, "page-token-42"))
	s.Require().NoError(s.store.Set(ctx, ""))

	got, err := s.store.Get(ctx)
	s.Require().NoError(err)
	s.Equal("", got)
}
