//go:build integration

package dispatch_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"assent/internal/dispatch"
	platformredis "assent/internal/platform/redis"
	id "assent/pkg/domain"
	"assent/pkg/testutil/containers"
)

type RedisMarkersSuite struct {
	suite.Suite
	redis   *containers.RedisContainer
	markers *dispatch.RedisMarkers
}

func TestRedisMarkersSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisMarkersSuite))
}

func (s *RedisMarkersSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.markers = dispatch.NewRedisMarkers(&platformredis.Client{Client: s.redis.Client}, 0)
}

func (s *RedisMarkersSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisMarkersSuite) TestAcquireIsExclusive() {
	ctx := context.Background()
	proposalID := id.NewProposalID().String()

	first, err := s.markers.Acquire(ctx, proposalID)
	s.Require().NoError(err)
	s.True(first)

	second, err := s.markers.Acquire(ctx, proposalID)
	s.Require().NoError(err)
	s.False(second)
}

func (s *RedisMarkersSuite) TestReleaseAllowsReacquire() {
	ctx := context.Background()
	proposalID := id.NewProposalID().String()

	ok, err := s.markers.Acquire(ctx, proposalID)
	s.Require().NoError(err)
	s.Require().True(ok)

	s.Require().NoError(s.markers.Release(ctx, proposalID))

	ok, err = s.markers.Acquire(ctx, proposalID)
	s.Require().NoError(err)
	s.True(ok)
}

// TestConcurrentAcquireGrantsExactlyOne exercises the fleet scenario: many
// dispatchers race for the same proposal and only one may run its delivery.
func (s *RedisMarkersSuite) TestConcurrentAcquireGrantsExactlyOne() {
	ctx := context.Background()
	proposalID := id.NewProposalID().String()
	const racers = 25

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.markers.Acquire(ctx, proposalID)
			s.NoError(err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
}

func (s *RedisMarkersSuite) TestTTLExpiresMarker() {
	ctx := context.Background()
	short := dispatch.NewRedisMarkers(&platformredis.Client{Client: s.redis.Client}, 100*time.Millisecond)
	proposalID := id.NewProposalID().String()

	ok, err := short.Acquire(ctx, proposalID)
	s.Require().NoError(err)
	s.Require().True(ok)

	s.Eventually(func() bool {
		ok, err := short.Acquire(ctx, proposalID)
		return err == nil && ok
	}, 2*time.Second, 50*time.Millisecond)
}
