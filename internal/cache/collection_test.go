package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/cloudspi/cloudspi/pkg/utils"
)

func TestCollectionCache(t *testing.T) {
	clk := testingclock.NewFakeClock(epoch)
	c, err := GetCollection[string](NewRegistry(), testOwner{}, "regions", LevelCloudAccount,
		WithTimeout(10*time.Minute),
		WithClock(clk),
		WithLogger(utils.NewDiscardLogger()),
	)
	require.NoError(t, err)

	scope := testScope{"e", "r", "a"}
	regions := []string{"eu-west-1", "us-east-1"}
	c.Put(scope, regions)
	regions[0] = "changed"

	got, ok := c.Get(scope)
	require.True(t, ok)
	assert.Equal(t, []string{"eu-west-1", "us-east-1"}, got)

	got[1] = "changed"
	again, _ := c.Get(scope)
	assert.Equal(t, "us-east-1", again[1], "callers get their own copy")

	clk.Step(11 * time.Minute)
	_, ok = c.Get(scope)
	assert.False(t, ok)
}

func TestCollectionCache_GetOrLoad(t *testing.T) {
	c, err := GetCollection[int](NewRegistry(), testOwner{}, "sizes", LevelRegion,
		WithLogger(utils.NewDiscardLogger()))
	require.NoError(t, err)

	calls := 0
	load := func(context.Context) ([]int, error) {
		calls++
		return []int{1, 2, 3}, nil
	}

	for i := 0; i < 2; i++ {
		got, err := c.GetOrLoad(context.Background(), testScope{"e", "r", ""}, load)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, got)
	}
	assert.Equal(t, 1, calls)
}

func TestGetCollection_DefaultRegistry(t *testing.T) {
	t.Cleanup(DefaultCollectionRegistry().Reset)

	c, err := GetCollection[string](nil, testOwner{}, "default-collection", LevelCloud)
	require.NoError(t, err)

	found, ok := DefaultCollectionRegistry().Lookup(c.Name())
	require.True(t, ok)
	assert.Same(t, Managed(c), found)

	_, ok = DefaultRegistry().Lookup(c.Name())
	assert.False(t, ok, "collections and singletons are registered apart")
}
