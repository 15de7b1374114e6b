package redis

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	options "github.com/kart-io/docmind/pkg/options/redis"
)

func optionsFor(t *testing.T, mr *miniredis.Miniredis) *options.Options {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	opts := options.NewOptions()
	opts.Host = mr.Host()
	opts.Port = port
	return opts
}

func TestNewAndHealth(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := New(context.Background(), optionsFor(t, mr))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "redis", c.Name())
	require.NoError(t, c.Client().Set(context.Background(), "k", "v", 0).Err())
	assert.True(t, mr.Exists("k"))

	stats := c.HealthWithStats(context.Background())
	assert.True(t, stats.Healthy)
	assert.Empty(t, stats.Error)
}

func TestHealthAfterServerStops(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := optionsFor(t, mr)

	c, err := New(context.Background(), opts)
	require.NoError(t, err)
	defer c.Close()

	mr.Close()
	stats := c.HealthWithStats(context.Background())
	assert.False(t, stats.Healthy)
	assert.NotEmpty(t, stats.Error)
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.Error(t, err)

	opts := options.NewOptions()
	opts.Host = ""
	_, err = New(context.Background(), opts)
	assert.Error(t, err)
}

func TestNewUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := optionsFor(t, mr)
	mr.Close()

	_, err := New(context.Background(), opts)
	assert.Error(t, err)
}
