package cache

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	o := NewOptions()
	assert.False(t, o.Enabled)
	assert.Equal(t, 24*time.Hour, o.TTL)
	assert.Equal(t, "docmind:emb:", o.KeyPrefix)
	assert.Empty(t, o.Validate())
}

func TestValidateOnlyWhenEnabled(t *testing.T) {
	o := NewOptions()
	o.Redis.Host = ""
	assert.Empty(t, o.Validate())

	o.Enabled = true
	assert.Len(t, o.Validate(), 1)
}

func TestFlags(t *testing.T) {
	o := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{"--cache.enabled", "--cache.redis.port=6380"}))
	assert.True(t, o.Enabled)
	assert.Equal(t, 6380, o.Redis.Port)
}
