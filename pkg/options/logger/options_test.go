package logger

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsFlags(t *testing.T) {
	o := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{"--log.level=DEBUG", "--log.format=json"}))
	assert.Equal(t, "DEBUG", o.Level)
	assert.Equal(t, "json", o.Format)
	assert.Empty(t, o.Validate())
}

func TestOptionsValidateBadLevel(t *testing.T) {
	o := NewOptions()
	o.Level = "LOUD"
	assert.Len(t, o.Validate(), 1)
}
