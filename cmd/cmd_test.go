package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/fortunes-client/config"
	"github.com/webitel/fortunes-client/internal/domain/model"
)

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions([]string{"interval=5", "lang=en", "tags=[\"a\",\"b\"]", "safe=true", "q=a=b"})
	require.NoError(t, err)

	assert.Equal(t, model.Options{
		"interval": float64(5),
		"lang":     "en",
		"tags":     []any{"a", "b"},
		"safe":     true,
		"q":        "a=b",
	}, opts)
}

func TestParseOptions_Empty(t *testing.T) {
	opts, err := parseOptions(nil)
	require.NoError(t, err)
	assert.NotNil(t, opts)
	assert.Empty(t, opts)
}

func TestParseOptions_Invalid(t *testing.T) {
	for _, pair := range []string{"novalue", "=x"} {
		_, err := parseOptions([]string{pair})
		assert.Error(t, err, pair)
	}
}

func TestProvideLogger_Level(t *testing.T) {
	t.Setenv("FORTUNES_LOG_LEVEL", "debug")
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	logger, level := ProvideLogger(cfg)
	require.NotNil(t, logger)
	assert.Equal(t, "DEBUG", level.Level().String())
}
