package logger_test

import (
	"bytes"
	"testing"

	"codeberg.org/mutker/posturectl/internal/errors"
	"codeberg.org/mutker/posturectl/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logger.DebugLevel, logger.ParseLevel("debug"))
	assert.Equal(t, logger.WarnLevel, logger.ParseLevel("warning"))
	assert.Equal(t, logger.ErrorLevel, logger.ParseLevel("error"))
	assert.Equal(t, logger.InfoLevel, logger.ParseLevel("info"))
	assert.Equal(t, logger.InfoLevel, logger.ParseLevel(""))
}

func TestComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	logger.Init(logger.Options{Level: "debug", IsService: true, Out: &buf})

	log := logger.Default().With("session")
	log.Info().Str("session_id", "abc").Msg("Session started")
	log.ErrorWithCode(errors.New().New(errors.ErrStreamFailed)).Msg("Stream failed")

	out := buf.String()
	assert.Contains(t, out, "Session started")
	assert.Contains(t, out, "component=session")
	assert.Contains(t, out, "error_code=stream_failed")
	assert.Contains(t, out, "error_category=streaming")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger.Init(logger.Options{Level: "error", IsService: true, Out: &buf})
	defer logger.SetLogLevel(logger.InfoLevel)

	logger.Info().Msg("hidden")
	logger.Error().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
