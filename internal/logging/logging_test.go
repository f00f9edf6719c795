package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
	"gotest.tools/v3/assert"
)

func TestNew(t *testing.T) {
	log, err := New("off")
	assert.NilError(t, err)
	assert.Assert(t, !log.Core().Enabled(zapcore.ErrorLevel))

	log, err = New("warn")
	assert.NilError(t, err)
	assert.Assert(t, log.Core().Enabled(zapcore.WarnLevel))
	assert.Assert(t, !log.Core().Enabled(zapcore.InfoLevel))

	_, err = New("chatty")
	assert.ErrorContains(t, err, "invalid log level")
}
