package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type syncBuffer struct {
	bytes.Buffer
	synced bool
}

func (b *syncBuffer) Sync() error {
	b.synced = true
	return nil
}

func newBufferedLogger() (*zap.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), buf, zapcore.InfoLevel)
	return zap.New(core), buf
}

func TestExitCodeFlushesErrorBeforeExit(t *testing.T) {
	logger, buf := newBufferedLogger()

	code := exitCode(logger, errors.New("listen tcp :8080: address already in use"))

	assert.Equal(t, 1, code)
	assert.True(t, buf.synced)
	assert.Contains(t, buf.String(), "dashboard exited with error")
	assert.Contains(t, buf.String(), "address already in use")
}

func TestExitCodeCleanShutdown(t *testing.T) {
	logger, buf := newBufferedLogger()

	assert.Equal(t, 0, exitCode(logger, nil))
	assert.True(t, buf.synced)
	assert.Empty(t, buf.String())
}
