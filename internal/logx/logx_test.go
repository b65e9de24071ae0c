package logx

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ariefcatur/go-storefront-engine/internal/domain"
)

func TestNew(t *testing.T) {
	for _, env := range []string{"dev", "prod"} {
		l, err := New(env, "storefront-test")
		require.NoError(t, err)
		assert.NotNil(t, l)
	}
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}

func TestRejection_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := zap.New(core)

	Rejection(l, "bid rejected", fmt.Errorf("%w: x", domain.ErrBidTooLow))
	Rejection(l, "bid failed", errors.New("db down"))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "BID_TOO_LOW", entries[0].ContextMap()["kind"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}
