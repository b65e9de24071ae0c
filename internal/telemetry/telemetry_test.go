package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestTraceID_Empty(t *testing.T) {
	assert.Equal(t, "", TraceID(context.Background()))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Bid(context.Background(), false, errors.New("x"))
	m.Order(context.Background(), "Pending", nil)

	m = NewMetrics()
	m.Reservation(context.Background(), "flashsale", nil)
	m.Swept(context.Background(), "reservations", 3)
}
