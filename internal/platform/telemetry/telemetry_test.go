package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lirancohen/workhub/internal/config"
)

func TestInit_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TelemetryConfig{ServiceName: "workhub"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
