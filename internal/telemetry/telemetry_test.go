package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"pos-sync-terminal/internal/config"
)

func TestSetup_NoEndpointIsNoop(t *testing.T) {
	shutdown := Setup(context.Background(), "pos-terminal", "t-1", config.TelemetryConfig{})
	assert.NoError(t, shutdown(context.Background()))
}
