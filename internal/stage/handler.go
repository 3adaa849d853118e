package stage

import (
	"context"

	"qcflow/internal/lanes"
)

// Handler is a lane handler that can also report whether its dependencies
// are usable.
type Handler interface {
	lanes.Handler
	HealthCheck(context.Context) Health
}
