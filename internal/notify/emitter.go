// Package notify turns escalation events into staff-facing messages. It is a
// side-effect boundary: failures here are logged and counted, never allowed
// to roll back or block the state transition that produced them.
package notify

import (
	"context"

	"route-deviation-service/internal/domain"
)

// Emitter delivers one event. At-most-once, no retries.
type Emitter interface {
	Emit(ctx context.Context, ev domain.Event) error
}
