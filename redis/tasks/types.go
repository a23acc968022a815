// Package tasks defines the housekeeping tasks processed off the Redis
// queue.
package tasks

import (
	"github.com/hibiken/asynq"
)

// TypeAuthStateSweep removes expired, uncompleted authorization states.
// The sweep is hygiene only; expired states are already rejected on
// read.
const TypeAuthStateSweep = "authstate:sweep"

// NewAuthStateSweepTask creates a sweep task. It carries no payload; the
// cutoff is the handler's wall clock.
func NewAuthStateSweepTask() *asynq.Task {
	return asynq.NewTask(TypeAuthStateSweep, nil)
}
