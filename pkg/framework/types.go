package framework

import (
	"context"
)

// Named is an abstraction for things with a name.
type Named interface {
	Name() string
}

// Runnable defines a generic interface for background runners.
type Runnable interface {
	Run(context.Context) error
}

// RunFunc is the func form of Runnable.
type RunFunc func(context.Context) error

// Run implements Runnable.
func (f RunFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Task is a unit of work executed by a Loop.
type Task func()

// Poster schedules tasks to run on the next loop turn.
type Poster interface {
	// Post enqueues the task.
	Post(Task)
	// TriggerNext wakes up the loop so the next turn runs immediately.
	TriggerNext()
}
