package framework

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Loop runs posted tasks in turns. Tasks posted while a turn is running
// are deferred to the next turn.
type Loop struct {
	// Interval is the maximum time between turns when nothing is posted.
	Interval time.Duration

	tasks taskList
	lock  sync.Mutex

	wakeUpCh chan struct{}
	once     sync.Once
}

type taskList struct {
	head *taskItem
	tail *taskItem
}

type taskItem struct {
	task Task
	next *taskItem
}

func (l *taskList) append(item *taskItem) {
	if l.head == nil {
		l.head = item
	} else {
		l.tail.next = item
	}
	l.tail = item
}

func (l *taskList) splice(src *taskList) {
	l.head, l.tail, src.head, src.tail = src.head, src.tail, nil, nil
}

// NewLoop creates a Loop.
func NewLoop() *Loop {
	return &Loop{Interval: 100 * time.Millisecond}
}

func (l *Loop) wakeUp() chan struct{} {
	l.once.Do(func() {
		l.wakeUpCh = make(chan struct{}, 1)
	})
	return l.wakeUpCh
}

// Post implements Poster.
func (l *Loop) Post(task Task) {
	l.lock.Lock()
	l.tasks.append(&taskItem{task: task})
	l.lock.Unlock()
	l.TriggerNext()
}

// TriggerNext implements Poster.
func (l *Loop) TriggerNext() {
	select {
	case l.wakeUp() <- struct{}{}:
	default:
	}
}

// Pending returns the number of tasks waiting for the next turn.
func (l *Loop) Pending() (n int) {
	l.lock.Lock()
	for item := l.tasks.head; item != nil; item = item.next {
		n++
	}
	l.lock.Unlock()
	return
}

// RunTurn executes the tasks posted before this call and returns how
// many were executed.
func (l *Loop) RunTurn() (n int) {
	var turn taskList
	l.lock.Lock()
	turn.splice(&l.tasks)
	l.lock.Unlock()
	for item := turn.head; item != nil; item = item.next {
		runTask(item.task)
		n++
	}
	return
}

// Run implements Runnable.
func (l *Loop) Run(ctx context.Context) error {
	interval := l.Interval
	if interval == 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.RunTurn()
		case <-l.wakeUp():
			l.RunTurn()
		}
	}
}

func runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("task panic: %v", r)
		}
	}()
	task()
}
