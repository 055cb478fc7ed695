package core

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/sky-engine/internal/logging"
)

// TaskStatus is returned by task callbacks.
type TaskStatus int

const (
	// TaskContinue keeps the task scheduled for the next frame.
	TaskContinue TaskStatus = iota
	// TaskDone removes the task after this call.
	TaskDone
)

// TaskFunc is called once per frame with the frame duration in seconds.
type TaskFunc func(t *Task, dt float64) TaskStatus

// Task is a recurring per frame callback.
type Task struct {
	next, prev *Task
	list       *taskList
	pass       uint64

	Fn   TaskFunc
	User any
}

type taskList struct {
	head *Task
	n    int
	pass uint64
}

func (l *taskList) add(t *Task) {
	t.list = l
	t.pass = l.pass
	t.prev = nil
	t.next = l.head
	if l.head != nil {
		l.head.prev = t
	}
	l.head = t
	l.n++
}

// unlink removes t. The next pointer is kept so a pass that already
// captured t can continue past it.
func (l *taskList) unlink(t *Task) {
	if t.list != l {
		return
	}
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		l.head = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	}
	t.prev = nil
	t.list = nil
	l.n--
}

func (l *taskList) clear() {
	for t := l.head; t != nil; {
		next := t.next
		t.list, t.prev, t.next = nil, nil, nil
		t = next
	}
	l.head = nil
	l.n = 0
}

// run calls every task at most once. Tasks added during the pass carry the
// current pass number and first run on the next frame. Removed tasks are
// skipped.
func (l *taskList) run(ctx context.Context, dt float64, log logging.Logger) {
	l.pass++
	for t := l.head; t != nil; {
		next := t.next
		if t.list == l && t.pass != l.pass {
			t.pass = l.pass
			if callTask(ctx, t, dt, log) == TaskDone {
				l.unlink(t)
			}
		}
		t = next
		for t != nil && t.list != l {
			t = t.next
		}
	}
}

func callTask(ctx context.Context, t *Task, dt float64, log logging.Logger) (status TaskStatus) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn(ctx, "task dropped after panic",
				logging.String("panic", fmt.Sprint(r)),
			)
			status = TaskDone
		}
	}()
	return t.Fn(t, dt)
}

// AddTask schedules fn to run once per frame, before module updates, until
// it returns TaskDone.
func (c *Core) AddTask(fn TaskFunc, user any) *Task {
	t := &Task{Fn: fn, User: user}
	c.tasks.add(t)
	return t
}

// RemoveTask unschedules t. It is safe to call from another task.
func (c *Core) RemoveTask(t *Task) {
	if t != nil {
		c.tasks.unlink(t)
	}
}

// Tasks returns the number of scheduled tasks.
func (c *Core) Tasks() int { return c.tasks.n }
