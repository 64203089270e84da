package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

// Loop is a real-time TimerHost. A single goroutine sleeps until the
// earliest registration is due and runs callbacks one at a time, so
// callbacks from different handles never overlap. Registrations already in
// the past fire on the next loop pass.
type Loop struct {
	mu     sync.Mutex
	queue  loopQueue
	byID   map[TimerID]*loopEntry
	lastID TimerID

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewLoop starts a loop. Callers must Close it when done.
func NewLoop() *Loop {
	l := &Loop{
		byID: make(map[TimerID]*loopEntry),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// RegisterTimer arms fn to run once at the given instant.
func (l *Loop) RegisterTimer(at time.Time, fn func()) TimerID {
	l.mu.Lock()
	l.lastID++
	entry := &loopEntry{id: l.lastID, at: at, fn: fn}
	heap.Push(&l.queue, entry)
	l.byID[entry.id] = entry
	l.mu.Unlock()

	l.notify()
	return entry.id
}

// CancelTimer revokes a pending registration. It returns false when the
// registration already fired, is currently firing, or is unknown.
func (l *Loop) CancelTimer(id TimerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&l.queue, entry.index)
	delete(l.byID, id)
	return true
}

// Now returns the wall-clock time.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Close stops the loop goroutine. Registrations still pending never fire.
// Close is idempotent.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
}

func (l *Loop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) run() {
	for {
		now := time.Now()

		l.mu.Lock()
		for len(l.queue) > 0 && !l.queue[0].at.After(now) {
			entry := heap.Pop(&l.queue).(*loopEntry)
			delete(l.byID, entry.id)
			// Callbacks re-enter the loop to arm their next occurrence, so
			// they run unlocked.
			l.mu.Unlock()
			entry.fn()
			l.mu.Lock()
			now = time.Now()
		}
		waiting := false
		var wait time.Duration
		if len(l.queue) > 0 {
			waiting = true
			wait = l.queue[0].at.Sub(now)
		}
		l.mu.Unlock()

		if !waiting {
			select {
			case <-l.wake:
			case <-l.done:
				return
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-l.wake:
			timer.Stop()
		case <-l.done:
			timer.Stop()
			return
		}
	}
}

type loopEntry struct {
	id    TimerID
	at    time.Time
	fn    func()
	index int
}

// loopQueue is a min-heap of entries ordered by due instant, ties broken by
// registration order.
type loopQueue []*loopEntry

func (q loopQueue) Len() int { return len(q) }

func (q loopQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].id < q[j].id
	}
	return q[i].at.Before(q[j].at)
}

func (q loopQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *loopQueue) Push(x any) {
	entry := x.(*loopEntry)
	entry.index = len(*q)
	*q = append(*q, entry)
}

func (q *loopQueue) Pop() any {
	old := *q
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*q = old[:n-1]
	return entry
}
