package sharpshot

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Ledger tracks active and completed tasks for one batch.
// It is owned by a single Run call and shared with that call's workers.
type Ledger struct {
	total     int64
	active    atomic.Int64
	completed atomic.Int64
	peak      atomic.Int64

	done     chan struct{}
	doneOnce sync.Once
}

// NewLedger returns a ledger expecting total tasks. A ledger for an
// empty batch is already done.
func NewLedger(total int) *Ledger {
	l := &Ledger{total: int64(total), done: make(chan struct{})}
	if total == 0 {
		l.closeDone()
	}
	return l
}

// Begin marks a task as active.
func (l *Ledger) Begin() {
	n := l.active.Add(1)
	for {
		p := l.peak.Load()
		if n <= p || l.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

// Finish marks an active task as completed. The done channel closes when
// the last submitted task finishes.
func (l *Ledger) Finish() {
	c := l.completed.Add(1)
	l.active.Add(-1)
	if c == l.total {
		l.closeDone()
	}
}

func (l *Ledger) closeDone() {
	l.doneOnce.Do(func() { close(l.done) })
}

// Done is closed once completed equals total.
func (l *Ledger) Done() <-chan struct{} { return l.done }

func (l *Ledger) Active() int    { return int(l.active.Load()) }
func (l *Ledger) Completed() int { return int(l.completed.Load()) }
func (l *Ledger) Total() int     { return int(l.total) }

// Peak is the highest number of simultaneously active tasks observed.
func (l *Ledger) Peak() int { return int(l.peak.Load()) }

// Register exposes the ledger counters on reg.
func (l *Ledger) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sharpshot_active_workers",
			Help: "Number of capture tasks currently between fetching and a terminal state.",
		}, func() float64 { return float64(l.active.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "sharpshot_completed_tasks",
			Help: "Number of capture tasks that reached a terminal state.",
		}, func() float64 { return float64(l.completed.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sharpshot_submitted_tasks",
			Help: "Number of capture tasks submitted in the batch.",
		}, func() float64 { return float64(l.total) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sharpshot_peak_active_workers",
			Help: "Highest number of simultaneously active capture tasks.",
		}, func() float64 { return float64(l.peak.Load()) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
