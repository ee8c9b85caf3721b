// Package converter is the real-time side of the process. A Runtime ticks
// its controllers at a fixed rate and runs background work strictly between
// ticks, so a buffer flip never overlaps a read of parameter values.
package converter

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"vslib-go/bus"
	"vslib-go/param"
	"vslib-go/types"
	"vslib-go/x/fsm"
	"vslib-go/x/timex"
)

var TopicState = bus.T(types.TokConverter, types.TokState)

// ErrStopped is returned by Background once the runtime has exited.
var ErrStopped = errors.New("converter: runtime stopped")

// Level is the process-level converter state.
type Level string

const (
	Unconfigured Level = "unconfigured"
	Configured   Level = "configured"
	Stopped      Level = "stopped"
)

// Controller is run once per tick while the tree is configured. Tick may
// read parameter values only.
type Controller interface {
	Tick(dt time.Duration)
}

type Options struct {
	TickHz    uint32
	Heartbeat time.Duration // state republish interval; 0 disables
	Logger    *slog.Logger
}

type job struct {
	fn   func()
	done chan struct{}
}

type Runtime struct {
	root   *param.Root
	conn   *bus.Connection
	log    *slog.Logger
	period time.Duration
	beat   time.Duration
	ctrls  []Controller
	sm     *fsm.Machine[Level]

	work    chan job
	stopped chan struct{}
	ticks   atomic.Uint64
	jobs    atomic.Uint64

	stopping bool
}

// New creates a runtime over root. conn may be nil, in which case no state
// is published.
func New(root *param.Root, conn *bus.Connection, opts Options, ctrls ...Controller) *Runtime {
	r := &Runtime{
		root:    root,
		conn:    conn,
		log:     opts.Logger,
		period:  timex.PeriodFromHz(opts.TickHz),
		beat:    opts.Heartbeat,
		ctrls:   ctrls,
		work:    make(chan job),
		stopped: make(chan struct{}),
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	r.log = r.log.With("service", "converter")

	stopping := func() bool { return r.stopping }
	r.sm = fsm.New(Unconfigured).
		Add(Unconfigured, Stopped, stopping).
		Add(Configured, Stopped, stopping).
		Add(Unconfigured, Configured, root.Configured)
	r.sm.OnEnter(Configured, func(from Level) {
		r.log.Info("tree configured", "from", string(from))
		r.publishState("ready")
	})
	return r
}

// Level returns the current converter state.
func (r *Runtime) Level() Level { return r.sm.State() }

// Ticks returns the number of completed ticks.
func (r *Runtime) Ticks() uint64 { return r.ticks.Load() }

// Background runs fn in the runtime goroutine between two ticks and waits
// for it to finish. A due tick always runs first.
func (r *Runtime) Background(ctx context.Context, fn func()) error {
	j := job{fn: fn, done: make(chan struct{})}
	select {
	case r.work <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopped:
		return ErrStopped
	}
	// once accepted the job always completes
	<-j.done
	return nil
}

// Run ticks until ctx is cancelled.
func (r *Runtime) Run(ctx context.Context) error {
	defer close(r.stopped)

	tick := time.NewTicker(r.period)
	defer tick.Stop()

	var beat <-chan time.Time
	if r.beat > 0 {
		hb := time.NewTicker(r.beat)
		defer hb.Stop()
		beat = hb.C
	}

	r.sm.Update()
	r.publishState("started")
	r.log.Info("running", "period", r.period.String(), "controllers", len(r.ctrls))

	for {
		// ticks take priority over queued work
		select {
		case <-ctx.Done():
			r.stop()
			return nil
		case <-tick.C:
			r.tick()
			continue
		default:
		}

		select {
		case <-ctx.Done():
			r.stop()
			return nil
		case <-tick.C:
			r.tick()
		case j := <-r.work:
			j.fn()
			r.jobs.Add(1)
			close(j.done)
		case <-beat:
			r.publishState("heartbeat")
			r.log.Debug("heartbeat", "ticks", r.ticks.Load(), "jobs", r.jobs.Load())
		}
	}
}

func (r *Runtime) tick() {
	if r.sm.State() == Configured {
		for _, c := range r.ctrls {
			c.Tick(r.period)
		}
	} else {
		r.sm.Update()
	}
	r.ticks.Add(1)
}

func (r *Runtime) stop() {
	r.stopping = true
	r.sm.Update()
	r.publishState("stopped")
	r.log.Info("stopped", "ticks", r.ticks.Load())
}

func (r *Runtime) publishState(status string) {
	if r.conn == nil {
		return
	}
	st := types.ConverterState{Level: string(r.sm.State()), Status: status, TS: timex.NowMs()}
	r.conn.Publish(r.conn.NewMessage(TopicState, st, true))
}
