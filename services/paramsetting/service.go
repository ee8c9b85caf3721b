// Package paramsetting is the background task: it receives parameter
// commands, validates and applies them to background slots, verifies the
// affected components in batches and commits them with one buffer flip.
package paramsetting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	"vslib-go/bus"
	"vslib-go/errcode"
	"vslib-go/param"
	"vslib-go/types"
	"vslib-go/x/fsm"
	"vslib-go/x/timex"
)

var (
	TopicCommand     = bus.T(types.TokParam, types.TokCommand)
	TopicStatus      = bus.T(types.TokParam, types.TokStatus)
	TopicManifest    = bus.T(types.TokParam, types.TokManifest)
	TopicManifestGet = bus.T(types.TokParam, types.TokManifest, types.TokGet)
)

// Gate runs fn in the real-time goroutine between ticks and waits for it.
// Commits go through the gate because a flip rewrites slots the real-time
// task may be reading.
type Gate interface {
	Background(ctx context.Context, fn func()) error
}

// State is the per-command stage of the background task.
type State string

const (
	StateIdle        State = "idle"
	StateValidating  State = "validating"
	StateDispatching State = "dispatching"
	StateApplying    State = "applying"
)

type Options struct {
	Logger     *slog.Logger
	Gate       Gate                  // nil commits inline
	Registerer prometheus.Registerer // nil leaves metrics unregistered
	Version    types.Version         // zero value means types.InterfaceVersion
	MaxBatch   int                   // commands applied per commit; default 32
}

type Service struct {
	root     *param.Root
	reg      *param.Registry
	conn     *bus.Connection
	log      *slog.Logger
	gate     Gate
	version  types.Version
	maxBatch int
	validate *validator.Validate
	metrics  *metrics
	sm       *fsm.Machine[State]

	dropMu   sync.Mutex
	dropped  []*bus.Message
	dropWake chan struct{}

	// per-command scratch, owned by the state machine hooks
	payload any
	cmd     types.Command
	target  param.Param
	failed  bool
	result  types.Status
}

// New wires a background task over a built tree. conn may be nil when the
// service is driven directly through Handle and Commit.
func New(root *param.Root, reg *param.Registry, conn *bus.Connection, opts Options) *Service {
	s := &Service{
		root:     root,
		reg:      reg,
		conn:     conn,
		log:      opts.Logger,
		gate:     opts.Gate,
		version:  opts.Version,
		maxBatch: opts.MaxBatch,
		validate: newValidator(),
		metrics:  newMetrics(opts.Registerer),
		dropWake: make(chan struct{}, 1),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("service", "paramsetting")
	if s.version == (types.Version{}) {
		s.version = types.InterfaceVersion
	}
	if s.maxBatch <= 0 {
		s.maxBatch = 32
	}

	failed := func() bool { return s.failed }
	passed := func() bool { return !s.failed }
	s.sm = fsm.New(StateIdle).
		Add(StateIdle, StateValidating, func() bool { return s.payload != nil }).
		Add(StateValidating, StateIdle, failed).
		Add(StateValidating, StateDispatching, passed).
		Add(StateDispatching, StateIdle, failed).
		Add(StateDispatching, StateApplying, passed).
		Add(StateApplying, StateIdle, nil).
		OnEnter(StateIdle, func(State) { s.payload = nil }).
		OnEnter(StateValidating, func(State) { s.validateCommand() }).
		OnEnter(StateDispatching, func(State) { s.dispatch() }).
		OnEnter(StateApplying, func(State) { s.apply() })
	return s
}

// State reports the current command stage; it is StateIdle between commands.
func (s *Service) State() State { return s.sm.State() }

// -----------------------------------------------------------------------------
// Per-command pipeline
// -----------------------------------------------------------------------------

// Handle validates one command payload and applies it to the target's
// background slot. Nothing becomes visible until Commit.
func (s *Service) Handle(payload any) types.Status {
	if payload == nil {
		payload = invalidPayload{}
	}
	s.payload = payload
	s.failed = false
	s.target = nil
	s.cmd = types.Command{}
	s.result = types.Status{}

	for s.sm.Update() {
		if s.sm.State() == StateIdle {
			break
		}
	}

	st := s.result
	st.TS = timex.NowMs()
	s.metrics.commands.WithLabelValues(st.Code).Inc()
	if st.OK {
		s.log.Debug("command applied", "parameter", st.Parameter)
	} else {
		s.log.Warn("command rejected", "parameter", st.Parameter, "code", st.Code, "err", st.Message)
	}
	return st
}

// invalidPayload stands in for a nil payload so the idle guard still fires.
type invalidPayload struct{}

func (s *Service) validateCommand() {
	cmd, err := decodeCommand(s.validate, s.version, s.payload)
	if err != nil {
		s.fail(errcode.Of(err), "", err.Error())
		return
	}
	s.cmd = cmd
}

func (s *Service) dispatch() {
	p, ok := s.reg.Parameter(s.cmd.Name)
	if !ok {
		s.fail(errcode.UnknownParameter, s.cmd.Name, fmt.Sprintf("parameter %s not found", s.cmd.Name))
		return
	}
	s.target = p
}

func (s *Service) apply() {
	if w := s.target.SetJSONValue(s.cmd.Value); w != nil {
		s.fail(w.Code(), s.cmd.Name, fmt.Sprintf("%s: %s", s.cmd.Name, w.Error()))
		return
	}
	s.result = types.Status{
		OK:        true,
		Code:      string(errcode.OK),
		Parameter: s.cmd.Name,
		Component: s.target.Owner().FullName(),
		Message:   fmt.Sprintf("%s: value accepted", s.cmd.Name),
	}
}

func (s *Service) fail(code errcode.Code, name, msg string) {
	s.failed = true
	s.result = types.Status{Code: string(code), Parameter: name, Message: msg}
}

// -----------------------------------------------------------------------------
// Batch verification and commit
// -----------------------------------------------------------------------------

// Commit verifies every modified component and publishes the ones that pass
// with a single flip. It returns one status per committed or rejected
// component; held components (still missing values) produce none.
func (s *Service) Commit(ctx context.Context) ([]types.Status, error) {
	start := time.Now()
	var results []param.Result
	commit := func() { results = s.root.Commit() }
	if s.gate != nil {
		if err := s.gate.Background(ctx, commit); err != nil {
			return nil, err
		}
	} else {
		commit()
	}
	s.metrics.commitSeconds.Observe(time.Since(start).Seconds())

	var (
		out       []types.Status
		committed int
	)
	for _, r := range results {
		switch {
		case r.Committed:
			committed++
			s.metrics.verifications.WithLabelValues("committed").Inc()
			s.log.Info("component committed", "component", r.Component)
			out = append(out, types.Status{
				OK:        true,
				Code:      string(errcode.OK),
				Component: r.Component,
				Message:   fmt.Sprintf("%s: parameters committed", r.Component),
				TS:        timex.NowMs(),
			})
		case r.Warning != nil:
			s.metrics.verifications.WithLabelValues("rejected").Inc()
			s.log.Warn("component rejected", "component", r.Component, "code", r.Warning.Code(), "err", r.Warning.Error())
			out = append(out, types.Status{
				Code:      string(r.Warning.Code()),
				Component: r.Component,
				Message:   fmt.Sprintf("%s: %s", r.Component, r.Warning.Error()),
				TS:        timex.NowMs(),
			})
		case r.Held:
			s.metrics.verifications.WithLabelValues("held").Inc()
			s.log.Debug("component held", "component", r.Component)
		}
	}
	if committed > 0 {
		s.metrics.flips.Inc()
	}
	return out, nil
}

// Manifest returns the manifest of the active values.
func (s *Service) Manifest() ([]byte, error) {
	return param.Manifest(s.root.Component, s.version)
}

// -----------------------------------------------------------------------------
// Bus loop
// -----------------------------------------------------------------------------

// Run serves commands from the bus until ctx is cancelled. Each wake-up
// drains up to MaxBatch queued commands before one commit.
func (s *Service) Run(ctx context.Context) error {
	if s.conn == nil {
		return errors.New("paramsetting: no bus connection")
	}
	cmdSub := s.conn.SubscribeNotify(TopicCommand, s.queueDropped)
	defer s.conn.Unsubscribe(cmdSub)
	getSub := s.conn.Subscribe(TopicManifestGet)
	defer s.conn.Unsubscribe(getSub)

	s.publishManifest()
	s.log.Info("ready", "parameters", s.reg.Len(), "version", s.version.String())

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-cmdSub.Channel():
			if !ok {
				return errors.New("paramsetting: command subscription closed")
			}
			s.reportDropped()
			s.handleMessage(msg)
		drain:
			for n := 1; n < s.maxBatch; n++ {
				select {
				case m, ok := <-cmdSub.Channel():
					if !ok {
						break drain
					}
					s.handleMessage(m)
				default:
					break drain
				}
			}
			statuses, err := s.Commit(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			flipped := false
			for _, st := range statuses {
				s.publishStatus(st)
				flipped = flipped || st.OK
			}
			if flipped {
				s.publishManifest()
			}

		case <-s.dropWake:
			s.reportDropped()

		case req, ok := <-getSub.Channel():
			if !ok {
				return errors.New("paramsetting: manifest subscription closed")
			}
			b, err := s.Manifest()
			if err != nil {
				s.log.Error("manifest encode failed", "err", err)
				continue
			}
			s.conn.Reply(req, json.RawMessage(b), false)
		}
	}
}

// handleMessage applies one bus command, publishes its status and replies
// with it when the sender asked.
func (s *Service) handleMessage(m *bus.Message) {
	st := s.Handle(m.Payload)
	s.publishStatus(st)
	s.conn.Reply(m, st, false)
}

// queueDropped runs inside Publish when the command queue is full; it only
// records the message for the Run loop.
func (s *Service) queueDropped(m *bus.Message) {
	s.dropMu.Lock()
	s.dropped = append(s.dropped, m)
	s.dropMu.Unlock()
	select {
	case s.dropWake <- struct{}{}:
	default:
	}
}

// reportDropped rejects every command the queue discarded, so each received
// command still ends with a status.
func (s *Service) reportDropped() {
	s.dropMu.Lock()
	msgs := s.dropped
	s.dropped = nil
	s.dropMu.Unlock()

	for _, m := range msgs {
		var name string
		if cmd, err := decodeCommand(s.validate, s.version, m.Payload); err == nil {
			name = cmd.Name
		}
		label := name
		if label == "" {
			label = "command"
		}
		st := types.Status{
			Code:      string(errcode.QueueFull),
			Parameter: name,
			Message:   fmt.Sprintf("%s: dropped, command queue full", label),
			TS:        timex.NowMs(),
		}
		s.metrics.dropped.Inc()
		s.metrics.commands.WithLabelValues(st.Code).Inc()
		s.log.Warn("command dropped", "parameter", st.Parameter)
		s.publishStatus(st)
		s.conn.Reply(m, st, false)
	}
}

func (s *Service) publishStatus(st types.Status) {
	s.conn.Publish(s.conn.NewMessage(TopicStatus, st, false))
}

func (s *Service) publishManifest() {
	b, err := s.Manifest()
	if err != nil {
		s.log.Error("manifest encode failed", "err", err)
		return
	}
	s.conn.Publish(s.conn.NewMessage(TopicManifest, json.RawMessage(b), true))
}
