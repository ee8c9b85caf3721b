// bridge/bridge.go
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"vslib-go/bus"
	"vslib-go/types"
	"vslib-go/x/mathx"
)

var (
	topicConfig  = bus.T(types.TokConfig, types.TokBridge)
	topicState   = bus.T(types.TokBridge, types.TokState)
	topicCommand = bus.T(types.TokParam, types.TokCommand)
	topicStatus  = bus.T(types.TokParam, types.TokStatus)
)

// TopicConfig is where the bridge expects its Config.
func TopicConfig() bus.Topic { return topicConfig }

// TopicState carries retained link state.
func TopicState() bus.Topic { return topicState }

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start starts the bridge service. It blocks until ctx is cancelled.
// It listens for JSON config on topic {"config","bridge"} and (re)configures the link.
func Start(ctx context.Context, conn *bus.Connection, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		conn: conn,
		log:  log.With("service", "bridge"),
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config is the JSON-encoded configuration expected on "config/bridge".
type Config struct {
	// "shmring", "tcp", "none", or a name registered via RegisterTransport.
	Transport string `json:"transport"`
	Addr      string `json:"addr,omitempty"`

	// Ring handles for the shmring transport (see shmring.Register).
	InHandle  uint32 `json:"in_handle,omitempty"`
	OutHandle uint32 `json:"out_handle,omitempty"`

	CommandRate float64 `json:"command_rate"` // inbound commands per second
	Burst       int     `json:"burst"`
	PingMS      int     `json:"ping_ms,omitempty"`
	AckMS       int     `json:"ack_ms,omitempty"` // wait for a command's status; default 2000
}

func (c Config) limiter() *rate.Limiter {
	r := rate.Inf
	if c.CommandRate > 0 {
		r = rate.Limit(c.CommandRate)
	}
	return rate.NewLimiter(r, mathx.Max(c.Burst, 1))
}

func (c Config) ackTimeout() time.Duration {
	if c.AckMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.AckMS) * time.Millisecond
}

func (c Config) pingEvery() time.Duration {
	if c.PingMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.PingMS) * time.Millisecond
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn *bus.Connection
	log  *slog.Logger

	mu     sync.Mutex
	curRun context.CancelFunc
	curCfg atomic.Value // stores Config

	forwarded atomic.Uint64 // inbound commands published
	unacked   atomic.Uint64 // commands whose status never arrived
	sent      atomic.Uint64 // status frames written
}

// run waits for config and supervises a single link instance.
func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfig)
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.mu.Lock()
	// Cancel any existing run.
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	s.curCfg.Store(cfg)
	if cfg.Transport == "none" {
		s.publishState("idle", "disabled", nil)
		return
	}
	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg Config) {
	tr, err := newTransport(cfg)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		link, err := tr.Open(ctx)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.publishState("up", "link_established", nil)
		s.log.Info("link up", "transport", tr.String())
		err = s.handleLink(ctx, link, cfg)
		_ = link.Close()
		if err != nil {
			delay := backoff()
			s.log.Warn("link lost", "transport", tr.String(), "err", err, "retry", delay.String())
			s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		// Clean close: restart only on new config.
		s.publishState("idle", "link_closed", nil)
		return
	}
}

// handleLink owns the active link lifetime: inbound command frames go to
// param/command at the configured rate, one at a time, each waiting for its
// status reply before the next frame is read. param/status text goes out as
// status frames.
func (s *Service) handleLink(ctx context.Context, link Link, cfg Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	statusSub := s.conn.Subscribe(topicStatus)
	defer s.conn.Unsubscribe(statusSub)

	lim := cfg.limiter()

	// Reader
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			f, err := link.ReadFrame(ctx)
			if err != nil {
				errCh <- err
				return
			}
			switch f.Type {
			case framePing:
				if err := link.WriteFrame(ctx, Frame{Type: framePong}); err != nil {
					errCh <- err
					return
				}
			case framePong:
				// Optional: publish RTT etc.
			case frameCommand:
				if err := lim.Wait(ctx); err != nil {
					errCh <- err
					return
				}
				if err := s.forward(ctx, f.Payload, cfg.ackTimeout()); err != nil {
					errCh <- err
					return
				}
			case frameClose:
				return
			default:
				s.log.Debug("ignoring frame", "type", f.Type)
			}
		}
	}()

	tick := time.NewTicker(cfg.pingEvery())
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			// Best-effort close.
			wctx, wcancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			_ = link.WriteFrame(wctx, Frame{Type: frameClose})
			wcancel()
			return nil
		case err, ok := <-errCh:
			if !ok || err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case <-tick.C:
			if err := link.WriteFrame(ctx, Frame{Type: framePing}); err != nil {
				return err
			}
		case m, ok := <-statusSub.Channel():
			if !ok {
				return errors.New("status subscription closed")
			}
			st, ok := m.Payload.(types.Status)
			if !ok {
				continue
			}
			if err := link.WriteFrame(ctx, Frame{Type: frameStatus, Payload: []byte(st.Message)}); err != nil {
				return err
			}
			s.sent.Add(1)
		}
	}
}

// forward publishes one command and waits for its status so a burst from
// the peer cannot overrun the command queue. A missing status is logged and
// the link keeps going.
func (s *Service) forward(ctx context.Context, payload []byte, timeout time.Duration) error {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := s.conn.RequestWait(rctx, s.conn.NewMessage(topicCommand, payload, false))
	s.forwarded.Add(1)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.unacked.Add(1)
	s.log.Warn("command not acknowledged", "timeout", timeout.String(), "err", err)
	return nil
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (Config, error) {
	var cfg Config
	switch v := p.(type) {
	case Config:
		return v, nil
	case []byte:
		if err := json.Unmarshal(v, &cfg); err != nil {
			return cfg, err
		}
	case string:
		if err := json.Unmarshal([]byte(v), &cfg); err != nil {
			return cfg, err
		}
	case map[string]any:
		// Already a decoded object (e.g. if provided internally); re-marshal for simplicity.
		b, err := json.Marshal(v)
		if err != nil {
			return cfg, err
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config payload type: %T", p)
	}
	return cfg, nil
}

func (s *Service) publishState(level, status string, err error) {
	payload := map[string]any{
		"level":  level,  // "up", "degraded", "error", "idle"
		"status": status, // short machine string
		"ts_ms":  time.Now().UnixMilli(),
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	msg := s.conn.NewMessage(topicState, payload, true)
	s.conn.Publish(msg)
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	var cur = min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
