// Package config publishes parameter presets as commands. Presets come from
// an embedded per-device table and an optional file, which can be watched
// and re-applied when it changes.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"vslib-go/bus"
	"vslib-go/errcode"
	"vslib-go/types"
	"vslib-go/x/timex"
)

const serviceName = "config"

var (
	TopicPresets = bus.T(types.TokConfig, types.TokPresets)
	topicCommand = bus.T(types.TokParam, types.TokCommand)
)

// EmbeddedPresetLookup allows overriding how presets are resolved.
var EmbeddedPresetLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedPresets[device]
	return b, ok
}

type Options struct {
	Device   string
	File     string
	Watch    bool
	Debounce time.Duration // default 100ms
	Timeout  time.Duration // per command; default 2s
	Logger   *slog.Logger
}

// Report is published retained on config/presets after each application.
type Report struct {
	Source   string         `json:"source"`
	Applied  int            `json:"applied"`
	Rejected int            `json:"rejected"`
	Statuses []types.Status `json:"statuses,omitempty"`
	TS       int64          `json:"ts_ms"`
}

// -----------------------------------------------------------------------------
// Preset Service
// -----------------------------------------------------------------------------

type PresetService struct {
	Name string
	opts Options
	log  *slog.Logger
}

func NewPresetService(opts Options) *PresetService {
	if opts.Debounce <= 0 {
		opts.Debounce = 100 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &PresetService{Name: serviceName, opts: opts, log: log.With("service", serviceName)}
}

// Run applies the embedded and file presets and, when watching, re-applies
// the file on change until ctx is cancelled.
func (s *PresetService) Run(ctx context.Context, conn *bus.Connection) error {
	if err := s.applyEmbedded(ctx, conn); err != nil {
		s.log.Warn("embedded presets not applied", "device", s.opts.Device, "err", err)
	}
	if s.opts.File == "" {
		return nil
	}
	if err := s.applyFile(ctx, conn); err != nil {
		s.log.Warn("preset file not applied", "file", s.opts.File, "err", err)
	}
	if !s.opts.Watch {
		return nil
	}
	return s.watch(ctx, conn)
}

func (s *PresetService) applyEmbedded(ctx context.Context, conn *bus.Connection) error {
	if s.opts.Device == "" {
		return errors.New("missing device ID")
	}
	raw, ok := EmbeddedPresetLookup(s.opts.Device)
	if !ok || len(raw) == 0 {
		return errors.New("no embedded presets for device: " + s.opts.Device)
	}
	entries, err := ParsePresets(raw)
	if err != nil {
		return err
	}
	_, err = s.publish(ctx, conn, "embedded:"+s.opts.Device, entries)
	return err
}

func (s *PresetService) applyFile(ctx context.Context, conn *bus.Connection) error {
	raw, err := os.ReadFile(s.opts.File)
	if err != nil {
		return err
	}
	entries, err := ParsePresets(raw)
	if err != nil {
		return err
	}
	_, err = s.publish(ctx, conn, "file:"+s.opts.File, entries)
	return err
}

// publish sends each entry as a command and waits for its status, so the
// command queue is never overrun.
func (s *PresetService) publish(ctx context.Context, conn *bus.Connection, source string, entries []Entry) (Report, error) {
	rep := Report{Source: source}
	for _, cmd := range Commands(entries) {
		rctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		reply, err := conn.RequestWait(rctx, conn.NewMessage(topicCommand, cmd, false))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			return rep, fmt.Errorf("%s: %w", cmd.Name, err)
		}
		st, ok := reply.Payload.(types.Status)
		if !ok {
			return rep, &errcode.E{C: errcode.Error, Op: "config.publish", Msg: fmt.Sprintf("unexpected reply %T", reply.Payload)}
		}
		if st.OK {
			rep.Applied++
		} else {
			rep.Rejected++
			rep.Statuses = append(rep.Statuses, st)
		}
	}
	rep.TS = timex.NowMs()
	conn.Publish(conn.NewMessage(TopicPresets, rep, true))
	s.log.Info("presets applied", "source", source, "applied", rep.Applied, "rejected", rep.Rejected)
	return rep, nil
}

// watch re-applies the preset file after writes settle for Debounce. The
// directory is watched so editors that replace the file are handled.
func (s *PresetService) watch(ctx context.Context, conn *bus.Connection) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	target := filepath.Clean(s.opts.File)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return err
	}
	s.log.Info("watching presets", "file", target)

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.opts.Debounce)
			} else {
				timer.Reset(s.opts.Debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			if err := s.applyFile(ctx, conn); err != nil {
				s.log.Warn("preset reload failed", "file", target, "err", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("watcher error", "err", err)
		}
	}
}
