package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"vslib-go/errcode"
	"vslib-go/x/shmring"
)

// -----------------------------------------------------------------------------
// Framing
// -----------------------------------------------------------------------------

const (
	framePing    byte = 0x01
	framePong    byte = 0x02
	frameCommand byte = 0x10 // peer -> bus: one command JSON document
	frameStatus  byte = 0x11 // bus -> peer: one status message text
	frameClose   byte = 0x7f
)

// Frame is a typed, length-prefixed frame.
type Frame struct {
	Type    byte
	Payload []byte
}

// Link is an open, framed connection to the peer. WriteFrame is safe for
// concurrent use; ReadFrame has a single caller.
type Link interface {
	ReadFrame(ctx context.Context) (Frame, error)
	WriteFrame(ctx context.Context, f Frame) error
	Close() error
}

// -----------------------------------------------------------------------------
// Transport registry
// -----------------------------------------------------------------------------

// Transport is a pluggable link dialler/owner.
type Transport interface {
	Open(ctx context.Context) (Link, error)
	String() string
}

type TransportFactory func(Config) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]TransportFactory{}
)

// RegisterTransport allows external packages to add transports.
func RegisterTransport(name string, f TransportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg Config) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Transport]
	regMu.RUnlock()
	if ok {
		return f(cfg)
	}
	switch cfg.Transport {
	case "tcp":
		if cfg.Addr == "" {
			return nil, errors.New("tcp transport requires addr")
		}
		return &tcpTransport{addr: cfg.Addr}, nil
	case "shmring":
		return newRingTransport(cfg)
	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Transport)
	}
}

// -----------------------------------------------------------------------------
// Stream links (tcp, or any io.ReadWriteCloser)
// -----------------------------------------------------------------------------

type tcpTransport struct{ addr string }

func (t *tcpTransport) Open(ctx context.Context) (Link, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, err
	}
	return NewStreamLink(c), nil
}

func (t *tcpTransport) String() string { return "tcp" }

type streamLink struct {
	rwc io.ReadWriteCloser
	wmu sync.Mutex
}

// NewStreamLink frames a byte stream as
// [type][len MSB][len LSB][payload...].
func NewStreamLink(rwc io.ReadWriteCloser) Link { return &streamLink{rwc: rwc} }

func (l *streamLink) ReadFrame(context.Context) (Frame, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(l.rwc, hdr[:]); err != nil {
		return Frame{}, err
	}
	typ := hdr[0]
	n := int(hdr[1])<<8 | int(hdr[2])
	var buf []byte
	if n > 0 {
		buf = make([]byte, n)
		if _, err := io.ReadFull(l.rwc, buf); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: typ, Payload: buf}, nil
}

func (l *streamLink) WriteFrame(_ context.Context, f Frame) error {
	if len(f.Payload) > 0xFFFF {
		return &errcode.E{C: errcode.FrameTooLarge, Op: "bridge.WriteFrame", Msg: fmt.Sprintf("%d bytes", len(f.Payload))}
	}
	buf := make([]byte, 0, 3+len(f.Payload))
	buf = append(buf, f.Type, byte(len(f.Payload)>>8), byte(len(f.Payload)&0xFF))
	buf = append(buf, f.Payload...)

	l.wmu.Lock()
	defer l.wmu.Unlock()
	_, err := l.rwc.Write(buf)
	return err
}

func (l *streamLink) Close() error { return l.rwc.Close() }

// -----------------------------------------------------------------------------
// Shared-memory ring links
// -----------------------------------------------------------------------------

type ringTransport struct {
	in, out shmring.Handle
}

func newRingTransport(cfg Config) (Transport, error) {
	if cfg.InHandle == 0 || cfg.OutHandle == 0 {
		return nil, errors.New("shmring transport requires in_handle and out_handle")
	}
	return &ringTransport{in: shmring.Handle(cfg.InHandle), out: shmring.Handle(cfg.OutHandle)}, nil
}

func (t *ringTransport) Open(context.Context) (Link, error) {
	in, out := shmring.Get(t.in), shmring.Get(t.out)
	if in == nil || out == nil {
		return nil, fmt.Errorf("shmring handles %d/%d not registered", t.in, t.out)
	}
	return NewRingLink(in, out), nil
}

func (t *ringTransport) String() string { return "shmring" }

type ringLink struct {
	in, out *shmring.Ring
	wmu     sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

// NewRingLink reads frames from in and writes frames to out. Each ring frame
// carries the frame type in its first byte.
func NewRingLink(in, out *shmring.Ring) Link {
	return &ringLink{in: in, out: out, closed: make(chan struct{})}
}

func (l *ringLink) ReadFrame(ctx context.Context) (Frame, error) {
	ctx, cancel := l.bind(ctx)
	defer cancel()
	p, err := l.in.ReadFrame(ctx, l.in.MaxFrame())
	if err != nil {
		return Frame{}, l.mapErr(err)
	}
	if len(p) == 0 {
		return Frame{}, errors.New("empty ring frame")
	}
	return Frame{Type: p[0], Payload: p[1:]}, nil
}

func (l *ringLink) WriteFrame(ctx context.Context, f Frame) error {
	ctx, cancel := l.bind(ctx)
	defer cancel()
	buf := make([]byte, 0, 1+len(f.Payload))
	buf = append(buf, f.Type)
	buf = append(buf, f.Payload...)

	l.wmu.Lock()
	defer l.wmu.Unlock()
	return l.mapErr(l.out.WriteFrame(ctx, buf))
}

func (l *ringLink) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

// bind derives a context that is also cancelled when the link closes.
func (l *ringLink) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-l.closed:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (l *ringLink) mapErr(err error) error {
	select {
	case <-l.closed:
		if err != nil {
			return io.EOF
		}
	default:
	}
	return err
}
