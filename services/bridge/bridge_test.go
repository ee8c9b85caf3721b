// bridge/bridge_test.go
package bridge

import (
	"context"
	"net"
	"testing"
	"time"

	"vslib-go/bus"
	"vslib-go/types"
	"vslib-go/x/shmring"
)

// pipeTransport hands the bridge one end of a net.Pipe per Open and keeps
// the other end for the test.
type pipeTransport struct {
	remotes chan net.Conn
}

func (p *pipeTransport) Open(context.Context) (Link, error) {
	lc, rc := net.Pipe()
	p.remotes <- rc
	return NewStreamLink(lc), nil
}

func (p *pipeTransport) String() string { return "pipe" }

func registerPipe(t *testing.T) *pipeTransport {
	t.Helper()
	pt := &pipeTransport{remotes: make(chan net.Conn, 4)}
	RegisterTransport("pipe", func(Config) (Transport, error) { return pt, nil })
	t.Cleanup(func() {
		regMu.Lock()
		delete(registry, "pipe")
		regMu.Unlock()
	})
	return pt
}

func startBridge(t *testing.T, b *bus.Bus) (*bus.Connection, *bus.Subscription) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go Start(ctx, b.NewConnection("bridge"), nil)

	conn := b.NewConnection("bridge_test")
	stateSub := conn.Subscribe(TopicState())
	t.Cleanup(func() { conn.Unsubscribe(stateSub) })

	first := nextStatePayload(t, stateSub, 500*time.Millisecond)
	assertLevelStatus(t, first, "idle", "awaiting_config")
	return conn, stateSub
}

func TestBridge_StreamLinkPumpsCommandsAndStatus(t *testing.T) {
	pt := registerPipe(t)
	b := bus.NewBus(16)
	conn, stateSub := startBridge(t, b)

	cmdSub := conn.Subscribe(topicCommand)
	defer conn.Unsubscribe(cmdSub)

	conn.Publish(conn.NewMessage(TopicConfig(), `{"transport":"pipe","command_rate":1000,"burst":10}`, false))
	up := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, up, "up", "link_established")

	var remote net.Conn
	select {
	case remote = <-pt.remotes:
	case <-time.After(time.Second):
		t.Fatal("transport never opened")
	}
	peer := NewStreamLink(remote)
	ctx := context.Background()

	// peer -> bus
	cmd := `{"name":"vs.converter.pid.kp","value":1,"version":[1,0,0]}`
	if err := peer.WriteFrame(ctx, Frame{Type: frameCommand, Payload: []byte(cmd)}); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-cmdSub.Channel():
		if string(m.Payload.([]byte)) != cmd {
			t.Fatalf("forwarded payload %q", m.Payload)
		}
		conn.Reply(m, types.Status{OK: true}, false)
	case <-time.After(time.Second):
		t.Fatal("command not forwarded")
	}

	// bus -> peer
	conn.Publish(conn.NewMessage(topicStatus, types.Status{OK: true, Message: "vs.converter.pid.kp: value accepted"}, false))
	f := readNonPing(t, peer)
	if f.Type != frameStatus || string(f.Payload) != "vs.converter.pid.kp: value accepted" {
		t.Fatalf("unexpected frame %#x %q", f.Type, f.Payload)
	}

	// ping is answered
	if err := peer.WriteFrame(ctx, Frame{Type: framePing}); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, peer); f.Type != framePong {
		t.Fatalf("expected pong, got %#x", f.Type)
	}

	// Close the remote to force link loss; expect degraded state.
	_ = remote.Close()
	degraded := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, degraded, "degraded", "link_lost_retrying")
}

func TestBridge_ShmringLink(t *testing.T) {
	inH, in := shmring.NewRegistered(256)
	outH, out := shmring.NewRegistered(256)
	t.Cleanup(func() { shmring.Close(inH); shmring.Close(outH) })

	b := bus.NewBus(16)
	conn, stateSub := startBridge(t, b)
	cmdSub := conn.Subscribe(topicCommand)
	defer conn.Unsubscribe(cmdSub)

	cfg := Config{Transport: "shmring", InHandle: uint32(inH), OutHandle: uint32(outH), CommandRate: 1000, Burst: 1}
	conn.Publish(conn.NewMessage(TopicConfig(), cfg, false))
	assertLevelStatus(t, nextStatePayload(t, stateSub, time.Second), "up", "link_established")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := in.WriteFrame(ctx, append([]byte{frameCommand}, `{"x":1}`...)); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-cmdSub.Channel():
		if string(m.Payload.([]byte)) != `{"x":1}` {
			t.Fatalf("forwarded payload %q", m.Payload)
		}
		conn.Reply(m, types.Status{OK: true}, false)
	case <-time.After(time.Second):
		t.Fatal("command not forwarded from ring")
	}

	conn.Publish(conn.NewMessage(topicStatus, types.Status{Message: "rejected"}, false))
	for {
		p, err := out.ReadFrame(ctx, 256)
		if err != nil {
			t.Fatal(err)
		}
		if p[0] == framePing {
			continue
		}
		if p[0] != frameStatus || string(p[1:]) != "rejected" {
			t.Fatalf("unexpected ring frame %q", p)
		}
		break
	}
}

func TestBridge_RateLimitsCommands(t *testing.T) {
	pt := registerPipe(t)
	b := bus.NewBus(16)
	conn, stateSub := startBridge(t, b)
	cmdSub := conn.Subscribe(topicCommand)
	defer conn.Unsubscribe(cmdSub)

	conn.Publish(conn.NewMessage(TopicConfig(), map[string]any{"transport": "pipe", "command_rate": 20.0, "burst": 1}, false))
	assertLevelStatus(t, nextStatePayload(t, stateSub, time.Second), "up", "link_established")
	peer := NewStreamLink(<-pt.remotes)

	start := time.Now()
	go func() {
		for i := 0; i < 3; i++ {
			_ = peer.WriteFrame(context.Background(), Frame{Type: frameCommand, Payload: []byte("{}")})
		}
	}()
	for i := 0; i < 3; i++ {
		select {
		case m := <-cmdSub.Channel():
			conn.Reply(m, types.Status{OK: true}, false)
		case <-time.After(2 * time.Second):
			t.Fatalf("command %d not forwarded", i)
		}
	}
	// burst of one at 20/s: the 2nd and 3rd wait ~50ms each
	if el := time.Since(start); el < 80*time.Millisecond {
		t.Fatalf("commands not rate limited: %v", el)
	}
}

func TestBridge_CommandsWaitForStatus(t *testing.T) {
	pt := registerPipe(t)
	b := bus.NewBus(16)
	conn, stateSub := startBridge(t, b)
	cmdSub := conn.Subscribe(topicCommand)
	defer conn.Unsubscribe(cmdSub)

	conn.Publish(conn.NewMessage(TopicConfig(), `{"transport":"pipe","command_rate":1000,"burst":10,"ack_ms":150}`, false))
	assertLevelStatus(t, nextStatePayload(t, stateSub, time.Second), "up", "link_established")
	peer := NewStreamLink(<-pt.remotes)

	go func() {
		for _, p := range []string{"a", "b", "c"} {
			_ = peer.WriteFrame(context.Background(), Frame{Type: frameCommand, Payload: []byte(p)})
		}
	}()

	next := func() *bus.Message {
		t.Helper()
		select {
		case m := <-cmdSub.Channel():
			return m
		case <-time.After(time.Second):
			t.Fatal("command not forwarded")
			return nil
		}
	}

	first := next()
	if string(first.Payload.([]byte)) != "a" {
		t.Fatalf("first payload %q", first.Payload)
	}
	select {
	case m := <-cmdSub.Channel():
		t.Fatalf("second command %q forwarded before the first was answered", m.Payload)
	case <-time.After(50 * time.Millisecond):
	}
	conn.Reply(first, types.Status{OK: true}, false)

	second := next()
	if string(second.Payload.([]byte)) != "b" {
		t.Fatalf("second payload %q", second.Payload)
	}
	// left unanswered: the ack timeout releases the link
	third := next()
	if string(third.Payload.([]byte)) != "c" {
		t.Fatalf("third payload %q", third.Payload)
	}
	conn.Reply(third, types.Status{OK: true}, false)
}

func TestBridge_UnknownTransportYieldsErrorState(t *testing.T) {
	b := bus.NewBus(8)
	conn, stateSub := startBridge(t, b)

	// Publish a config with an unknown transport type.
	conn.Publish(conn.NewMessage(TopicConfig(), `{"transport":"bogus"}`, false))

	errState := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, errState, "error", "transport_init_failed")
}

func TestBridge_DisabledAndBadConfig(t *testing.T) {
	b := bus.NewBus(8)
	conn, stateSub := startBridge(t, b)

	conn.Publish(conn.NewMessage(TopicConfig(), `{"transport":"none"}`, false))
	assertLevelStatus(t, nextStatePayload(t, stateSub, time.Second), "idle", "disabled")

	conn.Publish(conn.NewMessage(TopicConfig(), 17, false))
	assertLevelStatus(t, nextStatePayload(t, stateSub, time.Second), "error", "config_decode_failed")
}

func TestStreamLink_FrameTooLarge(t *testing.T) {
	a, _ := net.Pipe()
	defer a.Close()
	if err := NewStreamLink(a).WriteFrame(context.Background(), Frame{Type: frameStatus, Payload: make([]byte, 0x10000)}); err == nil {
		t.Fatal("expected frame_too_large")
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func readFrame(t *testing.T, l Link) Frame {
	t.Helper()
	ch := make(chan Frame, 1)
	errCh := make(chan error, 1)
	go func() {
		f, err := l.ReadFrame(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		ch <- f
	}()
	select {
	case f := <-ch:
		return f
	case err := <-errCh:
		t.Fatalf("read frame: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timeout reading frame")
	}
	return Frame{}
}

func readNonPing(t *testing.T, l Link) Frame {
	t.Helper()
	for {
		if f := readFrame(t, l); f.Type != framePing {
			return f
		}
	}
}

func nextStatePayload(t *testing.T, sub *bus.Subscription, d time.Duration) map[string]any {
	t.Helper()
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case m := <-sub.Channel():
		p, ok := m.Payload.(map[string]any)
		if !ok {
			t.Fatalf("state payload type: got %T, want map[string]any", m.Payload)
		}
		return p
	case <-timer.C:
		t.Fatalf("timeout waiting for bridge/state")
		return nil
	}
}

func assertLevelStatus(t *testing.T, payload map[string]any, wantLevel, wantStatus string) {
	t.Helper()
	gotLevel, _ := payload["level"].(string)
	gotStatus, _ := payload["status"].(string)
	if gotLevel != wantLevel || gotStatus != wantStatus {
		t.Fatalf("unexpected state: level=%q status=%q, want level=%q status=%q (payload=%v)",
			gotLevel, gotStatus, wantLevel, wantStatus, payload)
	}
}
