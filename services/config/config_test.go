// config/config_test.go
package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vslib-go/bus"
	"vslib-go/errcode"
	"vslib-go/types"
)

// responder answers every command with OK unless the name contains "bad".
func responder(t *testing.T, b *bus.Bus) (seen func() []types.Command) {
	t.Helper()
	conn := b.NewConnection("fake-paramsetting")
	sub := conn.Subscribe(topicCommand)
	got := make(chan types.Command, 256)
	go func() {
		for m := range sub.Channel() {
			cmd := m.Payload.(types.Command)
			got <- cmd
			st := types.Status{OK: true, Code: string(errcode.OK), Parameter: cmd.Name}
			if strings.Contains(cmd.Name, "bad") {
				st = types.Status{Code: string(errcode.UnknownParameter), Parameter: cmd.Name}
			}
			conn.Reply(m, st, false)
		}
	}()
	t.Cleanup(conn.Disconnect)
	return func() []types.Command {
		var out []types.Command
		for {
			select {
			case c := <-got:
				out = append(out, c)
			default:
				return out
			}
		}
	}
}

func nextReport(t *testing.T, sub *bus.Subscription, d time.Duration) Report {
	t.Helper()
	select {
	case m := <-sub.Channel():
		rep, ok := m.Payload.(Report)
		if !ok {
			t.Fatalf("report payload type: got %T", m.Payload)
		}
		return rep
	case <-time.After(d):
		t.Fatal("timeout waiting for config/presets")
		return Report{}
	}
}

func TestParsePresets_OrderAndValues(t *testing.T) {
	entries, err := ParsePresets([]byte(`
b.x: 1
a.y: [1.5, -2]
c.z: ready
b.x: 3
d.w: true
`))
	if err != nil {
		t.Fatal(err)
	}
	want := []Entry{
		{"b.x", json.RawMessage(`3`)},
		{"a.y", json.RawMessage(`[1.5,-2]`)},
		{"c.z", json.RawMessage(`"ready"`)},
		{"d.w", json.RawMessage(`true`)},
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d (%v)", len(entries), len(want), entries)
	}
	for i := range want {
		if entries[i].Name != want[i].Name || string(entries[i].Value) != string(want[i].Value) {
			t.Fatalf("entry %d = %s:%s, want %s:%s", i, entries[i].Name, entries[i].Value, want[i].Name, want[i].Value)
		}
	}

	cmds := Commands(entries)
	if cmds[0].Name != "b.x" || len(cmds[0].Version) != 3 || cmds[0].Version[0] != types.InterfaceVersion.Major {
		t.Fatalf("command not stamped: %+v", cmds[0])
	}
}

func TestParsePresets_KeepsNumberLiteralClass(t *testing.T) {
	entries, err := ParsePresets([]byte(`
a: 5.0
b: 5
c: [1.0, 2, -0.5]
d: 1e3
e: 0x10
f: ~
`))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"a": `5.0`,
		"b": `5`,
		"c": `[1.0,2,-0.5]`,
		"d": `1000.0`,
		"e": `16`,
		"f": `null`,
	}
	for _, e := range entries {
		if string(e.Value) != want[e.Name] {
			t.Fatalf("%s: got %s, want %s", e.Name, e.Value, want[e.Name])
		}
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries", len(entries))
	}

	if _, err := ParsePresets([]byte("a: .inf\n")); err == nil {
		t.Fatal("expected error for infinite value")
	}
}

func TestParsePresets_JSONAndErrors(t *testing.T) {
	if e, err := ParsePresets([]byte(`{"a.b": 1, "a.c": "x"}`)); err != nil || len(e) != 2 {
		t.Fatalf("json preset: %v %v", e, err)
	}
	if e, err := ParsePresets(nil); err != nil || len(e) != 0 {
		t.Fatalf("empty preset: %v %v", e, err)
	}
	for _, bad := range []string{"- 1\n- 2\n", "a: [\n", "just a string\n"} {
		if _, err := ParsePresets([]byte(bad)); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestEmbeddedDemoPresetParses(t *testing.T) {
	raw, ok := EmbeddedPresetLookup("demo")
	if !ok {
		t.Fatal("demo preset missing")
	}
	entries, err := ParsePresets(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 || entries[len(entries)-1].Name != "vs.converter.status.mode" {
		t.Fatalf("unexpected demo preset: %v", entries)
	}
}

func TestPresets_PublishEmbedded(t *testing.T) {
	oldLookup := EmbeddedPresetLookup
	EmbeddedPresetLookup = func(device string) ([]byte, bool) {
		if device != "bench" {
			return nil, false
		}
		return []byte("vs.a.kp: 1\nvs.a.bad: 2\nvs.a.ki: 3\n"), true
	}
	t.Cleanup(func() { EmbeddedPresetLookup = oldLookup })

	b := bus.NewBus(16)
	seen := responder(t, b)
	conn := b.NewConnection("test-presets")
	svc := NewPresetService(Options{Device: "bench"})

	if err := svc.Run(context.Background(), conn); err != nil {
		t.Fatal(err)
	}

	sub := conn.Subscribe(TopicPresets)
	rep := nextReport(t, sub, 500*time.Millisecond)
	if rep.Source != "embedded:bench" || rep.Applied != 2 || rep.Rejected != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if len(rep.Statuses) != 1 || rep.Statuses[0].Parameter != "vs.a.bad" {
		t.Fatalf("rejected statuses: %+v", rep.Statuses)
	}

	cmds := seen()
	if len(cmds) != 3 || cmds[0].Name != "vs.a.kp" || cmds[2].Name != "vs.a.ki" {
		t.Fatalf("commands out of order: %+v", cmds)
	}
}

func TestPresets_MissingDevice(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test-missing-device")
	svc := NewPresetService(Options{})

	if err := svc.applyEmbedded(context.Background(), conn); err == nil {
		t.Fatal("expected error for missing device ID, got nil")
	}
}

func TestPresets_NoPresetFound(t *testing.T) {
	oldLookup := EmbeddedPresetLookup
	EmbeddedPresetLookup = func(device string) ([]byte, bool) { return nil, false }
	t.Cleanup(func() { EmbeddedPresetLookup = oldLookup })

	b := bus.NewBus(4)
	conn := b.NewConnection("test-no-preset")
	svc := NewPresetService(Options{Device: "unknown-device"})
	if err := svc.applyEmbedded(context.Background(), conn); err == nil {
		t.Fatal("expected error when no embedded preset exists, got nil")
	}
}

func TestPresets_NoResponderTimesOut(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test-timeout")
	svc := NewPresetService(Options{Timeout: 20 * time.Millisecond})

	_, err := svc.publish(context.Background(), conn, "test", []Entry{{"a.b", json.RawMessage(`1`)}})
	if err == nil || !strings.Contains(err.Error(), "a.b") {
		t.Fatalf("expected timeout naming the parameter, got %v", err)
	}
}

func TestPresets_FileWatchReapplies(t *testing.T) {
	oldLookup := EmbeddedPresetLookup
	EmbeddedPresetLookup = func(string) ([]byte, bool) { return nil, false }
	t.Cleanup(func() { EmbeddedPresetLookup = oldLookup })

	dir := t.TempDir()
	path := filepath.Join(dir, "presets.yaml")
	if err := os.WriteFile(path, []byte("vs.a.kp: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	b := bus.NewBus(16)
	responder(t, b)
	conn := b.NewConnection("test-watch")
	sub := conn.Subscribe(TopicPresets)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := NewPresetService(Options{Device: "x", File: path, Watch: true, Debounce: 20 * time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, conn) }()

	first := nextReport(t, sub, time.Second)
	if first.Applied != 1 || first.Source != "file:"+path {
		t.Fatalf("unexpected first report: %+v", first)
	}

	// let the watcher register before writing
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("vs.a.kp: 2\nvs.a.ki: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	second := nextReport(t, sub, 2*time.Second)
	if second.Applied != 2 {
		t.Fatalf("unexpected reload report: %+v", second)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
