package control

import (
	"encoding/json"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/guidoenr/glyphcast/internal/config"
	"github.com/guidoenr/glyphcast/internal/engine"
)

func newTestMQTT(t *testing.T) (*MQTT, *config.Store) {
	t.Helper()
	store, err := config.NewStore(config.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	m := NewMQTT(Options{
		Prefix: "studio/wall/",
		Store:  store,
		Status: func() engine.Status { return engine.Status{State: "active", Frames: 7} },
		Log:    log.New(io.Discard, "", 0),
	})
	m.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return m, store
}

func TestTopics(t *testing.T) {
	m, _ := newTestMQTT(t)
	if got := m.Topic(TopicConfigSet); got != "studio/wall/config/set" {
		t.Fatalf("topic=%q", got)
	}
	if !strings.HasPrefix(m.opts.ClientID, "glyphcast-") {
		t.Fatalf("client id=%q", m.opts.ClientID)
	}
	cases := map[string]string{
		"localhost:1883":        "tcp://localhost:1883",
		"ssl://broker:8883":     "ssl://broker:8883",
		"ws://broker:9001/mqtt": "ws://broker:9001/mqtt",
	}
	for in, want := range cases {
		if got := brokerURL(in); got != want {
			t.Fatalf("%s: got %q want %q", in, got, want)
		}
	}
}

func TestHandlePatch(t *testing.T) {
	m, store := newTestMQTT(t)

	resp := m.HandlePatch([]byte(`{"glyphSet":"block","smoothing":0.5}`))
	if resp.Status != "ok" || resp.Config == nil {
		t.Fatalf("resp=%+v", resp)
	}
	if got := store.Load(); got.GlyphSet != config.GlyphSetBlock || got.Smoothing != 0.5 {
		t.Fatalf("store=%+v", got)
	}
	if resp.Timestamp != "2024-01-02T03:04:05Z" {
		t.Fatalf("timestamp=%q", resp.Timestamp)
	}

	resp = m.HandlePatch([]byte(`{"smoothing":1}`))
	if resp.Status != "error" || !strings.Contains(resp.Error, "smoothing") {
		t.Fatalf("invalid smoothing accepted: %+v", resp)
	}
	if store.Load().Smoothing != 0.5 {
		t.Fatalf("rejected patch leaked into the store")
	}

	resp = m.HandlePatch([]byte(`not json`))
	if resp.Status != "error" || !strings.HasPrefix(resp.Error, "invalid patch") {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestTelemetry(t *testing.T) {
	m, _ := newTestMQTT(t)
	data, err := json.Marshal(m.Telemetry())
	if err != nil {
		t.Fatal(err)
	}
	var back map[string]any
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	status := back["status"].(map[string]any)
	if status["state"] != "active" || status["frames"].(float64) != 7 {
		t.Fatalf("status=%v", status)
	}
	cfg := back["config"].(map[string]any)
	if cfg["colorMode"] != "green" {
		t.Fatalf("config=%v", cfg)
	}
}

func TestPublishWithoutConnection(t *testing.T) {
	m, _ := newTestMQTT(t)
	if err := m.PublishStatus(); err == nil {
		t.Fatalf("expected not connected error")
	}
	if _, errs, connected := m.Stats(); errs != 1 || connected {
		t.Fatalf("errors=%d connected=%v", errs, connected)
	}
}
