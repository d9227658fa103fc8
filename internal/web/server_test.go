package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/guidoenr/glyphcast/internal/config"
	"github.com/guidoenr/glyphcast/internal/engine"
)

type fakeEngine struct {
	status engine.Status
	img    image.Image
}

func (f *fakeEngine) Status() engine.Status { return f.status }

func (f *fakeEngine) Snapshot(ctx context.Context) (image.Image, error) {
	if f.img == nil {
		return nil, engine.ErrNoFrame
	}
	return f.img, nil
}

func newTestServer(t *testing.T, eng *fakeEngine) (*Server, *config.Store, *httptest.Server) {
	t.Helper()
	store, err := config.NewStore(config.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(Options{
		Store:    store,
		Engine:   eng,
		SavePath: filepath.Join(t.TempDir(), "saved.json"),
		Log:      log.New(io.Discard, "", 0),
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, store, ts
}

func TestStatusEndpoint(t *testing.T) {
	eng := &fakeEngine{status: engine.Status{State: "active", Frames: 42, Cols: 120, Rows: 90}}
	_, _, ts := newTestServer(t, eng)

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status.Frames != 42 || body.Status.State != "active" {
		t.Fatalf("status=%+v", body.Status)
	}
	if body.Config.ResolutionWidth != 120 || body.Config.ColorMode != config.ColorGreen {
		t.Fatalf("config=%+v", body.Config)
	}
}

func TestConfigPatch(t *testing.T) {
	_, store, ts := newTestServer(t, &fakeEngine{})

	resp, err := http.Post(ts.URL+"/api/config", "application/json",
		strings.NewReader(`{"glyphSet":"binary","colorMode":"amber","invert":true}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("code=%d", resp.StatusCode)
	}
	cfg := store.Load()
	if cfg.GlyphSet != config.GlyphSetBinary || cfg.ColorMode != config.ColorAmber || !cfg.Invert {
		t.Fatalf("patch not applied: %+v", cfg)
	}
	if cfg.Contrast != 1.1 {
		t.Fatalf("unpatched field changed: %v", cfg.Contrast)
	}

	before := store.Version()
	resp, err = http.Post(ts.URL+"/api/config", "application/json", strings.NewReader(`{"resolutionWidth":0}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("invalid patch code=%d", resp.StatusCode)
	}
	if store.Version() != before || store.Load().ResolutionWidth != 120 {
		t.Fatalf("rejected patch must leave the config alone")
	}

	resp, err = http.Post(ts.URL+"/api/config", "application/json", strings.NewReader(`{nope`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad json code=%d", resp.StatusCode)
	}
}

func TestSave(t *testing.T) {
	s, store, ts := newTestServer(t, &fakeEngine{})
	if _, err := store.ApplyPatch(config.Patch{GlyphSet: ptr("matrix")}); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(ts.URL+"/api/save", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("code=%d", resp.StatusCode)
	}
	saved, err := config.LoadFile(s.savePath)
	if err != nil {
		t.Fatal(err)
	}
	if saved.GlyphSet != config.GlyphSetMatrix {
		t.Fatalf("saved glyph set=%q", saved.GlyphSet)
	}

	resp, err = http.Get(ts.URL + "/api/save")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET save code=%d", resp.StatusCode)
	}
}

func TestListings(t *testing.T) {
	_, _, ts := newTestServer(t, &fakeEngine{})

	var sets map[string]string
	getJSON(t, ts.URL+"/api/glyphsets", &sets)
	if sets["simple"] != config.GlyphSetSimple {
		t.Fatalf("glyphsets=%v", sets)
	}
	var modes []string
	getJSON(t, ts.URL+"/api/colormodes", &modes)
	if strings.Join(modes, ",") != strings.Join(config.ColorModeNames(), ",") {
		t.Fatalf("colormodes=%v", modes)
	}
}

func TestSnapshot(t *testing.T) {
	eng := &fakeEngine{}
	_, _, ts := newTestServer(t, eng)

	resp, err := http.Get(ts.URL + "/api/snapshot")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("no frame code=%d", resp.StatusCode)
	}

	eng.img = image.NewRGBA(image.Rect(0, 0, 6, 4))
	resp, err = http.Get(ts.URL + "/api/snapshot")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type %q", ct)
	}
	data, _ := io.ReadAll(resp.Body)
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 6 || img.Bounds().Dy() != 4 {
		t.Fatalf("bounds=%v", img.Bounds())
	}
}

func TestWebSocketConfigPush(t *testing.T) {
	s, store, ts := newTestServer(t, &fakeEngine{status: engine.Status{State: "idle"}})
	s.interval = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.broadcastLoop(ctx)
	go s.statusUpdateLoop(ctx)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello Message
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatal(err)
	}
	if hello.Type != "config" || hello.Client == "" || hello.Config == nil {
		t.Fatalf("hello=%+v", hello)
	}

	scan := false
	if err := conn.WriteJSON(Message{Type: "config", Patch: &config.Patch{Scanlines: &scan}}); err != nil {
		t.Fatal(err)
	}

	sawStatus, sawConfig := false, false
	for !sawStatus || !sawConfig {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatal(err)
		}
		switch msg.Type {
		case "status":
			sawStatus = msg.Status != nil && msg.Status.State == "idle"
		case "config":
			sawConfig = msg.Config != nil && !msg.Config.Scanlines
		case "error":
			t.Fatalf("server error: %s", msg.Error)
		}
	}
	if store.Load().Scanlines {
		t.Fatalf("websocket patch not applied")
	}
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func ptr[T any](v T) *T { return &v }
