package host

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"manualpilot/remotepad/internal/protocol"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type testHost struct {
	sim      *recorder
	registry *Registry
	srv      *httptest.Server
}

func newTestHost(t *testing.T, observers ...Observer) *testHost {
	t.Helper()

	promRegistry := prometheus.NewRegistry()
	metrics := NewMetrics(promRegistry)
	registry := NewRegistry(append([]Observer{metrics}, observers...)...)
	sim := &recorder{}

	server := NewServer(discardLogger(), registry, NewDispatcher(sim, metrics), metrics, Options{
		InstanceID: "test",
		ServerIP:   "10.0.0.7",
		Port:       8080,
		Gatherer:   promRegistry,
	})

	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)

	return &testHost{sim: sim, registry: registry, srv: srv}
}

func (h *testHost) dial(t *testing.T, ctx context.Context) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(h.srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestServerWelcomeAndHeartbeat(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWaitTime)
	defer cancel()

	h := newTestHost(t)
	conn := h.dial(t, ctx)

	var welcome protocol.Welcome
	if err := wsjson.Read(ctx, conn, &welcome); err != nil {
		t.Fatal(err)
	}

	if welcome != protocol.NewWelcome("10.0.0.7") {
		t.Fatalf("unexpected welcome %+v", welcome)
	}

	if err := conn.Write(ctx, websocket.MessageText, protocol.PingMessage()); err != nil {
		t.Fatal(err)
	}

	var pong protocol.Control
	if err := wsjson.Read(ctx, conn, &pong); err != nil {
		t.Fatal(err)
	}

	if pong.Type != protocol.TypePong {
		t.Fatalf("expected pong, got %q", pong.Type)
	}

	waitFor(t, "session registered", func() bool { return h.registry.Len() == 1 })
}

func TestServerReplaysInOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWaitTime)
	defer cancel()

	h := newTestHost(t)
	conn := h.dial(t, ctx)

	var welcome protocol.Welcome
	if err := wsjson.Read(ctx, conn, &welcome); err != nil {
		t.Fatal(err)
	}

	messages := []string{
		`not json`,
		`{"type":"keyPress","key":"a","modifier":["control"]}`,
		`[{"type":"mouseMove","deltaX":3,"deltaY":4},{"type":"gesture"},{"type":"mouseClick","button":"middle"},{"type":"mouseClick","button":"left","double":false}]`,
		`{"type":"mouseScroll","x":0,"y":-2}`,
	}

	for _, m := range messages {
		if err := conn.Write(ctx, websocket.MessageText, []byte(m)); err != nil {
			t.Fatal(err)
		}
	}

	want := []string{"key a control", "move 3 4", "click left false", "scroll 0 -2"}
	waitFor(t, "all events replayed", func() bool { return len(h.sim.snapshot()) == len(want) })
	equalCalls(t, h.sim.snapshot(), want)
}

func TestServerForgetsClosedSessions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWaitTime)
	defer cancel()

	h := newTestHost(t)
	conn := h.dial(t, ctx)

	waitFor(t, "session registered", func() bool { return h.registry.Len() == 1 })

	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "session removed", func() bool { return h.registry.Len() == 0 })
}

func TestServerDiscovery(t *testing.T) {
	h := newTestHost(t)

	res, err := http.Get(h.srv.URL + "/ip")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	if res.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}

	var info protocol.HostInfo
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}

	if info.IP != "10.0.0.7" || info.Ports.HTTP != 8080 || info.Ports.WS != 8080 {
		t.Fatalf("unexpected host info %+v", info)
	}
}

func TestServerPlainRequests(t *testing.T) {
	h := newTestHost(t)

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodOptions, "/ip", http.StatusOK},
		{http.MethodGet, "/health", http.StatusNoContent},
		{http.MethodGet, "/", http.StatusUpgradeRequired},
		{http.MethodGet, "/metrics", http.StatusOK},
	}

	for _, tt := range tests {
		req, err := http.NewRequest(tt.method, h.srv.URL+tt.path, nil)
		if err != nil {
			t.Fatal(err)
		}

		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		res.Body.Close()

		if res.StatusCode != tt.status {
			t.Errorf("%v %v: got %v, want %v", tt.method, tt.path, res.StatusCode, tt.status)
		}

		if res.Header.Get("Instance-ID") != "test" {
			t.Errorf("%v %v: missing Instance-ID header", tt.method, tt.path)
		}
	}
}
