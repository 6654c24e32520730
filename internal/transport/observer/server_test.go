package observer

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tectonica.earth/internal/geo/evolve"
	"tectonica.earth/internal/geo/field"
	"tectonica.earth/internal/protocol"
	"tectonica.earth/internal/sim/encoding"
)

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(protocol.BootstrapResponse{
		ProtocolVersion: protocol.Version,
		RunID:           "run-ws",
		Width:           16,
		Height:          16,
		PlateCount:      4,
		Seed:            1,
		Iterations:      100,
	}, log.New(io.Discard, "", 0))

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/observer/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/observer/ws", s.WSHandler())
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return s, ts
}

func dialWS(t *testing.T, ts *httptest.Server, fieldEvery int) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	err = conn.WriteJSON(protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		FieldEvery:      fieldEvery,
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return conn
}

func waitSubscribers(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.SubscriberCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber count stuck at %d, want %d", s.SubscriberCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBootstrap(t *testing.T) {
	_, ts := testServer(t)
	resp, err := http.Get(ts.URL + "/v1/observer/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var boot protocol.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&boot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if boot.RunID != "run-ws" || boot.ProtocolVersion != protocol.Version {
		t.Fatalf("bootstrap: %+v", boot)
	}
}

func TestProgressDelivery(t *testing.T) {
	s, ts := testServer(t)
	conn := dialWS(t, ts, 0)
	waitSubscribers(t, s, 1)

	s.Publish(evolve.Progress{Iteration: 250, TotalChange: 0.75, ActiveCells: 99})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg protocol.ProgressMsg
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != protocol.TypeProgress || msg.Iteration != 250 {
		t.Fatalf("message: %+v", msg)
	}
	if msg.TotalChange != 0.75 || msg.ActiveCells != 99 {
		t.Fatalf("payload: %+v", msg)
	}
}

func TestFrameFiltering(t *testing.T) {
	s, ts := testServer(t)
	conn := dialWS(t, ts, 1) // frames requested
	waitSubscribers(t, s, 1)

	f := field.New(4, 4)
	f.Set(2, 2, 1.0)
	s.PublishFrame(7, f)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg protocol.FieldFrameMsg
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != protocol.TypeFieldFrame || msg.Iteration != 7 {
		t.Fatalf("frame: %+v", msg)
	}
	vals, err := encoding.DecodeField(msg.Cells, msg.Width*msg.Height, msg.Lo, msg.Hi)
	if err != nil {
		t.Fatalf("decode cells: %v", err)
	}
	if len(vals) != 16 {
		t.Fatalf("cell count %d", len(vals))
	}
	if peak := vals[2*4+2]; peak < 0.99 || peak > 1.01 {
		t.Fatalf("peak cell decoded to %v", peak)
	}
}

func TestProgressOnlySubscriberSkipsFrames(t *testing.T) {
	s, ts := testServer(t)
	conn := dialWS(t, ts, 0)
	waitSubscribers(t, s, 1)

	s.PublishFrame(1, field.New(2, 2))
	s.Publish(evolve.Progress{Iteration: 5})

	// The first delivered message must be the progress, not the frame.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var base protocol.BaseMessage
	if err := conn.ReadJSON(&base); err != nil {
		t.Fatalf("read: %v", err)
	}
	if base.Type != protocol.TypeProgress {
		t.Fatalf("got %q, want progress", base.Type)
	}
}

func TestRunComplete(t *testing.T) {
	s, ts := testServer(t)
	conn := dialWS(t, ts, 0)
	waitSubscribers(t, s, 1)

	res := &evolve.Result{}
	res.Stats.Iterations = 480
	res.Stats.TotalErosion = 3.5
	res.Convergence.Converged = true
	res.Convergence.ConvergedAt = 480
	res.Conservation.MassOK = true
	res.Conservation.EnergyBalanceOK = true
	s.PublishComplete(res)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg protocol.RunCompleteMsg
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != protocol.TypeRunComplete || !msg.Converged || msg.ConvergedAt != 480 {
		t.Fatalf("complete: %+v", msg)
	}
	if !msg.EnergyBalanceOK || msg.TotalErosion != 3.5 {
		t.Fatalf("accounting: %+v", msg)
	}
}

func TestHandshakeRequired(t *testing.T) {
	s, ts := testServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wrong first message: server must close without registering.
	if err := conn.WriteJSON(map[string]string{"type": "NOPE"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("server kept the socket open after a bad handshake")
	}
	if n := s.SubscriberCount(); n != 0 {
		t.Fatalf("bad handshake registered a subscriber: %d", n)
	}
}

func TestLoopbackGuard(t *testing.T) {
	cases := []struct {
		remote string
		ok     bool
	}{
		{"127.0.0.1:52100", true},
		{"[::1]:52100", true},
		{"192.168.1.20:52100", false},
		{"10.0.0.5:80", false},
		{"not-an-ip", false},
	}
	for _, c := range cases {
		if got := isLoopbackRemote(c.remote); got != c.ok {
			t.Fatalf("isLoopbackRemote(%q) = %v, want %v", c.remote, got, c.ok)
		}
	}
}
