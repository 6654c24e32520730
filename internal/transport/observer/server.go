package observer

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tectonica.earth/internal/geo/evolve"
	"tectonica.earth/internal/geo/field"
	"tectonica.earth/internal/protocol"
	"tectonica.earth/internal/sim/encoding"
)

// Server streams run progress (and optional elevation frames) to websocket
// observers. It implements evolve.ProgressSink, so it plugs straight into
// the driver; slow clients drop messages rather than stall the run loop.
type Server struct {
	boot protocol.BootstrapResponse
	log  *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.Mutex
	subs map[string]*subscriber
}

type subscriber struct {
	out        chan []byte
	wantFrames bool
}

func NewServer(boot protocol.BootstrapResponse, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		boot: boot,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: make(map[string]*subscriber),
	}
}

// Publish implements evolve.ProgressSink.
func (s *Server) Publish(p evolve.Progress) {
	msg := protocol.ProgressMsg{
		Type:            protocol.TypeProgress,
		ProtocolVersion: protocol.Version,
		Iteration:       p.Iteration,
		TotalChange:     p.TotalChange,
		AvgChange:       p.AvgChange,
		MaxChange:       p.MaxChange,
		ActiveCells:     p.ActiveCells,
		Converged:       p.Converged,
		TotalErosion:    p.TotalErosion,
		TotalDeposition: p.TotalDeposition,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.broadcast(b, false)
}

// PublishFrame sends a quantized elevation frame to frame-subscribed
// observers.
func (s *Server) PublishFrame(iteration int, f *field.Field) {
	lo, hi := f.MinMax()
	msg := protocol.FieldFrameMsg{
		Type:            protocol.TypeFieldFrame,
		ProtocolVersion: protocol.Version,
		Iteration:       iteration,
		Width:           f.Width(),
		Height:          f.Height(),
		Lo:              lo,
		Hi:              hi,
		Cells:           encoding.EncodeField(f.Values(), lo, hi),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.broadcast(b, true)
}

// PublishComplete sends the final accounting and is the last message of a
// run.
func (s *Server) PublishComplete(res *evolve.Result) {
	msg := protocol.RunCompleteMsg{
		Type:               protocol.TypeRunComplete,
		ProtocolVersion:    protocol.Version,
		Iterations:         res.Stats.Iterations,
		Converged:          res.Convergence.Converged,
		ConvergedAt:        res.Convergence.ConvergedAt,
		ConvergenceRatio:   res.Convergence.Ratio,
		TotalErosion:       res.Stats.TotalErosion,
		TotalDeposition:    res.Stats.TotalDeposition,
		TotalTransportLoss: res.Stats.TotalTransportLoss,
		MassErrorPct:       res.Conservation.MassErrorPct,
		EnergyBalanceOK:    res.Conservation.EnergyBalanceOK,
		RiverNetworkLength: res.Stats.RiverNetworkLength,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.broadcast(b, false)
}

func (s *Server) broadcast(b []byte, frame bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if frame && !sub.wantFrames {
			continue
		}
		select {
		case sub.out <- b:
		default:
			// Slow observer: drop rather than block the run.
		}
	}
}

func (s *Server) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.boot)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub protocol.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != protocol.TypeSubscribe || sub.ProtocolVersion != protocol.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := s.register(sub.FieldEvery > 0)
		defer s.unregister(sid)

		out := s.channelFor(sid)
		if out == nil {
			return
		}

		// Writer goroutine.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for b := range out {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates, detect close.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, m, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var upd protocol.SubscribeMsg
			if err := json.Unmarshal(m, &upd); err != nil {
				continue
			}
			if upd.Type != protocol.TypeSubscribe || upd.ProtocolVersion != protocol.Version {
				continue
			}
			s.setWantFrames(sid, upd.FieldEvery > 0)
		}

		s.unregister(sid)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-done:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) register(wantFrames bool) string {
	sid := "O" + strconv.FormatUint(s.nextID.Add(1), 10)
	s.mu.Lock()
	s.subs[sid] = &subscriber{
		out:        make(chan []byte, 64),
		wantFrames: wantFrames,
	}
	s.mu.Unlock()
	return sid
}

func (s *Server) channelFor(sid string) chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[sid]; ok {
		return sub.out
	}
	return nil
}

func (s *Server) setWantFrames(sid string, want bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[sid]; ok {
		sub.wantFrames = want
	}
}

func (s *Server) unregister(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[sid]; ok {
		delete(s.subs, sid)
		close(sub.out)
	}
}

func isLoopbackRemote(remote string) bool {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	host = strings.Trim(host, "[]")
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

