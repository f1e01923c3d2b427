// Package host accepts pad connections and replays their input events.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/slog"
	"manualpilot/remotepad/internal/protocol"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	keepAliveInterval = 45 * time.Second
	keepAliveTimeout  = 10 * time.Second
)

type Options struct {
	InstanceID string
	ServerIP   string
	Port       int

	// OriginPatterns restricts browser origins allowed to connect; empty allows all.
	OriginPatterns []string

	// Gatherer backs /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
}

type Server struct {
	logger     *slog.Logger
	registry   *Registry
	dispatcher *Dispatcher
	metrics    *Metrics
	opts       Options
}

func NewServer(logger *slog.Logger, registry *Registry, dispatcher *Dispatcher, metrics *Metrics, opts Options) *Server {
	if len(opts.OriginPatterns) == 0 {
		opts.OriginPatterns = []string{"*"}
	}

	return &Server{
		logger:     logger,
		registry:   registry,
		dispatcher: dispatcher,
		metrics:    metrics,
		opts:       opts,
	}
}

func (s *Server) Router() chi.Router {
	router := chi.NewRouter()
	router.Use(mid(s.opts.InstanceID))

	router.Get("/health", health())
	router.Get("/ip", s.discoveryRoute())
	if s.opts.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	router.Get("/", s.JoinRoute())
	return router
}

// JoinRoute upgrades the request and runs the dispatch loop for that connection
// until the socket closes.
func (s *Server) JoinRoute() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := &websocket.AcceptOptions{
			OriginPatterns:  s.opts.OriginPatterns,
			CompressionMode: websocket.CompressionDisabled,
		}

		conn, err := websocket.Accept(w, r, opts)
		if err != nil {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		sess := s.registry.Open(ctx, r.RemoteAddr)
		log := s.logger.With(slog.Uint64("session", sess.ID), slog.String("remote", r.RemoteAddr))
		log.Info("joined")

		defer func() {
			s.registry.Close(ctx, sess.ID)
			_ = conn.Close(websocket.StatusNormalClosure, "")
		}()

		conn.SetReadLimit(protocol.MaxMessageSize)

		if err := wsjson.Write(ctx, conn, protocol.NewWelcome(s.opts.ServerIP)); err != nil {
			log.Error("failed to send welcome", err)
			return
		}

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(keepAliveInterval):
					pctx, pcancel := context.WithTimeout(ctx, keepAliveTimeout)
					err := conn.Ping(pctx)
					pcancel()

					if err != nil {
						if ctx.Err() == nil {
							log.Error("failed to ping", err)
						}
						_ = conn.Close(websocket.StatusAbnormalClosure, "hello?")
						cancel()
						return
					}
				}
			}
		}()

		for {
			_, b, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					log.Info("left")
				default:
					if ctx.Err() == nil {
						log.Warn("connection lost", slog.String("error", err.Error()))
					} else {
						log.Info("left")
					}
				}
				return
			}

			s.registry.Touch(ctx, sess)
			s.handleMessage(ctx, log, conn, b)
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, log *slog.Logger, conn *websocket.Conn, b []byte) {
	in, err := protocol.DecodeClient(b)
	if err != nil {
		s.metrics.message("invalid")
		log.Warn("dropped malformed message", slog.String("error", err.Error()), slog.Int("size", len(b)))
		return
	}

	if in.Control == protocol.TypePing {
		s.metrics.message("ping")
		if err := conn.Write(ctx, websocket.MessageText, protocol.PongMessage()); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("failed to send pong", err)
		}
		return
	}

	s.metrics.message("events")
	for _, derr := range in.Errors {
		s.metrics.event("invalid", "invalid")
		log.Warn("dropped malformed event", slog.String("error", derr.Error()))
	}

	if len(in.Events) > 0 {
		s.dispatcher.Replay(log, in.Events)
	}
}

func (s *Server) discoveryRoute() http.HandlerFunc {
	info := protocol.HostInfo{
		IP:    s.opts.ServerIP,
		Ports: protocol.Ports{HTTP: s.opts.Port, WS: s.opts.Port},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(info)
	}
}

func health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func mid(instanceID string) func(http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", "remotepad")
			w.Header().Set("Instance-ID", instanceID)
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			handler.ServeHTTP(w, r)
		})
	}
}

// LocalIP returns the first non-loopback IPv4 address of this machine, or
// "localhost" when there is none.
func LocalIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "localhost"
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}

			if ip == nil || ip.IsLoopback() {
				continue
			}

			if ip4 := ip.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}

	return "localhost"
}
