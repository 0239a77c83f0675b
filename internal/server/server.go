// Package server exposes the analysis engine over a WebSocket endpoint.
// Each request is answered with progress messages and then one result or
// error; deterministic results are cached by input fingerprint and, when an
// archive is configured, stored for later sessions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru"

	"github.com/lawnchairsociety/balancelab/internal/archive"
	"github.com/lawnchairsociety/balancelab/internal/config"
	"github.com/lawnchairsociety/balancelab/internal/logger"
	"github.com/lawnchairsociety/balancelab/internal/validation"
)

// Server is the analysis service.
type Server struct {
	cfg     *config.EngineConfig
	archive *archive.Archive // nil when archiving is off
	cache   *lru.Cache       // nil when CacheSize is 0

	connLimiter *ConnLimiter
	rejects     *RejectLimiter
	upgrader    websocket.Upgrader

	mu         sync.Mutex
	clients    map[Client]struct{}
	sessions   sync.WaitGroup
	httpServer *http.Server

	shutdownOnce sync.Once
}

type cachedResult struct {
	result any
	runID  string
}

// New creates a server. arc may be nil.
func New(cfg *config.EngineConfig, arc *archive.Archive) (*Server, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	s := &Server{
		cfg:         cfg,
		archive:     arc,
		connLimiter: NewConnLimiter(cfg.Server.Connections),
		rejects:     NewRejectLimiter(cfg.Server.RateLimit),
		clients:     make(map[Client]struct{}),
	}

	if cfg.Server.CacheSize > 0 {
		cache, err := lru.New(cfg.Server.CacheSize)
		if err != nil {
			s.rejects.Stop()
			return nil, fmt.Errorf("failed to create result cache: %w", err)
		}
		s.cache = cache
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			allowed := s.cfg.Server.WebSocket.IsOriginAllowed(origin, r.Host)
			if !allowed {
				logger.Warning("WebSocket connection rejected - origin not allowed",
					"origin", origin,
					"host", r.Host,
					"remote_addr", r.RemoteAddr)
			}
			return allowed
		},
	}

	return s, nil
}

// Handler returns the HTTP routes: /ws for analysis sessions and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocketUpgrade)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// ListenAndServe serves on the configured address until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	logger.Info("Analysis service listening", "address", srv.Addr, "archive", s.archive != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, closes open sessions and waits for
// running analyses to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		srv := s.httpServer
		clients := make([]Client, 0, len(s.clients))
		for c := range s.clients {
			clients = append(clients, c)
		}
		s.mu.Unlock()

		if srv != nil {
			err = srv.Shutdown(ctx)
		}
		for _, c := range clients {
			c.Close()
		}
		s.rejects.Stop()

		done := make(chan struct{})
		go func() {
			s.sessions.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
		}
		logger.Info("Analysis service stopped")
	})
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sessions, ips := s.connLimiter.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": sessions,
		"ips":      ips,
		"archive":  s.archive != nil,
	})
}

// handleWebSocketUpgrade upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocketUpgrade(w http.ResponseWriter, r *http.Request) {
	clientIP := getRealIP(r)

	if locked, remaining := s.rejects.IsLocked(clientIP); locked {
		logger.Warning("WebSocket connection rejected - client locked out",
			"client_ip", clientIP,
			"remaining", remaining.Round(time.Second))
		http.Error(w, "Too many rejected requests. Please try again later.", http.StatusTooManyRequests)
		return
	}

	release, ok := s.connLimiter.Acquire(clientIP)
	if !ok {
		logger.Warning("WebSocket connection rejected - limit exceeded",
			"remote_addr", r.RemoteAddr,
			"client_ip", clientIP)
		http.Error(w, "Too many connections. Please try again later.", http.StatusTooManyRequests)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied.
		logger.Debug("WebSocket upgrade failed", "error", err)
		release()
		return
	}

	client := NewWebSocketClient(wsConn, s.cfg.Server.WebSocket.MaxMessageSize)
	s.sessions.Add(1)
	go func() {
		defer s.sessions.Done()
		defer release()
		s.serveClient(client, clientIP)
	}()
}

// serveClient reads requests until the client goes away. Requests on one
// session run one at a time, in order.
func (s *Server) serveClient(client Client, clientIP string) {
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, client)
		s.mu.Unlock()
		client.Close()
	}()

	logger.Info("Session started", "client_ip", clientIP, "remote_addr", client.RemoteAddr())
	defer logger.Info("Session ended", "client_ip", clientIP)

	for {
		data, err := client.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warning("Session read failed", "client_ip", clientIP, "error", err)
			}
			return
		}

		msg, rejected := s.process(data, func(m Message) {
			if err := client.Send(m); err != nil {
				logger.Debug("Progress send failed", "client_ip", clientIP, "error", err)
			}
		})
		if err := client.Send(msg); err != nil {
			logger.Debug("Send failed", "client_ip", clientIP, "error", err)
			return
		}

		if !rejected {
			s.rejects.Accept(clientIP)
			continue
		}
		if locked, d := s.rejects.Reject(clientIP); locked {
			logger.Warning("Client locked out", "client_ip", clientIP, "duration", d)
			client.Send(Message{
				Type:  MessageError,
				Error: fmt.Sprintf("too many rejected requests, locked out for %s", d.Round(time.Second)),
			})
			return
		}
	}
}

// process answers one raw request. progress receives the progress messages;
// the final message is returned. rejected is true when the request never
// reached the engine.
func (s *Server) process(data []byte, progress func(Message)) (msg Message, rejected bool) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return errorMessage(req, fmt.Errorf("malformed request: %w", err), true), true
	}

	j, err := decodeJob(req.Kind, req.Payload)
	if err != nil {
		return errorMessage(req, err, true), true
	}
	j.applyDefaults(s.cfg)
	if err := j.checkLimits(s.cfg.Server); err != nil {
		return errorMessage(req, err, true), true
	}

	fp, err := archive.Fingerprint(req.Kind, j)
	if err != nil {
		return errorMessage(req, err, true), true
	}

	if j.deterministic() {
		if hit, ok := s.lookup(req.Kind, fp); ok {
			logger.Debug("Serving cached result", "kind", req.Kind, "fingerprint", fp)
			return Message{
				ID:          req.ID,
				Type:        MessageResult,
				Kind:        req.Kind,
				Result:      hit.result,
				Cached:      true,
				Fingerprint: fp,
				RunID:       hit.runID,
			}, false
		}
	}

	start := time.Now()
	result, err := j.run(s.cfg, func(pct float64) {
		progress(progressMessage(req, pct))
	})
	if err != nil {
		invalid := errors.Is(err, validation.ErrInvalidInput)
		if !invalid {
			logger.Error("Analysis failed", "kind", req.Kind, "id", req.ID, "error", err)
		}
		return errorMessage(req, err, invalid), false
	}
	logger.Info("Analysis complete", "kind", req.Kind, "id", req.ID, "duration", time.Since(start))

	msg = Message{ID: req.ID, Type: MessageResult, Kind: req.Kind, Result: result, Fingerprint: fp}
	if s.archive != nil {
		run, err := s.archive.SaveRun(req.Kind, j, result)
		if err != nil {
			logger.Warning("Failed to archive run", "kind", req.Kind, "error", err)
		} else {
			msg.RunID = run.ID
		}
	}
	if j.deterministic() && s.cache != nil {
		s.cache.Add(fp, cachedResult{result: result, runID: msg.RunID})
	}
	return msg, false
}

// lookup finds an earlier result for fingerprint, first in memory and then
// in the archive.
func (s *Server) lookup(kind, fingerprint string) (cachedResult, bool) {
	if s.cache != nil {
		if v, ok := s.cache.Get(fingerprint); ok {
			return v.(cachedResult), true
		}
	}
	if s.archive == nil {
		return cachedResult{}, false
	}

	run, err := s.archive.FindByFingerprint(kind, fingerprint)
	if err != nil {
		if !errors.Is(err, archive.ErrRunNotFound) {
			logger.Warning("Archive lookup failed", "kind", kind, "error", err)
		}
		return cachedResult{}, false
	}
	hit := cachedResult{result: run.Result, runID: run.ID}
	if s.cache != nil {
		s.cache.Add(fingerprint, hit)
	}
	return hit, true
}
