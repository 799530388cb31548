package devserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/ahmad-cheema/file-verse/internal/logging"
	"github.com/ahmad-cheema/file-verse/internal/metrics"
)

const maxEnvelopeSize = 64 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Handler returns the HTTP routes: POST /api, GET /ws, GET /health and
// GET /metrics.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.POST("/api", s.handleAPI)
	router.GET("/ws", s.handleWS)
	router.GET("/health", s.handleHealth)
	router.Handler(http.MethodGet, "/metrics", metrics.Handler())
	return logging.Middleware(router)
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEnvelopeSize))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(s.Handle(r.Context(), body))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"nodes":    s.store.Count(),
		"sessions": s.sessions.Count(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", logging.Err(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxEnvelopeSize)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug("websocket closed", logging.Err(err))
			}
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, s.Handle(r.Context(), msg)); err != nil {
			return
		}
	}
}

// lineConns tracks open line connections so Close can drop them.
type lineConns struct {
	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func (l *lineConns) add(c net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conns == nil {
		l.conns = make(map[net.Conn]struct{})
	}
	l.conns[c] = struct{}{}
}

func (l *lineConns) remove(c net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conns, c)
}

func (l *lineConns) closeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for c := range l.conns {
		c.Close()
	}
	l.conns = nil
}

// ServeLines accepts connections speaking newline-delimited JSON envelopes
// until ln is closed.
func (s *Server) ServeLines(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.lines.add(conn)
		go s.serveLineConn(conn)
	}
}

func (s *Server) serveLineConn(conn net.Conn) {
	defer func() {
		s.lines.remove(conn)
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEnvelopeSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		reply := append(s.Handle(context.Background(), line), '\n')
		if _, err := conn.Write(reply); err != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		logging.Debug("line connection closed", logging.Err(err))
	}
}

// Run serves HTTP on httpAddr and, if tcpAddr is set, line envelopes on
// tcpAddr until ctx is done.
func (s *Server) Run(ctx context.Context, httpAddr, tcpAddr string) error {
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)

	var ln net.Listener
	if tcpAddr != "" {
		var err error
		if ln, err = net.Listen("tcp", tcpAddr); err != nil {
			return err
		}
		go func() {
			logging.Info("devserver listening (TCP lines)", logging.String("addr", ln.Addr().String()))
			if err := s.ServeLines(ln); err != nil {
				errCh <- err
			}
		}()
	}

	go func() {
		logging.Info("devserver listening (HTTP)", logging.String("addr", httpAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logging.Info("shutting down...")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
	if ln != nil {
		ln.Close()
	}
	s.lines.closeAll()
	return runErr
}
