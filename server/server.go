package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	shutdownTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// MCP clients are not browsers; accept any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves a Handler over stdio or HTTP.
type Server struct {
	handler *Handler
	router  *chi.Mux
	log     *log.Entry
}

// New creates a server for handler and sets up its HTTP routes.
func New(handler *Handler) *Server {
	s := &Server{
		handler: handler,
		router:  chi.NewRouter(),
		log:     log.WithField("component", "server"),
	}
	s.setupRoutes()
	return s
}

// Router returns the HTTP handler, for embedding or tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(s.loggingMiddleware)
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
}

// Run serves HTTP on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.WithField("addr", addr).Info("serving on http")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade error: %v", err)
		return
	}
	c := &wsConn{
		server: s,
		conn:   conn,
		send:   make(chan []byte, 256),
		log:    s.log.WithField("remote", r.RemoteAddr),
	}
	c.log.Debug("websocket connected")
	go c.writePump()
	c.readPump(r.Context())
}

// wsConn is one WebSocket client. Each text message is one JSON-RPC
// message; responses go out in completion order.
type wsConn struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	log    *log.Entry
}

func (c *wsConn) readPump(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		close(c.send)
		c.log.Debug("websocket disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	sem := make(chan struct{}, maxInFlight)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warnf("websocket read error: %v", err)
			}
			return
		}

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			if resp := c.server.handler.Handle(ctx, msg); resp != nil {
				c.send <- resp
			}
		}()
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debugf("websocket write error: %v", err)
				c.abort()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debugf("websocket ping error: %v", err)
				c.abort()
				return
			}
		}
	}
}

// abort closes the connection so readPump stops at once, then drains send
// until readPump closes it so handlers never block.
func (c *wsConn) abort() {
	c.conn.Close()
	for range c.send {
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("http request")
	})
}
