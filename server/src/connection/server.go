package connection

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"niketsu-sync/server/src/logger"
	"niketsu-sync/server/src/metadata"
	"niketsu-sync/server/src/room"
)

// Server accepts websocket connections and hands each one to a fresh
// Conn bound to the room named by the request path, mirroring the
// teacher's WebsocketHandler (net/http.Server plus a manual
// listener/TLS choice rather than a framework router).
type Server struct {
	host      string
	port      uint16
	cert      string
	key       string
	engine    Engine
	extractor metadata.Extractor
	opts      room.RoomOptions

	httpServer *http.Server
}

func NewServer(host string, port uint16, cert, key string, engine Engine, extractor metadata.Extractor, opts room.RoomOptions) *Server {
	s := &Server{
		host:      host,
		port:      port,
		cert:      cert,
		key:       key,
		engine:    engine,
		extractor: extractor,
		opts:      opts,
	}
	s.httpServer = &http.Server{
		Handler:      s,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := strings.Trim(r.URL.Path, "/")
	if roomID == "" {
		http.Error(w, "room id required", http.StatusBadRequest)
		return
	}

	wsConn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Warnw("failed to accept websocket", "error", err)
		return
	}

	transport := NewWebsocketTransport(wsConn)
	conn := NewConn(transport, s.engine, s.extractor, s.opts)
	conn.SetRoom(roomID)

	logger.Infow("new connection accepted", "room", roomID)
	conn.Serve(r.Context())
}

// Listen blocks serving connections until the listener errors or the
// server is stopped elsewhere (Shutdown).
func (s *Server) Listen() error {
	listener, err := s.getListener()
	if err != nil {
		return err
	}
	return s.httpServer.Serve(listener)
}

func (s *Server) getListener() (net.Listener, error) {
	hostPort := fmt.Sprintf("%s:%d", s.host, s.port)

	if s.cert == "" || s.key == "" {
		listener, err := net.Listen("tcp", hostPort)
		if err != nil {
			logger.Errorw("failed to create listener", "error", err)
			return nil, err
		}
		logger.Infow("listening", "address", hostPort)
		return listener, nil
	}

	cert, err := tls.LoadX509KeyPair(s.cert, s.key)
	if err != nil {
		logger.Errorw("failed to load certificate", "error", err)
		return nil, err
	}
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}}
	listener, err := tls.Listen("tcp", hostPort, tlsConfig)
	if err != nil {
		logger.Errorw("failed to create tls listener", "error", err)
		return nil, err
	}
	logger.Infow("listening with tls", "address", hostPort)
	return listener, nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
