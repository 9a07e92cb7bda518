package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kubilitics/sensordx/internal/analytics"
	"github.com/kubilitics/sensordx/internal/metrics"
	"github.com/kubilitics/sensordx/pkg/types"
)

// WebSocket message types
const (
	MessageTypeDiagnosis = "diagnosis"
	MessageTypeError     = "error"
	MessageTypeHeartbeat = "heartbeat"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsPongTimeout    = 60 * time.Second
	wsHeartbeat      = 30 * time.Second
	wsMaxInboundSize = 4096
)

// defaultOrigins are the development front-ends allowed when no origins
// are configured.
var defaultOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type      string           `json:"type"`
	Diagnosis *types.Diagnosis `json:"diagnosis,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// newUpgrader returns an upgrader accepting the given origins. "*" allows
// any origin; requests without an Origin header are always accepted.
func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	if len(allowedOrigins) == 0 {
		allowedOrigins = defaultOrigins
	}
	allowAll := false
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}

	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowAll {
				return true
			}
			return allowed[strings.ToLower(origin)]
		},
	}
}

// wsConnection is one diagnosis stream subscriber.
type wsConnection struct {
	id       string
	conn     *websocket.Conn
	sensorID string
	logger   *zap.Logger
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
}

// handleDiagnosisStream streams completed diagnoses. ?sensor_id= narrows the
// stream to one sensor.
func (s *Server) handleDiagnosisStream(w http.ResponseWriter, r *http.Request) {
	sensorID := r.URL.Query().Get("sensor_id")
	if sensorID != "" {
		if err := analytics.ValidateSensorID(sensorID); err != nil {
			s.writeError(w, err)
			return
		}
	}

	conn, err := newUpgrader(s.config.Server.AllowedOrigins).Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	wsc := &wsConnection{
		id:       uuid.NewString(),
		conn:     conn,
		sensorID: sensorID,
		logger:   s.logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	events, unsubscribe := s.pipeline.Subscribe()

	metrics.WebSocketConnections.Inc()
	s.logger.Debug("WebSocket connection established",
		zap.String("connection_id", wsc.id),
		zap.String("sensor_id", sensorID))
	defer func() {
		unsubscribe()
		cancel()
		_ = conn.Close()
		metrics.WebSocketConnections.Dec()
		s.logger.Debug("WebSocket connection closed", zap.String("connection_id", wsc.id))
	}()

	go wsc.readLoop()
	wsc.writeLoop(events)
}

// readLoop drains client frames so control messages are processed, and
// cancels the connection when the client goes away.
func (wsc *wsConnection) readLoop() {
	defer wsc.cancel()
	wsc.conn.SetReadLimit(wsMaxInboundSize)
	_ = wsc.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	wsc.conn.SetPongHandler(func(string) error {
		return wsc.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	for {
		if _, _, err := wsc.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsc.logger.Debug("WebSocket read error", zap.String("connection_id", wsc.id), zap.Error(err))
			}
			return
		}
		metrics.WebSocketMessagesTotal.WithLabelValues("inbound").Inc()
		_ = wsc.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	}
}

func (wsc *wsConnection) writeLoop(events <-chan analytics.DiagnosisEvent) {
	ticker := time.NewTicker(wsHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-wsc.ctx.Done():
			wsc.close(websocket.CloseGoingAway, "server shutting down")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if wsc.sensorID != "" && ev.SensorID != wsc.sensorID {
				continue
			}
			d := ev.API()
			if err := wsc.send(&WSMessage{Type: MessageTypeDiagnosis, Diagnosis: &d, Timestamp: time.Now().UTC()}); err != nil {
				return
			}
		case <-ticker.C:
			if err := wsc.ping(); err != nil {
				return
			}
			if err := wsc.send(&WSMessage{Type: MessageTypeHeartbeat, Timestamp: time.Now().UTC()}); err != nil {
				return
			}
		}
	}
}

// send sends a message to the client
func (wsc *wsConnection) send(msg *WSMessage) error {
	wsc.mu.Lock()
	defer wsc.mu.Unlock()

	_ = wsc.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := wsc.conn.WriteJSON(msg); err != nil {
		return err
	}
	metrics.WebSocketMessagesTotal.WithLabelValues("outbound").Inc()
	return nil
}

func (wsc *wsConnection) ping() error {
	wsc.mu.Lock()
	defer wsc.mu.Unlock()
	return wsc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

func (wsc *wsConnection) close(code int, reason string) {
	wsc.mu.Lock()
	defer wsc.mu.Unlock()
	_ = wsc.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}
