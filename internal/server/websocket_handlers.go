package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MeKo-Tech/rakescan/internal/pipeline"
	"github.com/gorilla/websocket"
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Progress is read-only; any dashboard may subscribe
		return true
	},
}

// Message types broadcast to progress subscribers.
const (
	MessageConnected           = "connected"
	MessageInspectionStarted   = "inspection_started"
	MessageProgress            = "progress"
	MessageWagonResult         = "wagon_result"
	MessageInspectionCompleted = "inspection_completed"
	MessageInspectionFailed    = "inspection_failed"
)

const (
	pingInterval  = 30 * time.Second
	readTimeout   = 60 * time.Second
	writeTimeout  = 10 * time.Second
	clientBacklog = 64
	progressEvery = 10 // Broadcast every Nth frame
)

// WebSocketMessage represents a message sent over WebSocket.
type WebSocketMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ProgressPayload is the payload of started and progress messages.
type ProgressPayload struct {
	RunID       string `json:"run_id"`
	Video       string `json:"video,omitempty"`
	Frame       int    `json:"frame"`
	TotalFrames int    `json:"total_frames,omitempty"`
	Wagons      int    `json:"wagons"`
}

// WagonPayload is the payload of a wagon_result message.
type WagonPayload struct {
	RunID      string  `json:"run_id"`
	TrackID    int     `json:"track_id"`
	Identifier string  `json:"identifier"`
	RawText    *string `json:"raw_text"`
	Confidence float64 `json:"confidence"`
	IsNight    bool    `json:"is_night"`
}

// Hub fans progress messages out to every connected subscriber. A
// subscriber that cannot keep up loses messages rather than stalling the
// inspection.
type Hub struct {
	mu      sync.Mutex
	clients map[*subscriber]struct{}
	closed  bool
}

type subscriber struct {
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*subscriber]struct{})}
}

// Broadcast queues msg for every subscriber.
func (h *Hub) Broadcast(msg WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to encode WebSocket message", "type", msg.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			websocketMessagesTotal.WithLabelValues("dropped").Inc()
		}
	}
}

// Clients returns the number of subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) subscribe() (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &subscriber{send: make(chan []byte, clientBacklog)}
	h.clients[c] = struct{}{}
	return c, true
}

// deliver queues data for one subscriber that is still connected.
func (h *Hub) deliver(c *subscriber, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		select {
		case c.send <- data:
		default:
		}
	}
}

func (h *Hub) unsubscribe(c *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
}

// progressWebSocketHandler streams inspection progress to the client.
func (s *Server) progressWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	sub, ok := s.hub.subscribe()
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeTimeout))
		return
	}

	websocketConnections.Inc()
	defer websocketConnections.Dec()
	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.readPump(conn)
	}()

	hello, _ := json.Marshal(WebSocketMessage{Type: MessageConnected, Payload: s.listRuns()})
	s.hub.deliver(sub, hello)

	s.writePump(conn, sub, done)
	s.hub.unsubscribe(sub)
}

// readPump consumes client frames so pongs and close frames are handled.
func (s *Server) readPump(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
	}
}

// writePump is the only writer on conn.
func (s *Server) writePump(conn *websocket.Conn, sub *subscriber, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			websocketMessagesTotal.WithLabelValues("sent").Inc()
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// hubProgress turns pipeline progress into hub broadcasts and keeps the run
// status current.
type hubProgress struct {
	s     *Server
	runID string
	video string
}

func newHubProgress(s *Server, runID, video string) *hubProgress {
	return &hubProgress{s: s, runID: runID, video: video}
}

func (p *hubProgress) OnStart(_ string, totalFrames int) {
	p.s.updateRun(p.runID, func(st *RunStatus) { st.TotalFrames = totalFrames })
	p.s.hub.Broadcast(WebSocketMessage{Type: MessageInspectionStarted, Payload: ProgressPayload{
		RunID: p.runID, Video: p.video, TotalFrames: totalFrames,
	}})
}

func (p *hubProgress) OnFrame(frame, totalFrames, wagons int) {
	p.s.updateRun(p.runID, func(st *RunStatus) {
		st.Frames = frame
		st.Wagons = wagons
	})
	if frame%progressEvery != 0 && frame != totalFrames {
		return
	}
	p.s.hub.Broadcast(WebSocketMessage{Type: MessageProgress, Payload: ProgressPayload{
		RunID: p.runID, Frame: frame, TotalFrames: totalFrames, Wagons: wagons,
	}})
}

func (p *hubProgress) OnResult(rec pipeline.WagonRecord) {
	p.s.hub.Broadcast(WebSocketMessage{Type: MessageWagonResult, Payload: WagonPayload{
		RunID:      p.runID,
		TrackID:    rec.TrackID,
		Identifier: pipeline.DisplayIdentifier(rec.TrackID, &rec),
		RawText:    rec.RawText,
		Confidence: rec.Confidence,
		IsNight:    rec.IsNight,
	}})
}

func (p *hubProgress) OnComplete(rep *pipeline.InspectionReport) {
	p.s.updateRun(p.runID, func(st *RunStatus) {
		st.Frames = rep.FrameCount
		st.Wagons = rep.TotalWagons()
	})
}
