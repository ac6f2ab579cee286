package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/voteroom/internal/events"
)

// Dispatcher is the fan-out surface the room core sees. Delivery is
// fire-and-forget; a failed or slow subscriber never blocks the others.
// version is the room version the event's snapshot was taken at; the
// dispatcher drops an event overtaken by a newer one. Pass zero for events
// that carry no room state.
type Dispatcher interface {
	BroadcastToRoom(code string, version uint64, ev events.Event)
	SendToConnection(connID string, ev events.Event)
}

// EventSink receives a copy of every room broadcast. Optional; used to
// mirror events onto NATS.
type EventSink interface {
	Publish(code string, ev events.Event)
}

// Router handles decoded traffic for a connection
type Router interface {
	HandleMessage(conn *Connection, raw []byte)
	HandleDisconnect(conn *Connection)
}

// ConnectionManager owns every WebSocket connection and the per-room
// subscription pools the Dispatcher fans out over.
type ConnectionManager struct {
	roomConnections map[string]map[*Connection]bool
	connections     map[string]*Connection
	lastVersion     map[string]uint64
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	router   Router
	sink     EventSink

	broadcastCh chan broadcastMessage
}

// Connection represents one WebSocket client. Send stays open for the
// connection's lifetime; done is closed exactly once to tell writePump and
// the broadcast loop to stop touching it.
type Connection struct {
	ID       string
	Username string
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time

	done     chan struct{}
	doneOnce sync.Once
}

func (c *Connection) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	RoomCode string
	ConnID   string // if set, deliver only to this connection
	Version  uint64 // room version of the snapshot, zero for stateless events
	Event    events.Event
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		connections:     make(map[string]*Connection),
		lastVersion:     make(map[string]uint64),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

func (cm *ConnectionManager) setRouter(r Router) {
	cm.router = r
}

// SetSink attaches an optional event mirror
func (cm *ConnectionManager) SetSink(sink EventSink) {
	cm.sink = sink
}

// Start begins processing outbound messages until the context is cancelled
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

func newConnection(cm *ConnectionManager, conn *websocket.Conn) *Connection {
	return &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
		done:        make(chan struct{}),
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket connection and
// starts its pumps
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade connection: %w", err)
	}

	connection := newConnection(cm, conn)

	cm.mu.Lock()
	cm.connections[connection.ID] = connection
	cm.mu.Unlock()

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("conn_id", connection.ID).
		Str("remote", r.RemoteAddr).
		Msg("WebSocket connection established")

	return connection, nil
}

// Subscribe adds a connection to a room's broadcast pool
func (cm *ConnectionManager) Subscribe(conn *Connection, code string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.roomConnections[code] == nil {
		cm.roomConnections[code] = make(map[*Connection]bool)
	}
	cm.roomConnections[code][conn] = true

	log.Debug().
		Str("conn_id", conn.ID).
		Str("room_code", code).
		Int("subscribers", len(cm.roomConnections[code])).
		Msg("connection subscribed")
}

// UnsubscribeAll removes a connection from every room pool it is in
func (cm *ConnectionManager) UnsubscribeAll(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.unsubscribeAllLocked(conn)
}

func (cm *ConnectionManager) unsubscribeAllLocked(conn *Connection) {
	for code, conns := range cm.roomConnections {
		if conns[conn] {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(cm.roomConnections, code)
				delete(cm.lastVersion, code)
			}
		}
	}
}

// unregisterConnection tears a connection down; idempotent since both pumps
// call it on exit. Send is never closed here: the broadcast loop may be
// sending on it concurrently, so shutdown is signalled through conn.done.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, ok := cm.connections[conn.ID]; !ok {
		return
	}
	delete(cm.connections, conn.ID)
	cm.unsubscribeAllLocked(conn)
	conn.shutdown()

	log.Info().
		Str("conn_id", conn.ID).
		Str("username", conn.Username).
		Msg("connection unregistered")
}

// BroadcastToRoom queues an event for every subscriber of a room
func (cm *ConnectionManager) BroadcastToRoom(code string, version uint64, ev events.Event) {
	select {
	case cm.broadcastCh <- broadcastMessage{RoomCode: code, Version: version, Event: ev}:
	default:
		log.Warn().Str("room_code", code).Msg("broadcast channel full, dropping message")
	}
}

// SendToConnection queues an event for a single connection
func (cm *ConnectionManager) SendToConnection(connID string, ev events.Event) {
	select {
	case cm.broadcastCh <- broadcastMessage{ConnID: connID, Event: ev}:
	default:
		log.Warn().Str("conn_id", connID).Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	var targets []*Connection

	cm.mu.Lock()
	if message.ConnID != "" {
		if conn, ok := cm.connections[message.ConnID]; ok {
			targets = append(targets, conn)
		}
	} else {
		if message.Version > 0 {
			if message.Version < cm.lastVersion[message.RoomCode] {
				cm.mu.Unlock()
				log.Debug().
					Str("event", string(message.Event.Type)).
					Str("room_code", message.RoomCode).
					Uint64("version", message.Version).
					Msg("dropping overtaken room broadcast")
				return
			}
			cm.lastVersion[message.RoomCode] = message.Version
		}
		for conn := range cm.roomConnections[message.RoomCode] {
			targets = append(targets, conn)
		}
	}
	cm.mu.Unlock()

	if message.ConnID == "" && cm.sink != nil {
		cm.sink.Publish(message.RoomCode, message.Event)
	}

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Str("event", string(message.Event.Type)).Msg("failed to marshal event")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- data:
		case <-conn.done:
			// connection already shutting down
		default:
			// Connection is slow or dead, drop it
			log.Warn().
				Str("conn_id", conn.ID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event", string(message.Event.Type)).
		Str("room_code", message.RoomCode).
		Int("connections", len(targets)).
		Msg("event dispatched")
}

// Stats returns counts of active connections and subscribed rooms
func (cm *ConnectionManager) Stats() map[string]int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return map[string]int{
		"total_connections": len(cm.connections),
		"active_rooms":      len(cm.roomConnections),
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("conn_id", c.ID).Msg("failed to write message")
				return
			}

		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection. On exit
// the router gets one disconnect callback before the connection is torn down.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.router.HandleDisconnect(c)
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("conn_id", c.ID).Msg("unexpected WebSocket close")
			}
			break
		}

		c.Manager.router.HandleMessage(c, message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
