package mockbackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// wireFrame mirrors the client's envelope: event name, optional ack id, raw
// data.
type wireFrame struct {
	Event string          `json:"event"`
	ID    int64           `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Emission is one frame a client sent after the handshake.
type Emission struct {
	Event string
	Data  json.RawMessage
}

type socketConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *socketConn) writeFrame(f wireFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(f)
}

// socketHub owns every live websocket, the room membership table and the
// capture of client emissions.
type socketHub struct {
	upgrader websocket.Upgrader

	mu          sync.Mutex
	conns       map[*socketConn]struct{}
	rooms       map[string]map[*socketConn]struct{}
	sent        []Emission
	nextSession int

	// resolveSnapshot answers getOrderTracking acks. Wired by the server.
	resolveSnapshot func(orderID string) (any, bool)
}

func newSocketHub() *socketHub {
	return &socketHub{
		conns: make(map[*socketConn]struct{}),
		rooms: make(map[string]map[*socketConn]struct{}),
	}
}

func (h *socketHub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &socketConn{conn: ws}

	// First frame must be the handshake; anything else closes the socket.
	var hello wireFrame
	if err := ws.ReadJSON(&hello); err != nil || hello.Event != "handshake" {
		_ = ws.Close()
		return
	}

	h.mu.Lock()
	h.nextSession++
	sessionID := fmt.Sprintf("sess-%d", h.nextSession)
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	reply, _ := json.Marshal(map[string]string{"sessionId": sessionID})
	if err := conn.writeFrame(wireFrame{Event: "connected", Data: reply}); err != nil {
		h.remove(conn)
		return
	}

	go h.readLoop(conn)
}

func (h *socketHub) readLoop(conn *socketConn) {
	defer h.remove(conn)

	for {
		var f wireFrame
		if err := conn.conn.ReadJSON(&f); err != nil {
			return
		}

		h.mu.Lock()
		h.sent = append(h.sent, Emission{Event: f.Event, Data: append(json.RawMessage(nil), f.Data...)})
		h.mu.Unlock()

		switch f.Event {
		case "joinOrder", "subscribeToOrder":
			if orderID := roomID(f.Data); orderID != "" {
				h.join(conn, orderID)
			}
		case "leaveOrder", "unsubscribeFromOrder":
			if orderID := roomID(f.Data); orderID != "" {
				h.leave(conn, orderID)
			}
		case "getOrderTracking":
			h.answerTracking(conn, f)
		}
	}
}

func (h *socketHub) answerTracking(conn *socketConn, f wireFrame) {
	if f.ID == 0 || h.resolveSnapshot == nil {
		return
	}
	orderID := roomID(f.Data)
	snap, ok := h.resolveSnapshot(orderID)
	if !ok {
		// No data for the order: the ack never arrives and the client's
		// fallback path takes over, same as the real backend under load.
		return
	}
	data, err := json.Marshal(map[string]any{"data": snap})
	if err != nil {
		return
	}
	_ = conn.writeFrame(wireFrame{Event: "ack", ID: f.ID, Data: data})
}

func (h *socketHub) join(conn *socketConn, orderID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[orderID]
	if room == nil {
		room = make(map[*socketConn]struct{})
		h.rooms[orderID] = room
	}
	room[conn] = struct{}{}
}

func (h *socketHub) leave(conn *socketConn, orderID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms[orderID], conn)
}

func (h *socketHub) remove(conn *socketConn) {
	h.mu.Lock()
	delete(h.conns, conn)
	for _, room := range h.rooms {
		delete(room, conn)
	}
	h.mu.Unlock()
	_ = conn.conn.Close()
}

func (h *socketHub) pushToRoom(orderID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.mu.Lock()
	members := make([]*socketConn, 0, len(h.rooms[orderID]))
	for conn := range h.rooms[orderID] {
		members = append(members, conn)
	}
	h.mu.Unlock()

	for _, conn := range members {
		_ = conn.writeFrame(wireFrame{Event: event, Data: data})
	}
}

func (h *socketHub) broadcast(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.mu.Lock()
	conns := make([]*socketConn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.writeFrame(wireFrame{Event: event, Data: data})
	}
}

func (h *socketHub) dropAll() {
	h.mu.Lock()
	conns := make([]*socketConn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.conn.Close()
	}
}

func (h *socketHub) closeAll() {
	h.dropAll()
}

func (h *socketHub) sessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *socketHub) roomSize(orderID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[orderID])
}

func (h *socketHub) emissions(event string) []json.RawMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []json.RawMessage
	for _, e := range h.sent {
		if e.Event == event {
			out = append(out, e.Data)
		}
	}
	return out
}

func roomID(data json.RawMessage) string {
	var payload struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	return payload.OrderID
}
