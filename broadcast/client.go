package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/candorhq/riverd/model"
	Logger "github.com/candorhq/riverd/utils/log"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ClientFrame is one client-to-server control message on the session
// protocol: room subscription changes and (re)authentication.
type ClientFrame struct {
	Action     string   `json:"action"`
	Rooms      []string `json:"rooms,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Client binds one websocket connection to its registry session and runs
// the read/write pumps.
type Client struct {
	registry *Registry
	session  *Session
	conn     *websocket.Conn
}

// ServeWS upgrades the request and starts a new anonymous session. A
// "token" query parameter, when present, authenticates the session up
// front; an invalid token leaves it anonymous.
func ServeWS(registry *Registry, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Logger.Log.Errorf("fail to upgrade websocket connection, error: %s", err)
		return
	}

	client := &Client{
		registry: registry,
		session:  registry.Connect(),
		conn:     conn,
	}
	if token := r.URL.Query().Get("token"); token != "" {
		client.registry.Authenticate(r.Context(), client.session.ID(), token)
	}

	go client.writePump()
	go client.readPump()
}

// readPump consumes control frames until the connection drops, then tears
// the session down. Disconnecting closes the delivery channel, which in
// turn terminates writePump.
func (c *Client) readPump() {
	defer func() {
		c.registry.Disconnect(c.session.ID())
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				Logger.Log.Warnf("session %s connection error: %s", c.session.ID(), err)
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.ack("error", map[string]interface{}{"error": "malformed frame"})
			continue
		}
		c.handleFrame(&frame)
	}
}

func (c *Client) handleFrame(frame *ClientFrame) {
	switch frame.Action {
	case "subscribe":
		rooms, err := parseRooms(frame.Rooms)
		if err == nil {
			err = c.registry.SubscribeRooms(c.session.ID(), rooms)
		}
		if err != nil {
			c.ack("subscribe:error", map[string]interface{}{"error": err.Error()})
			return
		}
		c.ack("subscribe:ok", map[string]interface{}{"rooms": frame.Rooms})

	case "unsubscribe":
		rooms, err := parseRooms(frame.Rooms)
		if err != nil {
			c.ack("unsubscribe:error", map[string]interface{}{"error": err.Error()})
			return
		}
		c.registry.UnsubscribeRooms(c.session.ID(), rooms)
		c.ack("unsubscribe:ok", map[string]interface{}{"rooms": frame.Rooms})

	case "auth":
		viewerID, err := c.registry.Authenticate(context.Background(), c.session.ID(), frame.Credential)
		if err != nil {
			c.ack("auth:error", map[string]interface{}{"error": err.Error()})
			return
		}
		// An empty viewer id means the credential was rejected and the
		// session continues anonymously.
		c.ack("auth:ok", map[string]interface{}{"viewerId": viewerID})

	default:
		c.ack("error", map[string]interface{}{"error": "unknown action " + frame.Action})
	}
}

// ack queues a control response on the same channel as deliveries, keeping
// all writes on the single writer pump.
func (c *Client) ack(kind string, payload interface{}) {
	c.registry.Push(c.session, &Delivery{Kind: kind, Payload: payload})
}

// writePump is the connection's only writer: deliveries, control acks and
// keepalive pings all funnel through here.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case delivery, ok := <-c.session.Deliveries():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(delivery); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func parseRooms(raw []string) ([]model.RoomID, error) {
	rooms := make([]model.RoomID, 0, len(raw))
	for _, s := range raw {
		room, err := model.ParseRoomID(s)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}
