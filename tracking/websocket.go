package tracking

import (
	"encoding/json"
	"image"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

// Message is what websocket clients receive.
type Message struct {
	Kind    string             `json:"kind"`
	Epoch   int                `json:"epoch"`
	Losses  map[string]float64 `json:"losses,omitempty"`
	Caption string             `json:"caption,omitempty"`
	Width   int                `json:"width,omitempty"`
	Height  int                `json:"height,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts reports to every connected websocket client. Slow clients miss
// messages instead of blocking training.
type Hub struct {
	upgrader websocket.Upgrader
	log      logrus.FieldLogger

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a hub. All origins are accepted.
func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[*client]struct{}),
	}
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards incoming messages and unregisters the client once the
// connection is gone.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for b := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			h.log.WithError(err).Debug("websocket write")
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast sends a message to every client.
func (h *Hub) Broadcast(m Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
		}
	}
	return nil
}

// LogScalars implements ScalarLogger.
func (h *Hub) LogScalars(epoch int, values map[string]float64) error {
	return h.Broadcast(Message{Kind: "losses", Epoch: epoch, Losses: values})
}

// LogImage implements ImageLogger. Only a notice is sent; the image itself is
// served by the MJPEG stream.
func (h *Hub) LogImage(epoch int, grid image.Image, caption string) error {
	sz := grid.Bounds().Size()
	return h.Broadcast(Message{Kind: "image", Epoch: epoch, Caption: caption, Width: sz.X, Height: sz.Y})
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	return nil
}
