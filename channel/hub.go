package channel

import (
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Authenticator resolves a bearer token to a user id.
type Authenticator interface {
	Authenticate(token string) (int64, error)
}

// Hub is the server end of the channel. Clients authenticate in CONNECT and
// may subscribe to BroadcastTopic and their own PersonalTopic only.
type Hub struct {
	auth   Authenticator
	logger *log.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn   *websocket.Conn
	userID int64

	writeMu sync.Mutex

	subMu sync.Mutex
	subs  map[string]string // destination -> subscription id
}

func NewHub(auth Authenticator, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		auth:    auth,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	first, err := readFrame(conn, h.logger)
	if err != nil {
		return
	}
	if first.Command != frame.CONNECT && first.Command != frame.STOMP {
		writeError(conn, "expected CONNECT")
		return
	}
	userID, err := h.auth.Authenticate(bearer(first.Header.Get("Authorization"), r))
	if err != nil {
		writeError(conn, "unauthorized")
		return
	}

	c := &client{conn: conn, userID: userID, subs: make(map[string]string)}
	if err := c.write(newFrame(frame.CONNECTED, nil, frame.Version, "1.2", frame.HeartBeat, "0,0")); err != nil {
		return
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
	}()

	for {
		f, err := readFrame(conn, h.logger)
		if err != nil {
			return
		}
		switch f.Command {
		case frame.SUBSCRIBE:
			dest := f.Header.Get(frame.Destination)
			if !c.allowed(dest) {
				_ = c.write(newFrame(frame.ERROR, nil, frame.Message, "forbidden destination "+dest))
				continue
			}
			c.subMu.Lock()
			c.subs[dest] = f.Header.Get(frame.Id)
			c.subMu.Unlock()
		case frame.UNSUBSCRIBE:
			id := f.Header.Get(frame.Id)
			c.subMu.Lock()
			for dest, cur := range c.subs {
				if cur == id {
					delete(c.subs, dest)
				}
			}
			c.subMu.Unlock()
		case frame.DISCONNECT:
			if receipt := f.Header.Get(frame.Receipt); receipt != "" {
				_ = c.write(newFrame(frame.RECEIPT, nil, frame.ReceiptId, receipt))
			}
			return
		}
	}
}

// Publish delivers body to every client subscribed to destination and
// returns the number of deliveries.
func (h *Hub) Publish(destination string, body []byte) int {
	n := 0
	for _, c := range h.snapshot() {
		if c.deliver(destination, body) {
			n++
		}
	}
	return n
}

// PublishPersonal delivers body on the personal topic of each recipient. A
// nil recipient list addresses every connected client.
func (h *Hub) PublishPersonal(recipients []int64, body []byte) int {
	var want map[int64]bool
	if recipients != nil {
		want = make(map[int64]bool, len(recipients))
		for _, id := range recipients {
			want[id] = true
		}
	}
	n := 0
	for _, c := range h.snapshot() {
		if want != nil && !want[c.userID] {
			continue
		}
		if c.deliver(PersonalTopic(c.userID), body) {
			n++
		}
	}
	return n
}

// DropAll closes every client connection.
func (h *Hub) DropAll() {
	for _, c := range h.snapshot() {
		c.conn.Close()
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Subscribers returns the number of clients subscribed to destination.
func (h *Hub) Subscribers(destination string) int {
	n := 0
	for _, c := range h.snapshot() {
		c.subMu.Lock()
		if _, ok := c.subs[destination]; ok {
			n++
		}
		c.subMu.Unlock()
	}
	return n
}

func (h *Hub) snapshot() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (c *client) allowed(destination string) bool {
	if destination == BroadcastTopic {
		return true
	}
	owner, ok := personalOwner(destination)
	return ok && owner == c.userID
}

func (c *client) deliver(destination string, body []byte) bool {
	c.subMu.Lock()
	id, ok := c.subs[destination]
	c.subMu.Unlock()
	if !ok {
		return false
	}
	f := newFrame(frame.MESSAGE, body,
		frame.Destination, destination,
		frame.Subscription, id,
		frame.MessageId, uuid.NewString(),
		frame.ContentType, "application/json",
	)
	if err := c.write(f); err != nil {
		c.conn.Close()
		return false
	}
	return true
}

func (c *client) write(f *frame.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(c.conn, f)
}

func writeError(conn *websocket.Conn, message string) {
	_ = writeFrame(conn, newFrame(frame.ERROR, nil, frame.Message, message))
}

// bearer prefers the CONNECT header and falls back to the upgrade request.
func bearer(header string, r *http.Request) string {
	if header == "" {
		header = r.Header.Get("Authorization")
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
