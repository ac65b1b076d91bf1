package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	klog "github.com/Klingon-tech/tokenledger/internal/log"
	"github.com/Klingon-tech/tokenledger/internal/metrics"
	"github.com/Klingon-tech/tokenledger/internal/runtime"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

const (
	wsSendBuffer     = 64
	wsWriteTimeout   = 10 * time.Second
	wsPongTimeout    = 60 * time.Second
	wsPingInterval   = 50 * time.Second
	wsMaxMessageSize = 64 << 10
	wsMaxSubs        = 256
)

// Notification method for account changes.
const methodAccountNotification = "account_notification"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser origins are governed by the IP filter and CORS config.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// AccountNotification is pushed to subscribers when a committed batch
// touches the subscribed account.
type AccountNotification struct {
	Subscription uint64         `json:"subscription"`
	Slot         uint64         `json:"slot"`
	Result       *AccountResult `json:"result"`
}

type notificationMessage struct {
	JSONRPC string               `json:"jsonrpc"`
	Method  string               `json:"method"`
	Params  *AccountNotification `json:"params"`
}

// UnsubscribeParam is used by account_unsubscribe.
type UnsubscribeParam struct {
	ID uint64 `json:"id"`
}

type subscription struct {
	id     uint64
	addr   types.Address
	client *wsClient
}

// Hub fans committed account changes out to websocket subscribers.
// Publish never blocks: a client whose send buffer is full is dropped.
type Hub struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	nextID  uint64
	clients map[*wsClient]struct{}
	byAddr  map[types.Address]map[uint64]*subscription
	byID    map[uint64]*subscription
	closed  bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		logger:  klog.WithComponent("ws"),
		clients: make(map[*wsClient]struct{}),
		byAddr:  make(map[types.Address]map[uint64]*subscription),
		byID:    make(map[uint64]*subscription),
	}
}

// SetMetrics enables the connected-clients gauge.
func (h *Hub) SetMetrics(m *metrics.Metrics) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics = m
	h.updateGauge()
}

// Publish delivers a commit to every subscriber of a touched account.
func (h *Hub) Publish(c *runtime.Commit) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var slow []*wsClient
	for _, acct := range c.Accounts {
		subs := h.byAddr[acct.Address]
		if len(subs) == 0 {
			continue
		}
		result := NewAccountResult(acct)
		for _, sub := range subs {
			msg, err := json.Marshal(notificationMessage{
				JSONRPC: "2.0",
				Method:  methodAccountNotification,
				Params: &AccountNotification{
					Subscription: sub.id,
					Slot:         c.Receipt.Slot,
					Result:       result,
				},
			})
			if err != nil {
				h.logger.Error().Err(err).Msg("Encode notification")
				continue
			}
			if !sub.client.enqueue(msg) {
				slow = append(slow, sub.client)
			}
		}
	}
	for _, cl := range slow {
		h.logger.Warn().Str("remote", cl.remote).Msg("Dropping slow websocket client")
		h.removeLocked(cl)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for cl := range h.clients {
		h.removeLocked(cl)
	}
}

func (h *Hub) add(cl *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[cl] = struct{}{}
	h.updateGauge()
	return true
}

func (h *Hub) remove(cl *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(cl)
}

func (h *Hub) removeLocked(cl *wsClient) {
	if _, ok := h.clients[cl]; !ok {
		return
	}
	delete(h.clients, cl)
	for id := range cl.subs {
		h.unsubscribeLocked(cl, id)
	}
	cl.close()
	h.updateGauge()
}

func (h *Hub) subscribe(cl *wsClient, addr types.Address) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[cl]; !ok {
		return 0, fmt.Errorf("connection closed")
	}
	if len(cl.subs) >= wsMaxSubs {
		return 0, fmt.Errorf("too many subscriptions (max %d)", wsMaxSubs)
	}
	h.nextID++
	sub := &subscription{id: h.nextID, addr: addr, client: cl}
	h.byID[sub.id] = sub
	if h.byAddr[addr] == nil {
		h.byAddr[addr] = make(map[uint64]*subscription)
	}
	h.byAddr[addr][sub.id] = sub
	cl.subs[sub.id] = struct{}{}
	return sub.id, nil
}

func (h *Hub) unsubscribe(cl *wsClient, id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unsubscribeLocked(cl, id)
}

func (h *Hub) unsubscribeLocked(cl *wsClient, id uint64) bool {
	sub, ok := h.byID[id]
	if !ok || sub.client != cl {
		return false
	}
	delete(h.byID, id)
	delete(cl.subs, id)
	if subs := h.byAddr[sub.addr]; subs != nil {
		delete(subs, id)
		if len(subs) == 0 {
			delete(h.byAddr, sub.addr)
		}
	}
	return true
}

func (h *Hub) updateGauge() {
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(len(h.clients)))
	}
}

// wsClient is one websocket connection. subs is guarded by the hub lock.
type wsClient struct {
	conn   *websocket.Conn
	remote string
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	subs   map[uint64]struct{}
}

func (c *wsClient) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// handleWS upgrades the connection and serves account subscriptions.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.NotFound(w, r)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	cl := &wsClient{
		conn:   conn,
		remote: r.RemoteAddr,
		send:   make(chan []byte, wsSendBuffer),
		done:   make(chan struct{}),
		subs:   make(map[uint64]struct{}),
	}
	if !s.hub.add(cl) {
		conn.Close()
		return
	}
	defer s.hub.remove(cl)
	go cl.writeLoop()

	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		resp := s.hub.handleMessage(cl, data)
		msg, err := json.Marshal(resp)
		if err != nil {
			return
		}
		if !cl.enqueue(msg) {
			return
		}
	}
}

// handleMessage serves one JSON-RPC request received on a websocket.
func (h *Hub) handleMessage(cl *wsClient, data []byte) Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Response{JSONRPC: "2.0", Error: &Error{Code: CodeParseError, Message: "invalid JSON"}}
	}
	if req.JSONRPC != "2.0" {
		return Response{JSONRPC: "2.0", ID: req.ID, Error: &Error{Code: CodeInvalidRequest, Message: "jsonrpc must be \"2.0\""}}
	}

	var (
		result interface{}
		rpcErr *Error
	)
	switch req.Method {
	case "account_subscribe":
		result, rpcErr = h.handleSubscribe(cl, &req)
	case "account_unsubscribe":
		var params UnsubscribeParam
		if rpcErr = parseParams(&req, &params); rpcErr == nil {
			result = h.unsubscribe(cl, params.ID)
		}
	default:
		rpcErr = &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
	if rpcErr != nil {
		return Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}
	return Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (h *Hub) handleSubscribe(cl *wsClient, req *Request) (interface{}, *Error) {
	var params AddressParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	addr, rpcErr := parseAddress("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	id, err := h.subscribe(cl, addr)
	if err != nil {
		return nil, &Error{Code: CodeInvalidRequest, Message: err.Error()}
	}
	return id, nil
}
