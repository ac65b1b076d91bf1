// Package rpc implements the JSON-RPC 2.0 API server.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/tokenledger/config"
	"github.com/Klingon-tech/tokenledger/internal/index"
	klog "github.com/Klingon-tech/tokenledger/internal/log"
	"github.com/Klingon-tech/tokenledger/internal/metrics"
	"github.com/Klingon-tech/tokenledger/internal/runtime"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// Server is the JSON-RPC 2.0 HTTP server. Besides JSON-RPC on "/" it can
// serve account subscriptions on "/ws" and Prometheus metrics on "/metrics".
type Server struct {
	addr        string
	rt          *runtime.Runtime
	genesis     *config.Genesis
	genesisHash string
	metrics     *metrics.Metrics // Request metrics (nil = not recorded).
	serveMetric bool             // Expose /metrics.
	index       *index.Store     // For index_* queries (nil = disabled).
	hub         *Hub             // For /ws (nil = disabled).
	server      *http.Server
	logger      zerolog.Logger
	ln          net.Listener
	allowedNets []*net.IPNet // Empty = allow all.
	corsOrigins []string     // Empty = no CORS headers.
}

// New creates a new RPC server. The rpcCfg parameter controls IP filtering,
// CORS and websocket subscriptions. A zero-value RPCConfig allows all IPs,
// disables CORS and disables /ws.
func New(addr string, rt *runtime.Runtime, genesis *config.Genesis, rpcCfg ...config.RPCConfig) *Server {
	s := &Server{
		addr:    addr,
		rt:      rt,
		genesis: genesis,
		logger:  klog.RPC,
	}
	if h, err := genesis.Hash(); err == nil {
		s.genesisHash = h.String()
	}

	if len(rpcCfg) > 0 {
		s.allowedNets = parseAllowedIPs(rpcCfg[0].AllowedIPs)
		s.corsOrigins = rpcCfg[0].CORSOrigins
		if rpcCfg[0].WS {
			s.hub = NewHub()
			rt.OnCommit(s.hub.Publish)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.filter(s.handleRequest))
	mux.HandleFunc("/ws", s.filter(s.handleWS))
	mux.HandleFunc("/metrics", s.filter(s.handleMetrics))

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// parseAllowedIPs converts string IP/CIDR entries into net.IPNet.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		// Try as a single IP (add /32 or /128).
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()

	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server and closes websocket clients.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	return s.server.Shutdown(ctx)
}

// SetMetrics records request metrics into m. When serve is set the
// registry is also exposed on /metrics.
func (s *Server) SetMetrics(m *metrics.Metrics, serve bool) {
	s.metrics = m
	s.serveMetric = serve
	if s.hub != nil {
		s.hub.SetMetrics(m)
	}
}

// SetIndex enables index_* endpoints backed by the Postgres holdings index.
func (s *Server) SetIndex(store *index.Store) {
	s.index = store
}

// filter applies the IP allow-list.
func (s *Server) filter(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowedNets) > 0 {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			ip := net.ParseIP(host)
			if ip == nil || !s.isIPAllowed(ip) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}
		next(w, r)
	}
}

// handleRequest is the main HTTP handler for JSON-RPC requests.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	// CORS headers.
	s.setCORSHeaders(w, r)

	// Handle CORS preflight.
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, nil, CodeInvalidRequest, "only POST method is allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}

	if req.JSONRPC != "2.0" {
		writeError(w, req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
		return
	}

	started := time.Now()
	result, rpcErr := s.dispatch(&req)
	if s.metrics != nil {
		s.metrics.ObserveRPC(metricMethod(req.Method), rpcErr != nil, started)
	}
	if rpcErr != nil {
		writeJSON(w, Response{
			JSONRPC: "2.0",
			Error:   rpcErr,
			ID:      req.ID,
		})
		return
	}

	writeJSON(w, Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	})
}

// handlers maps JSON-RPC methods to their handlers.
var handlers = map[string]func(*Server, *Request) (interface{}, *Error){
	"ledger_getInfo":           (*Server).handleGetInfo,
	"ledger_getAccount":        (*Server).handleGetAccount,
	"ledger_getBalance":        (*Server).handleGetBalance,
	"ledger_getTokenClass":     (*Server).handleGetTokenClass,
	"ledger_getSupply":         (*Server).handleGetSupply,
	"ledger_getHoldings":       (*Server).handleGetHoldings,
	"ledger_deriveHolding":     (*Server).handleDeriveHolding,
	"ledger_getMinimumBalance": (*Server).handleGetMinimumBalance,
	"ledger_requestAirdrop":    (*Server).handleRequestAirdrop,
	"tx_submit":                (*Server).handleTxSubmit,
	"tx_getReceipt":            (*Server).handleTxGetReceipt,
	"index_getHolders":         (*Server).handleIndexGetHolders,
	"index_getHoldings":        (*Server).handleIndexGetHoldings,
}

// dispatch routes a request to the appropriate handler.
func (s *Server) dispatch(req *Request) (interface{}, *Error) {
	h, ok := handlers[req.Method]
	if !ok {
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
	return h(s, req)
}

// metricMethod bounds the method label to known methods.
func metricMethod(method string) string {
	if _, ok := handlers[method]; ok {
		return method
	}
	return "unknown"
}

// handleMetrics serves the Prometheus registry when enabled.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil || !s.serveMetric {
		http.NotFound(w, r)
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

// writeJSON writes a JSON-RPC response.
func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes a JSON-RPC error response.
func writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	writeJSON(w, Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	})
}

// isIPAllowed checks if the IP is in the allowed networks list.
func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// setCORSHeaders adds CORS headers based on the configured origins.
func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if len(s.corsOrigins) == 0 {
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	// Check if origin is allowed.
	allowed := false
	for _, o := range s.corsOrigins {
		if o == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			allowed = true
			break
		}
		if o == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			allowed = true
			break
		}
	}

	if allowed {
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
}

// parseParams unmarshals the request params into the given target.
func parseParams(req *Request, target interface{}) *Error {
	if req.Params == nil {
		return &Error{Code: CodeInvalidParams, Message: "params required"}
	}

	data, err := json.Marshal(req.Params)
	if err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params"}
	}

	if err := json.Unmarshal(data, target); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}
