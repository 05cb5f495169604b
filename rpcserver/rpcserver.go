// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcserver

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/addrindexd/query"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// rpcAuthTimeoutSeconds is the number of seconds a connection to the
	// RPC server is allowed to stay open without authenticating before it
	// is closed.
	rpcAuthTimeoutSeconds = 10

	// metricsEndpoint is the path prometheus metrics are served on.
	metricsEndpoint = "/metrics"

	// DefaultMaxClients is the default maximum number of concurrent RPC
	// clients.
	DefaultMaxClients = 10
)

var (
	// JSON 2.0 batched request prefix
	batchedRequestPrefix = []byte("[")

	// ErrNoCredentials is returned by New when no RPC user and password
	// are configured.
	ErrNoCredentials = errors.New("rpc user and password must be set")
)

// Config is a descriptor containing the RPC server configuration.
type Config struct {
	// Listeners defines a slice of listeners for which the RPC server will
	// take ownership of and accept connections.  Since the RPC server takes
	// ownership of these listeners, they will be closed when the RPC server
	// is stopped.
	Listeners []net.Listener

	// Query answers the address index commands.
	Query *query.Service

	// ChainParams is the network addresses are encoded for in replies.
	ChainParams *chaincfg.Params

	// RPCUser and RPCPass are the credentials clients must supply through
	// HTTP basic authentication.
	RPCUser string
	RPCPass string

	// MaxClients is the maximum number of clients served at once.  The
	// default is DefaultMaxClients.
	MaxClients int
}

// Server provides a concurrent safe JSON-RPC server for the address index.
type Server struct {
	started    int32
	shutdown   int32
	cfg        Config
	authsha    [sha256.Size]byte
	numClients int32
	httpServer *http.Server
	wg         sync.WaitGroup
}

// New returns a new instance of the Server struct.
func New(cfg *Config) (*Server, error) {
	if cfg.RPCUser == "" || cfg.RPCPass == "" {
		return nil, ErrNoCredentials
	}

	s := &Server{cfg: *cfg}
	if s.cfg.MaxClients <= 0 {
		s.cfg.MaxClients = DefaultMaxClients
	}
	login := cfg.RPCUser + ":" + cfg.RPCPass
	auth := "Basic " + base64.StdEncoding.EncodeToString([]byte(login))
	s.authsha = sha256.Sum256([]byte(auth))

	s.httpServer = &http.Server{
		Handler: s.Handler(),

		// Timeout connections which don't complete the initial
		// handshake within the allowed timeframe.
		ReadTimeout: time.Second * rpcAuthTimeoutSeconds,
	}
	return s, nil
}

// limitConnections responds with a 503 service unavailable and returns true if
// adding another client would exceed the maximum allow RPC clients.
//
// This function is safe for concurrent access.
func (s *Server) limitConnections(w http.ResponseWriter, remoteAddr string) bool {
	if int(atomic.LoadInt32(&s.numClients)+1) > s.cfg.MaxClients {
		log.Infof("Max RPC clients exceeded [%d] - "+
			"disconnecting client %s", s.cfg.MaxClients,
			remoteAddr)
		http.Error(w, "503 Too busy.  Try again later.",
			http.StatusServiceUnavailable)
		return true
	}
	return false
}

// incrementClients adds one to the number of connected RPC clients.
//
// This function is safe for concurrent access.
func (s *Server) incrementClients() {
	atomic.AddInt32(&s.numClients, 1)
}

// decrementClients subtracts one from the number of connected RPC clients.
//
// This function is safe for concurrent access.
func (s *Server) decrementClients() {
	atomic.AddInt32(&s.numClients, -1)
}

// checkAuth checks the HTTP Basic authentication supplied by an RPC client
// in the HTTP request r.  If the supplied authentication does not match the
// username and password expected, a non-nil error is returned.
//
// This check is time-constant.
func (s *Server) checkAuth(r *http.Request) error {
	authhdr := r.Header["Authorization"]
	if len(authhdr) <= 0 {
		log.Warnf("RPC authentication failure from %s", r.RemoteAddr)
		return errors.New("auth failure")
	}

	authsha := sha256.Sum256([]byte(authhdr[0]))
	cmp := subtle.ConstantTimeCompare(authsha[:], s.authsha[:])
	if cmp != 1 {
		log.Warnf("RPC authentication failure from %s", r.RemoteAddr)
		return errors.New("auth failure")
	}
	return nil
}

// jsonAuthFail sends a message back to the client if the http auth is rejected.
func jsonAuthFail(w http.ResponseWriter) {
	w.Header().Add("WWW-Authenticate", `Basic realm="addrindexd RPC"`)
	http.Error(w, "401 Unauthorized.", http.StatusUnauthorized)
}

// createMarshalledReply returns a new marshalled JSON-RPC response given the
// passed parameters.  It will automatically convert errors that are not of
// the type *btcjson.RPCError to the appropriate type as needed.
func createMarshalledReply(rpcVersion btcjson.RPCVersion, id interface{}, result interface{}, replyErr error) ([]byte, error) {
	var jsonErr *btcjson.RPCError
	if replyErr != nil {
		if jErr, ok := replyErr.(*btcjson.RPCError); ok {
			jsonErr = jErr
		} else {
			jsonErr = internalRPCError(replyErr.Error(), "")
		}
	}

	return btcjson.MarshalResponse(rpcVersion, id, result, jsonErr)
}

// parsedRPCCmd represents a JSON-RPC request object that has been parsed into
// a known concrete command along with any error that might have happened while
// parsing it.
type parsedRPCCmd struct {
	method string
	cmd    interface{}
	err    *btcjson.RPCError
}

// parseCmd parses a JSON-RPC request object into known concrete command.  The
// err field of the returned parsedRPCCmd struct will contain an RPC error that
// is suitable for use in replies if the command is invalid in some way such as
// an unregistered command or invalid parameters.
func parseCmd(request *btcjson.Request) *parsedRPCCmd {
	parsedCmd := parsedRPCCmd{method: request.Method}

	cmd, err := btcjson.UnmarshalCmd(request)
	if err != nil {
		// When the error is because the method is not registered,
		// produce a method not found RPC error.
		var jerr btcjson.Error
		if errors.As(err, &jerr) &&
			jerr.ErrorCode == btcjson.ErrUnregisteredMethod {

			parsedCmd.err = btcjson.ErrRPCMethodNotFound
			return &parsedCmd
		}

		// Otherwise, some type of invalid parameters is the
		// cause, so produce the equivalent RPC error.
		parsedCmd.err = btcjson.NewRPCError(
			btcjson.ErrRPCInvalidParams.Code, err.Error())
		return &parsedCmd
	}

	parsedCmd.cmd = cmd
	return &parsedCmd
}

// standardCmdResult runs the handler of a parsed command.  Commands which
// btcjson knows but this server does not serve produce a method not found
// error.
func (s *Server) standardCmdResult(cmd *parsedRPCCmd, closeChan <-chan struct{}) (interface{}, error) {
	handler, ok := rpcHandlers[cmd.method]
	if !ok {
		return nil, btcjson.ErrRPCMethodNotFound
	}
	return handler(s, cmd.cmd, closeChan)
}

// processRequest parses a single request and returns its marshalled
// response, or nil when the request is a notification.
func (s *Server) processRequest(request *btcjson.Request, closeChan <-chan struct{}) []byte {
	var result interface{}
	var jsonErr error

	if !request.Jsonrpc.IsValid() {
		request.Jsonrpc = btcjson.RpcVersion1
	}

	if request.Method == "" || request.Params == nil {
		jsonErr = &btcjson.RPCError{
			Code:    btcjson.ErrRPCInvalidRequest.Code,
			Message: "Invalid request: malformed",
		}
	} else {
		// Valid requests with no ID (notifications) must not have a
		// response per the JSON-RPC spec.
		if request.ID == nil {
			return nil
		}

		// Attempt to parse the JSON-RPC request into a known
		// concrete command.
		parsedCmd := parseCmd(request)
		if parsedCmd.err != nil {
			jsonErr = parsedCmd.err
		} else {
			log.Debugf("Received command <%s>", parsedCmd.method)
			result, jsonErr = s.standardCmdResult(parsedCmd,
				closeChan)
		}
	}

	// Marshal the response.
	msg, err := createMarshalledReply(request.Jsonrpc, request.ID, result,
		jsonErr)
	if err != nil {
		log.Errorf("Failed to marshal reply: %v", err)
		return nil
	}
	return msg
}

// parseErrorReply returns a marshalled reply for a request which could not
// be decoded at all.
func parseErrorReply(code btcjson.RPCErrorCode, format string, args ...interface{}) []byte {
	jsonErr := &btcjson.RPCError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
	resp, err := btcjson.MarshalResponse(btcjson.RpcVersion2, nil, nil,
		jsonErr)
	if err != nil {
		log.Errorf("Failed to create reply: %v", err)
		return nil
	}
	return resp
}

// jsonRPCRead handles reading and responding to RPC messages.
func (s *Server) jsonRPCRead(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.shutdown) != 0 {
		return
	}

	// Read and close the JSON-RPC request body from the caller.
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		errCode := http.StatusBadRequest
		http.Error(w, fmt.Sprintf("%d error reading JSON message: %v",
			errCode, err), errCode)
		return
	}
	closeChan := r.Context().Done()

	var msg []byte
	if !bytes.HasPrefix(bytes.TrimSpace(body), batchedRequestPrefix) {
		// Process a single request.
		var req btcjson.Request
		if err := json.Unmarshal(body, &req); err != nil {
			msg = parseErrorReply(btcjson.ErrRPCParse.Code,
				"Failed to parse request: %v", err)
		} else {
			msg = s.processRequest(&req, closeChan)
		}
	} else {
		msg = s.processBatch(body, closeChan)
	}

	// Notifications get an empty reply.
	if msg == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(msg); err != nil {
		log.Errorf("Failed to write marshalled reply: %v", err)
	}

	// Terminate with newline to maintain compatibility with Bitcoin Core.
	if _, err := w.Write([]byte{'\n'}); err != nil {
		log.Errorf("Failed to append terminating newline to reply: %v",
			err)
	}
}

// processBatch handles a batched request and returns the marshalled array
// of replies.
func (s *Server) processBatch(body []byte, closeChan <-chan struct{}) []byte {
	var batchedRequests []json.RawMessage
	if err := json.Unmarshal(body, &batchedRequests); err != nil {
		return parseErrorReply(btcjson.ErrRPCParse.Code,
			"Failed to parse request: %v", err)
	}

	// Respond with an empty batch error if the batch size is zero.
	if len(batchedRequests) == 0 {
		return parseErrorReply(btcjson.ErrRPCInvalidRequest.Code,
			"Invalid request: empty batch")
	}

	// Process each batch entry individually.
	var results [][]byte
	for _, entry := range batchedRequests {
		var req btcjson.Request
		if err := json.Unmarshal(entry, &req); err != nil {
			resp := parseErrorReply(btcjson.ErrRPCInvalidRequest.Code,
				"Invalid request: %v", err)
			if resp != nil {
				results = append(results, resp)
			}
			continue
		}

		if resp := s.processRequest(&req, closeChan); resp != nil {
			results = append(results, resp)
		}
	}
	if len(results) == 0 {
		return nil
	}

	// Form the batched response json.
	var buffer bytes.Buffer
	buffer.WriteByte('[')
	for i, reply := range results {
		if i > 0 {
			buffer.WriteByte(',')
		}
		buffer.Write(reply)
	}
	buffer.WriteByte(']')
	return buffer.Bytes()
}

// Handler returns the HTTP handler serving JSON-RPC requests on / and
// prometheus metrics on /metrics.
func (s *Server) Handler() http.Handler {
	rpcServeMux := http.NewServeMux()
	rpcServeMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		w.Header().Set("Content-Type", "application/json")
		r.Close = true

		// Limit the number of connections to max allowed.
		if s.limitConnections(w, r.RemoteAddr) {
			return
		}

		// Keep track of the number of connected clients.
		s.incrementClients()
		defer s.decrementClients()
		if err := s.checkAuth(r); err != nil {
			jsonAuthFail(w)
			return
		}

		// Read and respond to the request.
		s.jsonRPCRead(w, r)
	})
	rpcServeMux.Handle(metricsEndpoint, promhttp.Handler())
	return rpcServeMux
}

// Start begins serving on every configured listener.
func (s *Server) Start() {
	if atomic.AddInt32(&s.started, 1) != 1 {
		return
	}

	log.Trace("Starting RPC server")
	for _, listener := range s.cfg.Listeners {
		s.wg.Add(1)
		go func(listener net.Listener) {
			log.Infof("RPC server listening on %s", listener.Addr())
			err := s.httpServer.Serve(listener)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("RPC listener %s failed: %v",
					listener.Addr(), err)
			}
			log.Tracef("RPC listener done for %s", listener.Addr())
			s.wg.Done()
		}(listener)
	}
}

// Stop closes the listeners and waits for them to finish.
func (s *Server) Stop() error {
	if atomic.AddInt32(&s.shutdown, 1) != 1 {
		log.Infof("RPC server is already in the process of shutting down")
		return nil
	}
	log.Warnf("RPC server shutting down")
	err := s.httpServer.Close()
	for _, listener := range s.cfg.Listeners {
		// Listeners that were never served are still open.
		listener.Close()
	}
	s.wg.Wait()
	log.Infof("RPC server shutdown complete")
	return err
}
