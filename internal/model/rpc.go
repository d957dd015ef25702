package model

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Worker protocol method names. The worker is a subprocess speaking
// newline-delimited JSON-RPC 2.0 on stdin/stdout.
const (
	methodInitialize         = "initialize"
	methodLoadModel          = "load_model"
	methodUnloadModel        = "unload_model"
	methodGenerateEmbeddings = "generate_embeddings"
	methodHealthCheck        = "health_check"
	methodShutdown           = "shutdown"
)

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("worker error %d: %s", e.Code, e.Message)
}

// rpcConn multiplexes JSON-RPC calls over a byte stream. One goroutine
// reads responses and routes them to pending callers by ID; writes are
// serialized by a mutex.
type rpcConn struct {
	writeMu sync.Mutex
	enc     *json.Encoder

	mu      sync.Mutex
	pending map[int64]chan *rpcResponse
	nextID  int64
	closed  bool
	readErr error
}

// newRPCConn wires a connection over the worker's stdin (w) and stdout (r)
// and starts the response reader.
func newRPCConn(w io.Writer, r io.Reader) *rpcConn {
	c := &rpcConn{
		enc:     json.NewEncoder(w),
		pending: make(map[int64]chan *rpcResponse),
	}
	go c.readLoop(r)
	return c
}

func (c *rpcConn) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			// Workers sometimes print warnings to stdout; skip anything
			// that is not a response frame.
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()

		if ok {
			ch <- &resp
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.fail(err)
}

// fail closes the connection and releases every pending caller.
func (c *rpcConn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.readErr = err
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
}

// call sends one request and decodes the result into out (which may be
// nil for calls with no interesting result). It returns when the worker
// answers, the context expires, or the connection dies.
func (c *rpcConn) call(ctx context.Context, method string, params, out any) error {
	c.mu.Lock()
	if c.closed {
		err := c.readErr
		c.mu.Unlock()
		return fmt.Errorf("worker connection closed: %w", err)
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *rpcResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	c.writeMu.Lock()
	err := c.enc.Encode(req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("worker connection closed during %s: %w", method, c.readErr)
		}
		if resp.Error != nil {
			return resp.Error
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("failed to decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Worker protocol payloads.

type initializeParams struct {
	ProtocolVersion int `json:"protocolVersion"`
}

type initializeResult struct {
	ProtocolVersion int    `json:"protocolVersion"`
	Backend         string `json:"backend"`
}

type loadModelParams struct {
	Model string `json:"model"`
}

type loadModelResult struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

type generateParams struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

type generateResult struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type healthResult struct {
	Status string `json:"status"` // "ok" or "degraded"
	Model  string `json:"model,omitempty"`
}

// protocolVersion is the worker protocol this daemon speaks.
const protocolVersion = 1
