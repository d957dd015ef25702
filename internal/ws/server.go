package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/folder-mcp/foldermcp/internal/errors"
	"github.com/folder-mcp/foldermcp/internal/fmdm"
	"github.com/folder-mcp/foldermcp/internal/model"
	"github.com/folder-mcp/foldermcp/pkg/version"
)

// Controller is the daemon surface the protocol drives. The ws layer
// owns framing and client bookkeeping; folder semantics live behind
// this interface.
type Controller interface {
	ValidateFolder(ctx context.Context, path, modelID string) error
	AddFolder(ctx context.Context, path, modelID string) (warnings []string, err error)
	RemoveFolder(ctx context.Context, path string) error
	FoldersConfig() []FolderEntry
	ServerInfo() ServerInfo
	FolderInfo(ctx context.Context, path string) (*FolderInfo, error)
}

// client is one connected UI client.
type client struct {
	id          string
	clientType  string
	connectedAt time.Time
	conn        *websocket.Conn
	send        chan any
	done        chan struct{}
	closeOnce   sync.Once
}

// Server is the WebSocket control server.
type Server struct {
	ctrl      Controller
	state     *fmdm.Manager
	throttler *Throttler
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

// NewServer creates a control server broadcasting at most rate
// snapshots per second.
func NewServer(ctrl Controller, state *fmdm.Manager, rate float64, debounce time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ctrl:    ctrl,
		state:   state,
		logger:  logger,
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			// Local-only control plane; the listener binds loopback.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.throttler = NewThrottler(rate, debounce, s.fanout)
	return s
}

// Run pumps state changes into the throttler until ctx is done.
func (s *Server) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.throttler.Stop()
			s.closeAll()
			return
		case <-s.state.Changes():
			s.throttler.Request(s.state.Current())
		}
	}
}

// ForceBroadcast pushes the current snapshot immediately.
func (s *Server) ForceBroadcast() {
	s.throttler.Force(s.state.Current())
}

// ClientCount reports connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ServeHTTP upgrades the connection and runs the read loop.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws_upgrade_failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		id:          uuid.NewString(),
		connectedAt: time.Now(),
		conn:        conn,
		send:        make(chan any, 16),
		done:        make(chan struct{}),
	}
	s.register(c)
	go s.writeLoop(c)
	s.readLoop(r.Context(), c)
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.logger.Info("ws_client_connected", slog.String("client", c.id))
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c.id)
	s.mu.Unlock()

	c.closeOnce.Do(func() { close(c.done) })
	_ = c.conn.Close()
	s.logger.Info("ws_client_disconnected", slog.String("client", c.id))
}

func (s *Server) closeAll() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		s.unregister(c)
	}
}

func (s *Server) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, c *client) {
	defer s.unregister(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var req request
		if err := json.Unmarshal(data, &req); err != nil || req.Type == "" {
			s.deliver(c, errorFrame{
				Type:    TypeError,
				Code:    CodeInvalidMessage,
				Message: "frame is not a JSON object with a type field",
			})
			continue
		}
		s.handle(ctx, c, req)
	}
}

// deliver queues a frame for one client, dropping it if the client's
// writer is wedged.
func (s *Server) deliver(c *client, msg any) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		s.logger.Warn("ws_frame_dropped", slog.String("client", c.id))
	}
}

// fanout pushes a snapshot frame to every client.
func (s *Server) fanout(snap *fmdm.Snapshot) {
	frame := snapshotFrame{Type: TypeSnapshot, Snapshot: snap}
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		s.deliver(c, frame)
	}
}

// handle runs one message to completion. Protocol errors answer on the
// same connection; nothing here closes it.
func (s *Server) handle(ctx context.Context, c *client, req request) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("ws_handler_panic",
				slog.String("type", req.Type),
				slog.Any("panic", r))
			s.deliver(c, errorFrame{
				Type:    TypeError,
				ID:      req.ID,
				Code:    CodeInternalError,
				Message: "internal error",
			})
		}
	}()

	switch req.Type {
	case TypeConnectionInit:
		c.clientType = req.ClientType
		s.deliver(c, ackFrame{
			Type:     TypeConnectionAck,
			ID:       req.ID,
			ClientID: c.id,
			Version:  version.Version,
		})
		// Full snapshot right behind the ack, bypassing the throttler.
		s.deliver(c, snapshotFrame{Type: TypeSnapshot, Snapshot: s.state.Current()})

	case TypePing:
		s.deliver(c, pongFrame{Type: TypePong, ID: req.ID})

	case TypeFolderValidate:
		err := s.ctrl.ValidateFolder(ctx, req.Path, req.Model)
		s.deliver(c, s.result(req, err, nil, nil))

	case TypeFolderAdd:
		warnings, err := s.ctrl.AddFolder(ctx, req.Path, req.Model)
		s.deliver(c, s.result(req, err, warnings, nil))
		if err == nil {
			s.ForceBroadcast()
		}

	case TypeFolderRemove:
		err := s.ctrl.RemoveFolder(ctx, req.Path)
		s.deliver(c, s.result(req, err, nil, nil))
		if err == nil {
			s.ForceBroadcast()
		}

	case TypeModelsList:
		s.deliver(c, s.result(req, nil, nil, modelsListData{Models: model.Catalog()}))

	case TypeModelsRecommend:
		hw := s.state.Current().Hardware
		s.deliver(c, s.result(req, nil, nil, recommendData{Model: model.Recommend(req.Languages, hw)}))

	case TypeFoldersConfig:
		s.deliver(c, s.result(req, nil, nil, map[string][]FolderEntry{"folders": s.ctrl.FoldersConfig()}))

	case TypeServerInfo:
		info := s.ctrl.ServerInfo()
		info.ClientCount = s.ClientCount()
		s.deliver(c, s.result(req, nil, nil, info))

	case TypeFolderInfo:
		info, err := s.ctrl.FolderInfo(ctx, req.Path)
		s.deliver(c, s.result(req, err, nil, info))

	default:
		s.deliver(c, errorFrame{
			Type:           TypeError,
			ID:             req.ID,
			Code:           CodeUnknownMessageType,
			Message:        "unknown message type: " + req.Type,
			SupportedTypes: supportedTypes,
		})
	}
}

// result builds the reply frame for a command message.
func (s *Server) result(req request, err error, warnings []string, data any) resultFrame {
	frame := resultFrame{
		Type:     req.Type + ".response",
		ID:       req.ID,
		Success:  err == nil,
		Warnings: warnings,
	}
	if err != nil {
		code := errors.GetCode(err)
		if code == "" {
			code = CodeInternalError
		}
		frame.Error = &resultError{Code: code, Message: err.Error()}
		return frame
	}
	if data != nil {
		raw, marshalErr := json.Marshal(data)
		if marshalErr != nil {
			frame.Success = false
			frame.Error = &resultError{Code: CodeInternalError, Message: "failed to encode reply"}
			return frame
		}
		frame.Data = raw
	}
	return frame
}
