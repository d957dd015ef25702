// Package ws serves the daemon's WebSocket control protocol: folder
// management, model catalog queries, liveness, and the throttled fan-out
// of state snapshots to connected UI clients.
package ws

import (
	"encoding/json"

	"github.com/folder-mcp/foldermcp/internal/fmdm"
	"github.com/folder-mcp/foldermcp/internal/model"
	"github.com/folder-mcp/foldermcp/internal/store"
)

// Inbound message types. Anything else is rejected with
// UNKNOWN_MESSAGE_TYPE.
const (
	TypeConnectionInit  = "connection.init"
	TypeFolderValidate  = "folder.validate"
	TypeFolderAdd       = "folder.add"
	TypeFolderRemove    = "folder.remove"
	TypePing            = "ping"
	TypeModelsList      = "models.list"
	TypeModelsRecommend = "models.recommend"
	TypeFoldersConfig   = "getFoldersConfig"
	TypeServerInfo      = "get_server_info"
	TypeFolderInfo      = "get_folder_info"
)

// Outbound message types.
const (
	TypeConnectionAck = "connection.ack"
	TypePong          = "pong"
	TypeSnapshot      = "fmdm.update"
	TypeError         = "error"
)

// Protocol error codes carried in error frames.
const (
	CodeUnknownMessageType = "UNKNOWN_MESSAGE_TYPE"
	CodeInvalidMessage     = "INVALID_MESSAGE"
	CodeInternalError      = "INTERNAL_ERROR"
)

// supportedTypes is advertised in UNKNOWN_MESSAGE_TYPE replies.
var supportedTypes = []string{
	TypeConnectionInit,
	TypeFolderValidate,
	TypeFolderAdd,
	TypeFolderRemove,
	TypePing,
	TypeModelsList,
	TypeModelsRecommend,
	TypeFoldersConfig,
	TypeServerInfo,
	TypeFolderInfo,
}

// request is the inbound frame. Fields beyond type and id are
// message-specific and optional.
type request struct {
	Type       string   `json:"type"`
	ID         string   `json:"id,omitempty"`
	ClientType string   `json:"clientType,omitempty"`
	Path       string   `json:"path,omitempty"`
	Model      string   `json:"model,omitempty"`
	Languages  []string `json:"languages,omitempty"`
}

// errorFrame is the error envelope.
type errorFrame struct {
	Type           string   `json:"type"`
	ID             string   `json:"id,omitempty"`
	Code           string   `json:"code"`
	Message        string   `json:"message"`
	SupportedTypes []string `json:"supportedTypes,omitempty"`
}

// ackFrame answers connection.init.
type ackFrame struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	ClientID string `json:"clientId"`
	Version  string `json:"version"`
}

type pongFrame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// resultFrame answers command messages: type mirrors the request's type
// with a ".response" suffix.
type resultFrame struct {
	Type     string          `json:"type"`
	ID       string          `json:"id,omitempty"`
	Success  bool            `json:"success"`
	Error    *resultError    `json:"error,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type resultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// snapshotFrame pushes the fleet state.
type snapshotFrame struct {
	Type     string         `json:"type"`
	Snapshot *fmdm.Snapshot `json:"fmdm"`
}

// modelsListData answers models.list.
type modelsListData struct {
	Models []model.Info `json:"models"`
}

// recommendData answers models.recommend.
type recommendData struct {
	Model model.Info `json:"model"`
}

// FolderEntry is one entry of the getFoldersConfig reply.
type FolderEntry struct {
	Path  string `json:"path"`
	Model string `json:"model"`
}

// ServerInfo answers get_server_info.
type ServerInfo struct {
	Version     string         `json:"version"`
	PID         int            `json:"pid"`
	UptimeSec   int64          `json:"uptimeSec"`
	FolderCount int            `json:"folderCount"`
	ClientCount int            `json:"clientCount"`
	Hardware    model.Hardware `json:"hardware"`
}

// FolderInfo answers get_folder_info.
type FolderInfo struct {
	Path   string             `json:"path"`
	Model  string             `json:"model"`
	Status fmdm.FolderStatus  `json:"status"`
	Stats  *store.FolderStats `json:"stats,omitempty"`
}
