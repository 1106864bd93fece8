package protocol

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/corpusmcp/internal/logging"
	"github.com/fyrsmithlabs/corpusmcp/internal/mcpsession"
	"github.com/fyrsmithlabs/corpusmcp/internal/promptregistry"
	"github.com/fyrsmithlabs/corpusmcp/internal/toolregistry"
	"go.uber.org/zap"
)

// Session is an alias for the session state mcpsession.Manager hands
// back; kept as a local name so handler signatures in this file read
// clearly without a package qualifier on every line.
type Session = mcpsession.Session

// Tools is the subset of toolregistry.Registry the engine dispatches
// tools/call and tools/list against.
type Tools interface {
	List() []toolregistry.Tool
	Get(name string) (toolregistry.Tool, bool)
	Invoke(ctx context.Context, name string, args json.RawMessage) (interface{}, error)
}

// Prompts is the subset of promptregistry.Registry the engine dispatches
// prompts/list and prompts/get against.
type Prompts interface {
	List() []promptregistry.Prompt
	Render(name string, args map[string]string) (promptregistry.Rendered, error)
}

// Engine routes JSON-RPC requests to the appropriate MCP method handler.
// It has no knowledge of transport; stdio and the streaming HTTP
// transport both call Handle with a decoded Request and get back a
// Response to serialize however fits the wire format.
type Engine struct {
	versions []string // supported, newest first
	tools    Tools
	prompts  Prompts
	logger   *logging.Logger
}

// NewEngine builds an Engine over the given tool and prompt catalogs,
// offering SupportedProtocolVersions during negotiation.
func NewEngine(tools Tools, prompts Prompts, logger *logging.Logger) *Engine {
	return &Engine{versions: SupportedProtocolVersions, tools: tools, prompts: prompts, logger: logger}
}

// negotiateVersion accepts the client's requested protocol version when
// it is one of e.versions. A client that omits the field gets the
// engine's preferred (newest) version; a client that names a version
// not in e.versions is rejected.
func (e *Engine) negotiateVersion(requested string) (string, error) {
	if requested == "" {
		return e.versions[0], nil
	}
	for _, v := range e.versions {
		if v == requested {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: client requested %q, server supports %v", ErrUnsupportedProtocolVersion, requested, e.versions)
}

// Handle dispatches a single request against session state, returning the
// Response to send (nil for notifications). Initialization is enforced
// here: every method but "initialize" requires sess.Initialized, except
// the "initialized" notification that follows a handled "initialize".
func (e *Engine) Handle(ctx context.Context, sess *Session, req Request) *Response {
	if sess != nil && sess.ID != "" {
		ctx = logging.WithSessionID(ctx, sess.ID)
	}

	if req.JSONRPC != "2.0" {
		resp := NewError(req.ID, ErrCodeInvalidRequest, "jsonrpc must be \"2.0\"", nil)
		return &resp
	}

	handshakeAck := (req.Method == "initialized" || req.Method == "notifications/initialized") && sess.InitializeSeen
	if req.Method != "initialize" && !sess.Initialized && !handshakeAck {
		if req.IsNotification() {
			return nil
		}
		resp := NewError(req.ID, CodeForError(ErrNotInitialized), "session is not initialized", nil)
		return &resp
	}

	var resp Response
	var err error

	switch req.Method {
	case "initialize":
		resp, err = e.handleInitialize(sess, req)
	case "initialized", "notifications/initialized":
		// Notification acknowledging handshake completion; no response.
		sess.Initialized = true
		return nil
	case "ping":
		resp = NewResult(req.ID, map[string]interface{}{})
	case "tools/list":
		resp, err = e.handleToolsList(req)
	case "tools/call":
		resp, err = e.handleToolsCall(ctx, req)
	case "prompts/list":
		resp, err = e.handlePromptsList(req)
	case "prompts/get":
		resp, err = e.handlePromptsGet(req)
	default:
		resp = NewError(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}

	if err != nil {
		if e.logger != nil {
			e.logger.Error(ctx, "method handler failed", zap.String("method", req.Method), zap.Error(err))
		}
		resp = NewDomainError(req.ID, err)
	}

	if req.IsNotification() {
		return nil
	}
	return &resp
}

type initializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	ClientInfo      json.RawMessage `json:"clientInfo"`
	Capabilities    json.RawMessage `json:"capabilities"`
}

type initializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	ServerInfo      serverInfo             `json:"serverInfo"`
	Capabilities    map[string]interface{} `json:"capabilities"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (e *Engine) handleInitialize(sess *Session, req Request) (Response, error) {
	if sess.InitializeSeen {
		return Response{}, ErrAlreadyInitialized
	}

	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return Response{}, fmt.Errorf("invalid initialize params: %w", err)
		}
	}

	negotiated, err := e.negotiateVersion(params.ProtocolVersion)
	if err != nil {
		return Response{}, err
	}

	sess.InitializeSeen = true
	sess.ProtocolVer = negotiated
	sess.ClientInfo = params.ClientInfo

	return NewResult(req.ID, initializeResult{
		ProtocolVersion: negotiated,
		ServerInfo:      serverInfo{Name: "corpusmcp", Version: "1.0.0"},
		Capabilities: map[string]interface{}{
			"tools":   map[string]interface{}{"listChanged": false},
			"prompts": map[string]interface{}{"listChanged": false},
		},
	}), nil
}

func (e *Engine) handleToolsList(req Request) (Response, error) {
	return NewResult(req.ID, map[string]interface{}{"tools": e.tools.List()}), nil
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (e *Engine) handleToolsCall(ctx context.Context, req Request) (Response, error) {
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return Response{}, fmt.Errorf("%w: tools/call params: %w", toolregistry.ErrInvalidArguments, err)
	}

	if _, ok := e.tools.Get(params.Name); !ok {
		return Response{}, fmt.Errorf("%w: %q", toolregistry.ErrUnknownTool, params.Name)
	}

	result, err := e.tools.Invoke(ctx, params.Name, params.Arguments)
	if err != nil {
		return Response{}, err
	}

	return NewResult(req.ID, map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": toText(result)},
		},
		"isError": false,
	}), nil
}

func (e *Engine) handlePromptsList(req Request) (Response, error) {
	return NewResult(req.ID, map[string]interface{}{"prompts": e.prompts.List()}), nil
}

type promptsGetParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments"`
}

func (e *Engine) handlePromptsGet(req Request) (Response, error) {
	var params promptsGetParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return Response{}, fmt.Errorf("%w: prompts/get params: %w", promptregistry.ErrInvalidArguments, err)
	}

	rendered, err := e.prompts.Render(params.Name, params.Arguments)
	if err != nil {
		return Response{}, err
	}

	return NewResult(req.ID, rendered), nil
}

func toText(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
