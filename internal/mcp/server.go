// Package mcp implements the MCP protocol server: line-delimited JSON-RPC
// 2.0 over standard streams, exposing the debugger toolset to MCP clients.
package mcp

import (
	"bufio"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/zhubert/windbg-mcp/internal/logger"
)

// ErrUnknownTool is returned by a Toolset when tools/call names a tool it
// does not provide. The server reports it as an invalid-params error.
var ErrUnknownTool = stderrors.New("unknown tool")

const (
	ProtocolVersion = "2024-11-05"
	ServerName      = "windbg-mcp"
	ServerVersion   = "1.0.0"
)

// Toolset is the tool layer the server dispatches tools/call to.
type Toolset interface {
	// List returns the tool definitions advertised by tools/list.
	List() []ToolDefinition
	// Call executes the named tool. The returned text becomes the tool
	// result; an error becomes a failed (isError) result.
	Call(name string, args json.RawMessage) (string, error)
}

// Server implements the MCP server loop over a reader/writer pair,
// typically stdin/stdout.
type Server struct {
	reader *bufio.Reader
	writer io.Writer
	tools  Toolset
	mu     sync.Mutex // guards writer
	log    *slog.Logger
}

// NewServer creates a new MCP server
func NewServer(r io.Reader, w io.Writer, tools Toolset) *Server {
	return &Server{
		reader: bufio.NewReader(r),
		writer: w,
		tools:  tools,
		log:    logger.ComponentLogger("mcp"),
	}
}

// Run starts the MCP server loop. It returns nil when the client closes
// the stream.
func (s *Server) Run() error {
	s.log.Info("server starting")

	for {
		line, err := s.reader.ReadString('\n')
		if err == io.EOF {
			s.log.Info("EOF received, shutting down")
			return nil
		}
		if err != nil {
			s.log.Error("read error", "error", err)
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		s.log.Debug("received message", "line", line)

		var req JSONRPCRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.log.Error("JSON parse error", "error", err)
			s.sendError(nil, -32700, "Parse error", nil)
			continue
		}

		s.handleRequest(&req)
	}
}

func (s *Server) handleRequest(req *JSONRPCRequest) {
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "initialized", "notifications/initialized":
		// Notification, no response needed
		s.log.Debug("initialized notification received")
	case "tools/list":
		s.handleToolsList(req)
	case "tools/call":
		s.handleToolsCall(req)
	default:
		s.log.Warn("unknown method", "method", req.Method)
		s.sendError(req.ID, -32601, "Method not found", nil)
	}
}

func (s *Server) handleInitialize(req *JSONRPCRequest) {
	result := InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: Capability{
			Tools: &ToolCapability{},
		},
		ServerInfo: ServerInfo{
			Name:    ServerName,
			Version: ServerVersion,
		},
		Instructions: "This server analyzes Windows crash dumps and remote debugging targets through CDB.",
	}

	s.sendResult(req.ID, result)
}

func (s *Server) handleToolsList(req *JSONRPCRequest) {
	s.sendResult(req.ID, ToolsListResult{Tools: s.tools.List()})
}

func (s *Server) handleToolsCall(req *JSONRPCRequest) {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.log.Error("failed to parse tool call params", "error", err)
		s.sendError(req.ID, -32602, "Invalid params", nil)
		return
	}

	s.log.Info("tool call", "tool", params.Name)

	text, err := s.tools.Call(params.Name, params.Arguments)
	if stderrors.Is(err, ErrUnknownTool) {
		s.sendError(req.ID, -32602, "Unknown tool: "+params.Name, nil)
		return
	}
	if err != nil {
		// Tool failures are results, not protocol errors: the client reads
		// them as failed tool output rather than a broken server.
		s.log.Warn("tool call failed", "tool", params.Name, "error", err)
		s.sendResult(req.ID, ErrorResult(err.Error()))
		return
	}

	s.sendResult(req.ID, TextResult(text))
}

func (s *Server) sendResult(id interface{}, result interface{}) {
	s.send(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	})
}

func (s *Server) sendError(id interface{}, code int, message string, data interface{}) {
	s.send(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	})
}

func (s *Server) send(resp JSONRPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("failed to marshal response", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.writer.Write(append(data, '\n')); err != nil {
		s.log.Error("failed to write response", "error", err)
	}
}
