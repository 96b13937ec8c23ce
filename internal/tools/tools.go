// Package tools implements the debugger tools exposed over MCP: opening
// crash dumps and remote targets, running arbitrary CDB commands, closing
// sessions, and listing dump files.
package tools

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zhubert/windbg-mcp/internal/cdb"
	"github.com/zhubert/windbg-mcp/internal/dumps"
	"github.com/zhubert/windbg-mcp/internal/errors"
	"github.com/zhubert/windbg-mcp/internal/logger"
	"github.com/zhubert/windbg-mcp/internal/mcp"
	"github.com/zhubert/windbg-mcp/internal/session"
)

// Handler dispatches MCP tool calls onto a session registry.
type Handler struct {
	reg *session.Registry
	log *slog.Logger
}

// NewHandler creates a tool handler backed by the given registry.
func NewHandler(reg *session.Registry) *Handler {
	return &Handler{
		reg: reg,
		log: logger.ComponentLogger("tools"),
	}
}

// List returns the definitions of every tool the handler serves.
func (h *Handler) List() []mcp.ToolDefinition {
	return []mcp.ToolDefinition{
		{
			Name:        "open_windbg_dump",
			Description: "Open and analyze Windows crash dump files",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"dump_path": {
						Type:        "string",
						Description: "Path to the dump file",
					},
					"include_stack_trace": {
						Type:        "boolean",
						Description: "Whether to include stack trace",
						Default:     false,
					},
					"include_modules": {
						Type:        "boolean",
						Description: "Whether to include module list",
						Default:     false,
					},
					"include_threads": {
						Type:        "boolean",
						Description: "Whether to include thread list",
						Default:     false,
					},
				},
				Required: []string{"dump_path"},
			},
		},
		{
			Name:        "open_windbg_remote",
			Description: "Connect to a remote debugging session",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"connection_string": {
						Type:        "string",
						Description: "Remote connection string (e.g., tcp:Port=5005,Server=192.168.0.100)",
					},
					"include_stack_trace": {
						Type:        "boolean",
						Description: "Whether to include stack trace",
						Default:     false,
					},
					"include_modules": {
						Type:        "boolean",
						Description: "Whether to include module list",
						Default:     false,
					},
					"include_threads": {
						Type:        "boolean",
						Description: "Whether to include thread list",
						Default:     false,
					},
				},
				Required: []string{"connection_string"},
			},
		},
		{
			Name:        "run_windbg_cmd",
			Description: "Execute WinDbg commands in an existing session",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"dump_path": {
						Type:        "string",
						Description: "Dump file path (mutually exclusive with connection_string)",
					},
					"connection_string": {
						Type:        "string",
						Description: "Remote connection string (mutually exclusive with dump_path)",
					},
					"command": {
						Type:        "string",
						Description: "WinDbg command to execute",
					},
				},
				Required: []string{"command"},
			},
		},
		{
			Name:        "close_windbg_dump",
			Description: "Close a dump file session",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"dump_path": {
						Type:        "string",
						Description: "Path to the dump file to close",
					},
				},
				Required: []string{"dump_path"},
			},
		},
		{
			Name:        "close_windbg_remote",
			Description: "Close a remote debugging session",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"connection_string": {
						Type:        "string",
						Description: "Remote connection string to close",
					},
				},
				Required: []string{"connection_string"},
			},
		},
		{
			Name:        "list_windbg_dumps",
			Description: "List dump files in a directory",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"directory_path": {
						Type:        "string",
						Description: "Directory path to search (optional, defaults to system dump directory)",
					},
					"recursive": {
						Type:        "boolean",
						Description: "Whether to recursively search subdirectories",
						Default:     false,
					},
				},
			},
		},
	}
}

// Call dispatches a tool call by name.
func (h *Handler) Call(name string, args json.RawMessage) (string, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	switch name {
	case "open_windbg_dump":
		return h.openDump(args)
	case "open_windbg_remote":
		return h.openRemote(args)
	case "run_windbg_cmd":
		return h.runCmd(args)
	case "close_windbg_dump":
		return h.closeDump(args)
	case "close_windbg_remote":
		return h.closeRemote(args)
	case "list_windbg_dumps":
		return h.listDumps(args)
	default:
		return "", fmt.Errorf("%w: %s", mcp.ErrUnknownTool, name)
	}
}

func (h *Handler) openDump(args json.RawMessage) (string, error) {
	var p OpenDumpParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", errors.InvalidParams(err.Error())
	}
	if p.DumpPath == "" {
		return "", errors.InvalidParams("dump_path must not be empty")
	}

	h.log.Info("opening dump file", "path", p.DumpPath)

	handle, err := h.reg.GetOrCreateDumpSession(p.DumpPath, nil)
	if err != nil {
		return "", err
	}
	defer handle.Release()

	sess := handle.Session()
	lines := []string{fmt.Sprintf("# Crash Dump Analysis: %s", p.DumpPath), ""}
	lines = appendSection(lines, sess, "## Last Event", ".lastevent")
	lines = appendSection(lines, sess, "## Detailed Analysis", "!analyze -v")
	if p.IncludeStackTrace {
		lines = appendSection(lines, sess, "## Stack Trace", "kb")
	}
	if p.IncludeModules {
		lines = appendSection(lines, sess, "## Loaded Modules", "lm")
	}
	if p.IncludeThreads {
		lines = appendSection(lines, sess, "## Thread List", "~")
	}

	h.log.Info("dump analysis completed", "path", p.DumpPath)
	return strings.Join(lines, "\n"), nil
}

func (h *Handler) openRemote(args json.RawMessage) (string, error) {
	var p OpenRemoteParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", errors.InvalidParams(err.Error())
	}
	if p.ConnectionString == "" {
		return "", errors.InvalidParams("connection_string must not be empty")
	}

	h.log.Info("connecting to remote target", "connection", p.ConnectionString)

	handle, err := h.reg.GetOrCreateRemoteSession(p.ConnectionString, nil)
	if err != nil {
		return "", err
	}
	defer handle.Release()

	sess := handle.Session()
	lines := []string{fmt.Sprintf("# Remote Debugging Session: %s", p.ConnectionString), ""}
	lines = appendSection(lines, sess, "## Process Environment Block (PEB)", "!peb")
	lines = appendSection(lines, sess, "## Registers", "r")
	if p.IncludeStackTrace {
		lines = appendSection(lines, sess, "## Stack Trace", "kb")
	}
	if p.IncludeModules {
		lines = appendSection(lines, sess, "## Loaded Modules", "lm")
	}
	if p.IncludeThreads {
		lines = appendSection(lines, sess, "## Thread List", "~")
	}

	h.log.Info("remote session connected", "connection", p.ConnectionString)
	return strings.Join(lines, "\n"), nil
}

// appendSection runs a command and appends its output as a fenced markdown
// section. Command failures are reported inline rather than aborting the
// whole analysis.
func appendSection(lines []string, sess *cdb.Session, title, command string) []string {
	lines = append(lines, title, "```")
	out, err := sess.SendCommand(command)
	if err != nil {
		lines = append(lines, fmt.Sprintf("Error: %v", err))
	} else {
		lines = append(lines, out...)
	}
	return append(lines, "```", "")
}

func (h *Handler) runCmd(args json.RawMessage) (string, error) {
	var p RunCmdParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", errors.InvalidParams(err.Error())
	}
	if err := p.Validate(); err != nil {
		return "", err
	}

	h.log.Info("executing command", "command", p.Command)

	var (
		handle *session.Handle
		err    error
	)
	if p.DumpPath != "" {
		handle, err = h.reg.GetOrCreateDumpSession(p.DumpPath, nil)
	} else {
		handle, err = h.reg.GetOrCreateRemoteSession(p.ConnectionString, nil)
	}
	if err != nil {
		return "", err
	}
	defer handle.Release()

	out, err := handle.Session().SendCommand(p.Command)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("```\n%s\n```", strings.Join(out, "\n")), nil
}

func (h *Handler) closeDump(args json.RawMessage) (string, error) {
	var p CloseDumpParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", errors.InvalidParams(err.Error())
	}
	if p.DumpPath == "" {
		return "", errors.InvalidParams("dump_path must not be empty")
	}

	h.log.Info("closing dump session", "path", p.DumpPath)

	if err := h.reg.CloseSession(session.DumpKey(p.DumpPath)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Dump file session closed: %s", p.DumpPath), nil
}

func (h *Handler) closeRemote(args json.RawMessage) (string, error) {
	var p CloseRemoteParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", errors.InvalidParams(err.Error())
	}
	if p.ConnectionString == "" {
		return "", errors.InvalidParams("connection_string must not be empty")
	}

	h.log.Info("closing remote session", "connection", p.ConnectionString)

	if err := h.reg.CloseSession(p.ConnectionString); err != nil {
		return "", err
	}
	return fmt.Sprintf("Remote debugging session closed: %s", p.ConnectionString), nil
}

func (h *Handler) listDumps(args json.RawMessage) (string, error) {
	var p ListDumpsParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", errors.InvalidParams(err.Error())
	}

	dir := p.DirectoryPath
	if dir == "" {
		var err error
		dir, err = dumps.DefaultDir()
		if err != nil {
			return "", err
		}
	}

	h.log.Info("listing dump files", "dir", dir, "recursive", p.Recursive)

	files, err := dumps.Find(dir, p.Recursive)
	if err != nil {
		return "", err
	}

	lines := []string{fmt.Sprintf("# Dump File List: %s", dir), ""}
	if len(files) == 0 {
		lines = append(lines, "No dump files found.")
	} else {
		lines = append(lines, fmt.Sprintf("Found %d dump files:", len(files)), "")
		for i, f := range files {
			sizeMB := float64(f.SizeBytes) / 1024.0 / 1024.0
			lines = append(lines, fmt.Sprintf("%d. %s (%.2f MB)", i+1, f.Path, sizeMB))
		}
	}

	return strings.Join(lines, "\n"), nil
}
