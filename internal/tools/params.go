package tools

import "github.com/zhubert/windbg-mcp/internal/errors"

// OpenDumpParams are the arguments for open_windbg_dump.
type OpenDumpParams struct {
	DumpPath          string `json:"dump_path"`
	IncludeStackTrace bool   `json:"include_stack_trace"`
	IncludeModules    bool   `json:"include_modules"`
	IncludeThreads    bool   `json:"include_threads"`
}

// OpenRemoteParams are the arguments for open_windbg_remote.
type OpenRemoteParams struct {
	ConnectionString  string `json:"connection_string"`
	IncludeStackTrace bool   `json:"include_stack_trace"`
	IncludeModules    bool   `json:"include_modules"`
	IncludeThreads    bool   `json:"include_threads"`
}

// RunCmdParams are the arguments for run_windbg_cmd. Exactly one of
// DumpPath and ConnectionString selects the target session.
type RunCmdParams struct {
	DumpPath         string `json:"dump_path"`
	ConnectionString string `json:"connection_string"`
	Command          string `json:"command"`
}

// Validate enforces the mutual exclusion between dump_path and
// connection_string.
func (p *RunCmdParams) Validate() error {
	switch {
	case p.DumpPath == "" && p.ConnectionString == "":
		return errors.InvalidParams("either dump_path or connection_string must be provided")
	case p.DumpPath != "" && p.ConnectionString != "":
		return errors.InvalidParams("dump_path and connection_string cannot both be provided")
	}
	if p.Command == "" {
		return errors.InvalidParams("command must not be empty")
	}
	return nil
}

// CloseDumpParams are the arguments for close_windbg_dump.
type CloseDumpParams struct {
	DumpPath string `json:"dump_path"`
}

// CloseRemoteParams are the arguments for close_windbg_remote.
type CloseRemoteParams struct {
	ConnectionString string `json:"connection_string"`
}

// ListDumpsParams are the arguments for list_windbg_dumps.
type ListDumpsParams struct {
	DirectoryPath string `json:"directory_path"`
	Recursive     bool   `json:"recursive"`
}
