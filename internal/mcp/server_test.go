package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

// fakeToolset records calls and returns canned responses.
type fakeToolset struct {
	calls []string
	text  string
	err   error
}

func (f *fakeToolset) List() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "open_windbg_dump",
			Description: "Analyze a crash dump",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"dump_path": {Type: "string", Description: "Path to the dump file"},
				},
				Required: []string{"dump_path"},
			},
		},
	}
}

func (f *fakeToolset) Call(name string, args json.RawMessage) (string, error) {
	f.calls = append(f.calls, name)
	if name == "no_such_tool" {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return f.text, f.err
}

// runServer feeds the given lines to a server and returns the decoded
// responses in order.
func runServer(t *testing.T, tools Toolset, lines ...string) []JSONRPCResponse {
	t.Helper()

	input := strings.Join(lines, "\n") + "\n"
	var out bytes.Buffer

	srv := NewServer(strings.NewReader(input), &out, tools)
	if err := srv.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var responses []JSONRPCResponse
	dec := json.NewDecoder(&out)
	for dec.More() {
		var resp JSONRPCResponse
		if err := dec.Decode(&resp); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		responses = append(responses, resp)
	}
	return responses
}

func TestInitialize(t *testing.T) {
	resps := runServer(t, &fakeToolset{},
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"0.1"}}}`)

	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1", len(resps))
	}
	resp := resps[0]
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result type = %T, want object", resp.Result)
	}
	if got := result["protocolVersion"]; got != ProtocolVersion {
		t.Errorf("protocolVersion = %v, want %s", got, ProtocolVersion)
	}
	info, ok := result["serverInfo"].(map[string]interface{})
	if !ok {
		t.Fatalf("serverInfo missing from result")
	}
	if got := info["name"]; got != ServerName {
		t.Errorf("serverInfo.name = %v, want %s", got, ServerName)
	}
}

func TestInitializedNotificationProducesNoResponse(t *testing.T) {
	resps := runServer(t, &fakeToolset{},
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	if len(resps) != 0 {
		t.Fatalf("got %d responses, want 0", len(resps))
	}
}

func TestToolsList(t *testing.T) {
	resps := runServer(t, &fakeToolset{},
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)

	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1", len(resps))
	}
	result, ok := resps[0].Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result type = %T, want object", resps[0].Result)
	}
	tools, ok := result["tools"].([]interface{})
	if !ok || len(tools) != 1 {
		t.Fatalf("tools = %v, want one definition", result["tools"])
	}
	def := tools[0].(map[string]interface{})
	if def["name"] != "open_windbg_dump" {
		t.Errorf("tool name = %v, want open_windbg_dump", def["name"])
	}
}

func TestToolsCall(t *testing.T) {
	tools := &fakeToolset{text: "analysis complete"}
	resps := runServer(t, tools,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"open_windbg_dump","arguments":{"dump_path":"C:\\crash.dmp"}}}`)

	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1", len(resps))
	}
	if len(tools.calls) != 1 || tools.calls[0] != "open_windbg_dump" {
		t.Fatalf("calls = %v, want [open_windbg_dump]", tools.calls)
	}

	result := resps[0].Result.(map[string]interface{})
	if isErr, _ := result["isError"].(bool); isErr {
		t.Fatalf("result marked as error: %v", result)
	}
	content := result["content"].([]interface{})
	item := content[0].(map[string]interface{})
	if item["text"] != "analysis complete" {
		t.Errorf("content text = %v, want %q", item["text"], "analysis complete")
	}
}

func TestToolsCallFailureBecomesErrorResult(t *testing.T) {
	tools := &fakeToolset{err: fmt.Errorf("session not found")}
	resps := runServer(t, tools,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"run_windbg_cmd","arguments":{}}}`)

	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1", len(resps))
	}
	if resps[0].Error != nil {
		t.Fatalf("tool failure produced protocol error: %+v", resps[0].Error)
	}
	result := resps[0].Result.(map[string]interface{})
	if isErr, _ := result["isError"].(bool); !isErr {
		t.Fatalf("result not marked as error: %v", result)
	}
	content := result["content"].([]interface{})
	item := content[0].(map[string]interface{})
	if item["text"] != "session not found" {
		t.Errorf("content text = %v, want error message", item["text"])
	}
}

func TestToolsCallUnknownTool(t *testing.T) {
	resps := runServer(t, &fakeToolset{},
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"no_such_tool","arguments":{}}}`)

	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1", len(resps))
	}
	if resps[0].Error == nil {
		t.Fatalf("expected protocol error, got result %v", resps[0].Result)
	}
	if resps[0].Error.Code != -32602 {
		t.Errorf("error code = %d, want -32602", resps[0].Error.Code)
	}
}

func TestUnknownMethod(t *testing.T) {
	resps := runServer(t, &fakeToolset{},
		`{"jsonrpc":"2.0","id":6,"method":"resources/list"}`)

	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1", len(resps))
	}
	if resps[0].Error == nil || resps[0].Error.Code != -32601 {
		t.Fatalf("error = %+v, want code -32601", resps[0].Error)
	}
}

func TestParseError(t *testing.T) {
	resps := runServer(t, &fakeToolset{},
		`{not json`,
		`{"jsonrpc":"2.0","id":7,"method":"tools/list"}`)

	if len(resps) != 2 {
		t.Fatalf("got %d responses, want 2", len(resps))
	}
	if resps[0].Error == nil || resps[0].Error.Code != -32700 {
		t.Fatalf("first response = %+v, want parse error", resps[0].Error)
	}
	if resps[1].Error != nil {
		t.Fatalf("server did not recover after parse error: %+v", resps[1].Error)
	}
}

func TestBlankLinesSkipped(t *testing.T) {
	resps := runServer(t, &fakeToolset{},
		``,
		`   `,
		`{"jsonrpc":"2.0","id":8,"method":"tools/list"}`)

	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1", len(resps))
	}
}
