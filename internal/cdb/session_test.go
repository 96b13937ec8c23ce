package cdb

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/zhubert/windbg-mcp/internal/errors"
)

// fakeDebuggerBody is a POSIX shell stand-in for cdb.exe. It prints the
// readiness sentinel, then implements the ".echo" contract the framing
// protocol depends on, plus a few canned commands the tests exercise.
const fakeDebuggerBody = `echo CDB_READY
detach=$(printf '\002q')
while IFS= read -r line; do
	case "$line" in
		".echo "*) printf '%s\n' "${line#.echo }" ;;
		q|"$detach") exit 0 ;;
		.lastevent) printf 'Last event: Access violation - code c0000005\n  debugger time: Wed Aug 27 10:00:00 2026\n' ;;
		multiline) printf 'first\n\nthird   \n' ;;
		hang) sleep 10 ;;
		die) exit 1 ;;
	esac
done
`

// writeFakeDebugger writes a fake debugger script and returns its path.
// body defaults to fakeDebuggerBody.
func writeFakeDebugger(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake debugger requires a POSIX shell")
	}
	if body == "" {
		body = fakeDebuggerBody
	}
	path := filepath.Join(t.TempDir(), "cdb")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testOptions(exe string) Options {
	return Options{
		CDBPath:        exe,
		CommandTimeout: 5 * time.Second,
		StartupTimeout: 5 * time.Second,
	}
}

func TestDumpSessionSpawnArgs(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	exe := writeFakeDebugger(t, fmt.Sprintf("printf '%%s\\n' \"$@\" > %q\n%s", argsFile, fakeDebuggerBody))

	sess, err := NewDumpSession("crash.dmp", testOptions(exe))
	if err != nil {
		t.Fatalf("NewDumpSession failed: %v", err)
	}
	defer sess.Abandon()

	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"-z", "crash.dmp", "-c", ".echo CDB_READY"}
	got := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(got) != len(want) {
		t.Fatalf("args = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRemoteSessionSpawnArgs(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	exe := writeFakeDebugger(t, fmt.Sprintf("printf '%%s\\n' \"$@\" > %q\n%s", argsFile, fakeDebuggerBody))

	sess, err := NewRemoteSession("tcp:Port=5005,Server=192.168.0.100", testOptions(exe))
	if err != nil {
		t.Fatalf("NewRemoteSession failed: %v", err)
	}
	defer sess.Abandon()

	data, _ := os.ReadFile(argsFile)
	if !strings.HasPrefix(string(data), "-remote\ntcp:Port=5005,Server=192.168.0.100\n") {
		t.Errorf("unexpected args: %q", data)
	}
	if sess.Kind() != TargetRemote {
		t.Errorf("Kind = %v, want TargetRemote", sess.Kind())
	}
}

func TestSendCommandMultiLine(t *testing.T) {
	exe := writeFakeDebugger(t, "")
	sess, err := NewDumpSession("crash.dmp", testOptions(exe))
	if err != nil {
		t.Fatalf("NewDumpSession failed: %v", err)
	}
	defer sess.Abandon()

	// Scenario: the process emits two lines then the marker line.
	out, err := sess.SendCommand(".lastevent")
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	want := []string{
		"Last event: Access violation - code c0000005",
		"  debugger time: Wed Aug 27 10:00:00 2026",
	}
	if len(out) != len(want) {
		t.Fatalf("got %d lines %q, want %d", len(out), out, len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("line[%d] = %q, want %q", i, out[i], want[i])
		}
	}
}

func TestSendCommandEmptyOutput(t *testing.T) {
	exe := writeFakeDebugger(t, "")
	sess, err := NewDumpSession("crash.dmp", testOptions(exe))
	if err != nil {
		t.Fatalf("NewDumpSession failed: %v", err)
	}
	defer sess.Abandon()

	out, err := sess.SendCommand("unknown-command")
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected no output lines, got %q", out)
	}
}

func TestSendCommandPreservesBlankLinesAndTrimsRight(t *testing.T) {
	exe := writeFakeDebugger(t, "")
	sess, err := NewDumpSession("crash.dmp", testOptions(exe))
	if err != nil {
		t.Fatalf("NewDumpSession failed: %v", err)
	}
	defer sess.Abandon()

	out, err := sess.SendCommand("multiline")
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	want := []string{"first", "", "third"}
	if len(out) != len(want) {
		t.Fatalf("got %q, want %q", out, want)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("line[%d] = %q, want %q", i, out[i], want[i])
		}
	}
}

func TestSendCommandTimeout(t *testing.T) {
	exe := writeFakeDebugger(t, "")
	opts := testOptions(exe)
	opts.CommandTimeout = 200 * time.Millisecond

	sess, err := NewDumpSession("crash.dmp", opts)
	if err != nil {
		t.Fatalf("NewDumpSession failed: %v", err)
	}
	defer sess.Abandon()

	_, err = sess.SendCommand("hang")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, errors.KindTimeout) {
		t.Errorf("expected KindTimeout, got %v: %v", errors.GetKind(err), err)
	}
}

func TestSendCommandProcessDied(t *testing.T) {
	exe := writeFakeDebugger(t, "")
	sess, err := NewDumpSession("crash.dmp", testOptions(exe))
	if err != nil {
		t.Fatalf("NewDumpSession failed: %v", err)
	}
	defer sess.Abandon()

	_, err = sess.SendCommand("die")
	if err == nil {
		t.Fatal("expected error after process death")
	}
	if !errors.Is(err, errors.KindTerminated) {
		t.Errorf("expected KindTerminated, got %v: %v", errors.GetKind(err), err)
	}
}

func TestHandshakeEOF(t *testing.T) {
	exe := writeFakeDebugger(t, "exit 1\n")
	_, err := NewDumpSession("crash.dmp", testOptions(exe))
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if !errors.Is(err, errors.KindTerminated) {
		t.Errorf("expected KindTerminated, got %v: %v", errors.GetKind(err), err)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	exe := writeFakeDebugger(t, "sleep 10\n")
	opts := testOptions(exe)
	opts.StartupTimeout = 200 * time.Millisecond

	_, err := NewDumpSession("crash.dmp", opts)
	if err == nil {
		t.Fatal("expected handshake timeout")
	}
	if !errors.Is(err, errors.KindTimeout) {
		t.Errorf("expected KindTimeout, got %v: %v", errors.GetKind(err), err)
	}
}

func TestShutdownDumpSession(t *testing.T) {
	exe := writeFakeDebugger(t, "")
	sess, err := NewDumpSession("crash.dmp", testOptions(exe))
	if err != nil {
		t.Fatalf("NewDumpSession failed: %v", err)
	}

	state, err := sess.Shutdown()
	if err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if state == nil || state.ExitCode() != 0 {
		t.Errorf("expected clean exit, got %v", state)
	}
}

func TestShutdownRemoteSessionDetaches(t *testing.T) {
	exe := writeFakeDebugger(t, "")
	sess, err := NewRemoteSession("tcp:Port=5005", testOptions(exe))
	if err != nil {
		t.Fatalf("NewRemoteSession failed: %v", err)
	}

	// The fake exits 0 only for "q" or the detach byte + "q" sequence, so a
	// clean exit proves the remote quit sequence was understood.
	state, err := sess.Shutdown()
	if err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if state == nil || state.ExitCode() != 0 {
		t.Errorf("expected clean exit, got %v", state)
	}
}

func TestShutdownForceKillsOnGraceExpiry(t *testing.T) {
	// A debugger that ignores the quit command entirely.
	exe := writeFakeDebugger(t, "echo CDB_READY\nwhile IFS= read -r line; do :; done\nsleep 30\n")

	old := shutdownGrace
	shutdownGrace = 300 * time.Millisecond
	defer func() { shutdownGrace = old }()

	sess, err := NewDumpSession("crash.dmp", testOptions(exe))
	if err != nil {
		t.Fatalf("NewDumpSession failed: %v", err)
	}

	_, err = sess.Shutdown()
	if err == nil {
		t.Fatal("expected error when process ignores quit")
	}
	if !errors.Is(err, errors.KindTimeout) {
		t.Errorf("expected KindTimeout, got %v: %v", errors.GetKind(err), err)
	}
}

func TestSendCommandAfterShutdown(t *testing.T) {
	exe := writeFakeDebugger(t, "")
	sess, err := NewDumpSession("crash.dmp", testOptions(exe))
	if err != nil {
		t.Fatalf("NewDumpSession failed: %v", err)
	}
	if _, err := sess.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	_, err = sess.SendCommand("r")
	if !errors.Is(err, errors.KindTerminated) {
		t.Errorf("expected KindTerminated after shutdown, got %v", err)
	}
}

func TestSpawnMissingExecutable(t *testing.T) {
	opts := Options{CDBPath: filepath.Join(t.TempDir(), "nope")}
	_, err := NewDumpSession("crash.dmp", opts)
	if !errors.Is(err, errors.KindNotFound) {
		t.Errorf("expected KindNotFound, got %v", err)
	}
}

func TestSpawnNonExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}
	path := filepath.Join(t.TempDir(), "cdb")
	if err := os.WriteFile(path, []byte("not a program"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := NewDumpSession("crash.dmp", Options{CDBPath: path})
	if !errors.Is(err, errors.KindStartFailed) {
		t.Errorf("expected KindStartFailed, got %v", err)
	}
}

func TestConcurrentCommandsAreSerialized(t *testing.T) {
	exe := writeFakeDebugger(t, "")
	sess, err := NewDumpSession("crash.dmp", testOptions(exe))
	if err != nil {
		t.Fatalf("NewDumpSession failed: %v", err)
	}
	defer sess.Abandon()

	// Two goroutines racing the same session: the per-session lock must keep
	// each exchange intact, so both see their own complete output.
	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			for j := 0; j < 10; j++ {
				out, err := sess.SendCommand(".lastevent")
				if err != nil {
					done <- err
					return
				}
				if len(out) != 2 {
					done <- fmt.Errorf("interleaved output: %q", out)
					return
				}
			}
			done <- nil
		}()
	}
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}
}
