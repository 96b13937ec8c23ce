// Package cdb manages CDB debugger processes over their standard streams.
//
// A Session owns one spawned CDB process. Commands are framed with a
// freshly generated marker echoed by the debugger: the session writes the
// command plus an ".echo <marker>" line, then reads output lines until the
// marker appears. CDB's line-oriented output has no length framing, so the
// marker is the only reliable end-of-output signal.
package cdb

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhubert/windbg-mcp/internal/errors"
	"github.com/zhubert/windbg-mcp/internal/logger"
)

const (
	// readySentinel is printed by the initial -c command once CDB has
	// finished loading the target.
	readySentinel = "CDB_READY"

	// markerPrefix prefixes the per-command completion marker.
	markerPrefix = "WINDBG_MCP_MARKER_"

	// lineChanBuffer bounds the reader goroutine's line channel. Output
	// beyond the buffer backpressures the reader until a command drains it.
	lineChanBuffer = 256

	// DefaultCommandTimeout bounds a single command exchange.
	DefaultCommandTimeout = 30 * time.Second

	// DefaultStartupTimeout bounds the ready handshake. Loading symbols for
	// a large dump can take far longer than any single command.
	DefaultStartupTimeout = 120 * time.Second
)

// shutdownGrace is how long Shutdown waits for CDB to exit after the quit
// command before force-killing it. Deliberately independent of the command
// timeout. Variable so tests can shorten it.
var shutdownGrace = 5 * time.Second

// TargetKind distinguishes the two session target kinds, which differ in
// spawn arguments and shutdown sequence.
type TargetKind int

const (
	// TargetDump is a session opened against a crash dump file.
	TargetDump TargetKind = iota
	// TargetRemote is a session attached to a remote debugging target.
	TargetRemote
)

func (k TargetKind) String() string {
	switch k {
	case TargetDump:
		return "dump"
	case TargetRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Options configures a session spawn.
type Options struct {
	CDBPath        string // explicit cdb.exe path; empty means discover
	SymbolPath     string // _NT_SYMBOL_PATH for the child, empty to inherit
	CommandTimeout time.Duration
	StartupTimeout time.Duration
	Verbose        bool // log every CDB output line at debug level
}

func (o Options) withDefaults() Options {
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.StartupTimeout <= 0 {
		o.StartupTimeout = DefaultStartupTimeout
	}
	return o
}

// Session is one live CDB process plus its owned pipes. A session is reused
// across commands; command exchanges are serialized by an exclusive lock
// held for the full write+read span.
type Session struct {
	id   string
	kind TargetKind
	opts Options
	log  *slog.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	// lines carries output lines from the single reader goroutine. Closed
	// on EOF or read error; readErr holds the non-EOF cause, if any.
	lines     chan string
	readErrMu sync.Mutex
	readErr   error

	// waitDone is closed by monitorExit after cmd.Wait returns; waitState
	// and waitErr are written before the close.
	waitDone  chan struct{}
	waitState *os.ProcessState
	waitErr   error

	mu     sync.Mutex // serializes command exchanges and shutdown
	closed bool
}

// NewDumpSession spawns CDB against a crash dump file. The id is the path
// as given; the Registry canonicalizes it for keying.
func NewDumpSession(dumpPath string, opts Options) (*Session, error) {
	args := []string{"-z", dumpPath, "-c", ".echo " + readySentinel}
	return spawn(TargetDump, dumpPath, args, opts)
}

// NewRemoteSession spawns CDB attached to a remote target such as
// "tcp:Port=5005,Server=192.168.0.100".
func NewRemoteSession(connectionString string, opts Options) (*Session, error) {
	args := []string{"-remote", connectionString, "-c", ".echo " + readySentinel}
	return spawn(TargetRemote, connectionString, args, opts)
}

func spawn(kind TargetKind, id string, args []string, opts Options) (*Session, error) {
	opts = opts.withDefaults()

	exe, err := FindExecutable(opts.CDBPath)
	if err != nil {
		return nil, err
	}

	log := logger.WithSession(id).With("component", "cdb")
	log.Info("starting CDB", "exe", exe, "kind", kind.String())

	cmd := exec.Command(exe, args...)
	if opts.SymbolPath != "" {
		cmd.Env = append(os.Environ(), "_NT_SYMBOL_PATH="+opts.SymbolPath)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.ProcessStartFailed(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, errors.ProcessStartFailed(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, errors.ProcessStartFailed(err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, errors.ProcessStartFailed(err)
	}

	s := &Session{
		id:       id,
		kind:     kind,
		opts:     opts,
		log:      log,
		cmd:      cmd,
		stdin:    stdin,
		lines:    make(chan string, lineChanBuffer),
		waitDone: make(chan struct{}),
	}

	go s.readOutput(stdout)
	go s.drainStderr(stderr)
	go s.monitorExit()

	if err := s.waitForReady(); err != nil {
		s.Abandon()
		return nil, err
	}

	s.log.Info("CDB session ready", "pid", cmd.Process.Pid)
	return s, nil
}

// ID returns the session identifier (dump path or connection string).
func (s *Session) ID() string {
	return s.id
}

// Kind returns the session's target kind.
func (s *Session) Kind() TargetKind {
	return s.kind
}

// readOutput is the single reader of the stdout pipe. It feeds whole lines
// into s.lines and closes the channel on EOF or error.
func (s *Session) readOutput(stdout io.Reader) {
	r := bufio.NewReader(stdout)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			s.lines <- line
		}
		if err != nil {
			if err != io.EOF {
				s.readErrMu.Lock()
				s.readErr = err
				s.readErrMu.Unlock()
				s.log.Warn("stdout read error", "error", err)
			}
			close(s.lines)
			return
		}
	}
}

func (s *Session) readError() error {
	s.readErrMu.Lock()
	defer s.readErrMu.Unlock()
	return s.readErr
}

// drainStderr keeps the stderr pipe from filling up and blocking CDB.
func (s *Session) drainStderr(stderr io.Reader) {
	r := bufio.NewReader(stderr)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 && s.opts.Verbose {
			s.log.Debug("CDB stderr", "line", strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			return
		}
	}
}

// monitorExit is the sole caller of cmd.Wait. Shutdown selects on waitDone
// instead of calling Wait itself, which would be undefined behavior.
func (s *Session) monitorExit() {
	err := s.cmd.Wait()
	s.waitState = s.cmd.ProcessState
	if _, isExit := err.(*exec.ExitError); err != nil && !isExit {
		s.waitErr = err
	}
	close(s.waitDone)
}

// waitForReady reads output until the readiness sentinel appears, bounded by
// the startup timeout.
func (s *Session) waitForReady() error {
	s.log.Debug("waiting for CDB to start")
	_, err := s.readUntil(readySentinel, s.opts.StartupTimeout, false)
	return err
}

// SendCommand executes one debugger command and returns its output lines.
// The exchange is exclusive: the lock covers the write and the full
// read-until-marker scan, so only one read is ever in flight per session.
func (s *Session) SendCommand(command string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.ProcessTerminated()
	}

	marker := markerPrefix + uuid.NewString()
	full := strings.TrimSpace(command) + "\n.echo " + marker + "\n"

	s.log.Debug("executing command", "command", command)

	if _, err := io.WriteString(s.stdin, full); err != nil {
		return nil, errors.CommandSendFailed(err)
	}

	output, err := s.readUntil(marker, s.opts.CommandTimeout, true)
	if err != nil {
		return nil, err
	}

	s.log.Debug("command completed", "lines", len(output))
	return output, nil
}

// readUntil consumes lines until one contains sentinel. When collect is set,
// every line strictly before the sentinel line is right-trimmed and
// appended to the result; blank lines are preserved. A timeout abandons the
// read: lines the process emits afterward stay queued and will pollute the
// next scan, which is why a timed-out session should be closed rather than
// reused.
func (s *Session) readUntil(sentinel string, timeout time.Duration, collect bool) ([]string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var output []string
	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				if err := s.readError(); err != nil {
					return nil, errors.IOError(err)
				}
				return nil, errors.ProcessTerminated()
			}
			if s.opts.Verbose {
				s.log.Debug("CDB output", "line", strings.TrimRight(line, "\r\n"))
			}
			if strings.Contains(line, sentinel) {
				return output, nil
			}
			if collect {
				output = append(output, strings.TrimRight(line, " \t\r\n"))
			}
		case <-timer.C:
			s.log.Warn("read timed out", "timeout", timeout)
			return nil, errors.CommandTimeout(timeout)
		}
	}
}

// Shutdown terminates the session gracefully: it writes the kind-specific
// quit sequence, waits up to a fixed grace period for the process to exit,
// and force-kills it if the grace expires.
//
// Dump sessions quit with "q". Remote sessions must detach first: the
// CTRL+B control byte (0x02) immediately followed by "q", no separator.
func (s *Session) Shutdown() (*os.ProcessState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		select {
		case <-s.waitDone:
			return s.waitState, nil
		default:
			return nil, errors.ProcessTerminated()
		}
	}
	s.closed = true

	s.log.Info("closing CDB session")

	quit := "q\n"
	if s.kind == TargetRemote {
		quit = "\x02q\n"
	}

	// Best-effort: a dead process means the write fails, and the wait below
	// still completes.
	if _, err := io.WriteString(s.stdin, quit); err != nil {
		s.log.Warn("failed to send quit command", "error", err)
	}
	if err := s.stdin.Close(); err != nil {
		s.log.Warn("failed to close stdin", "error", err)
	}

	select {
	case <-s.waitDone:
		if s.waitErr != nil {
			s.log.Warn("failed to wait for process exit", "error", s.waitErr)
			s.kill()
			return nil, errors.IOError(s.waitErr)
		}
		s.log.Info("CDB process exited", "state", s.waitState.String())
		return s.waitState, nil
	case <-time.After(shutdownGrace):
		s.log.Warn("timeout waiting for process exit, forcing termination")
		s.kill()
		<-s.waitDone
		return nil, errors.CommandTimeout(shutdownGrace)
	}
}

// Abandon force-kills the process without the graceful quit sequence. Used
// when a session is discarded on a failure path so no CDB process is
// orphaned. Never blocks on the process actually exiting.
func (s *Session) Abandon() {
	s.log.Debug("abandoning CDB session")
	s.kill()
}

func (s *Session) kill() {
	if s.cmd.Process == nil {
		return
	}
	if err := s.cmd.Process.Kill(); err != nil && !strings.Contains(err.Error(), "already finished") {
		s.log.Debug("kill failed", "error", err)
	}
}
