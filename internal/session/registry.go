package session

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/zhubert/windbg-mcp/internal/cdb"
	"github.com/zhubert/windbg-mcp/internal/errors"
	"github.com/zhubert/windbg-mcp/internal/logger"
)

// Overrides carries per-call spawn settings. Nil means registry defaults.
type Overrides struct {
	CDBPath    string
	SymbolPath string
}

// entry is one registry slot. The ready channel doubles as the creation
// placeholder: it is inserted under the registry lock before the spawn
// begins, so concurrent callers for the same key wait on it instead of
// spawning a second process.
type entry struct {
	ready chan struct{} // closed once sess/err are settled
	sess  *cdb.Session
	err   error // spawn failure, set before ready is closed
	refs  int   // outstanding handles, guarded by Registry.mu
}

// Registry is the concurrency-safe store of live sessions. Its lock guards
// only the map; command traffic on one session never blocks lookups or
// creation for other keys.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	opts     cdb.Options
	log      *slog.Logger
}

// NewRegistry creates a registry whose sessions spawn with the given
// default options.
func NewRegistry(opts cdb.Options) *Registry {
	log := logger.ComponentLogger("session")
	log.Info("creating session registry",
		"commandTimeout", opts.CommandTimeout, "startupTimeout", opts.StartupTimeout)
	return &Registry{
		sessions: make(map[string]*entry),
		opts:     opts,
		log:      log,
	}
}

// DumpKey canonicalizes a dump path into its registry key: the absolute,
// symlink-resolved path, falling back to whatever resolves if the path does
// not exist yet.
func DumpKey(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs
	}
	return resolved
}

// GetOrCreateDumpSession returns the shared session for a dump file,
// spawning it on first access.
func (r *Registry) GetOrCreateDumpSession(dumpPath string, ov *Overrides) (*Handle, error) {
	if _, err := os.Stat(dumpPath); err != nil {
		return nil, errors.DumpFileNotFound(dumpPath)
	}
	key := DumpKey(dumpPath)
	return r.getOrCreate(key, func() (*cdb.Session, error) {
		return cdb.NewDumpSession(dumpPath, r.spawnOptions(ov))
	})
}

// GetOrCreateRemoteSession returns the shared session for a remote target,
// keyed by the raw connection string.
func (r *Registry) GetOrCreateRemoteSession(connectionString string, ov *Overrides) (*Handle, error) {
	return r.getOrCreate(connectionString, func() (*cdb.Session, error) {
		return cdb.NewRemoteSession(connectionString, r.spawnOptions(ov))
	})
}

func (r *Registry) spawnOptions(ov *Overrides) cdb.Options {
	opts := r.opts
	if ov != nil {
		if ov.CDBPath != "" {
			opts.CDBPath = ov.CDBPath
		}
		if ov.SymbolPath != "" {
			opts.SymbolPath = ov.SymbolPath
		}
	}
	return opts
}

// getOrCreate implements the at-most-one-creation guarantee. The placeholder
// entry is claimed under the lock before spawning; late arrivals block on
// its ready channel. A waiter that finds the creation failed retries the
// lookup from scratch (the failed entry is already gone from the map).
func (r *Registry) getOrCreate(key string, spawnFn func() (*cdb.Session, error)) (*Handle, error) {
	for {
		r.mu.Lock()
		e, ok := r.sessions[key]
		if !ok {
			e = &entry{ready: make(chan struct{})}
			r.sessions[key] = e
			r.mu.Unlock()

			r.log.Info("creating session", "key", key)
			sess, err := spawnFn()

			r.mu.Lock()
			if err != nil {
				delete(r.sessions, key)
				e.err = err
				close(e.ready)
				r.mu.Unlock()
				return nil, err
			}
			e.sess = sess
			e.refs = 1
			close(e.ready)
			r.mu.Unlock()
			return &Handle{r: r, key: key, e: e}, nil
		}

		select {
		case <-e.ready:
			// Creation already settled.
			if e.err != nil {
				r.mu.Unlock()
				return nil, e.err
			}
			e.refs++
			r.mu.Unlock()
			r.log.Debug("reusing session", "key", key)
			return &Handle{r: r, key: key, e: e}, nil
		default:
			// Spawn in progress; wait outside the lock and re-check.
			r.mu.Unlock()
			<-e.ready
		}
	}
}

// CloseSession shuts down the session for key. It holds the registry lock
// across the removal and the exclusivity decision, so a handle cannot appear
// between them. Outstanding handles make this fail with SessionInUse and
// leave the session reachable.
func (r *Registry) CloseSession(key string) error {
	r.mu.Lock()
	e, ok := r.sessions[key]
	if !ok {
		r.mu.Unlock()
		return errors.SessionNotFound(key)
	}
	select {
	case <-e.ready:
	default:
		// Still spawning; the creator holds the first handle.
		r.mu.Unlock()
		return errors.SessionInUse(key)
	}
	if e.refs > 0 {
		r.mu.Unlock()
		return errors.SessionInUse(key)
	}
	delete(r.sessions, key)
	r.mu.Unlock()

	r.log.Info("closing session", "key", key)
	state, err := e.sess.Shutdown()
	if err != nil {
		return err
	}
	if state != nil {
		r.log.Info("session closed", "key", key, "state", state.String())
	}
	return nil
}

// CloseAll closes every session, best-effort: per-key failures are logged
// and never stop the remaining keys. Used for whole-process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	keys := make([]string, 0, len(r.sessions))
	for key := range r.sessions {
		keys = append(keys, key)
	}
	r.mu.Unlock()

	r.log.Info("closing all sessions", "count", len(keys))
	for _, key := range keys {
		if err := r.CloseSession(key); err != nil {
			r.log.Warn("failed to close session", "key", key, "error", err)
		}
	}
}

// ActiveCount returns the number of keys currently present.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Handle is a counted reference to a shared session. Release is idempotent;
// holding an unreleased handle blocks CloseSession for the key.
type Handle struct {
	r    *Registry
	key  string
	e    *entry
	once sync.Once
}

// Session returns the underlying session.
func (h *Handle) Session() *cdb.Session {
	return h.e.sess
}

// Key returns the registry key this handle refers to.
func (h *Handle) Key() string {
	return h.key
}

// Release gives up this holder's share. Safe to call more than once.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.r.mu.Lock()
		h.e.refs--
		h.r.mu.Unlock()
	})
}
