package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Kintoyyy/codeshum-backend/internal/metrics"
	"github.com/Kintoyyy/codeshum-backend/internal/protocol"
	"github.com/Kintoyyy/codeshum-backend/internal/workspace"
)

var (
	// ErrNotFound means the id is unknown or the session has expired; the
	// client must reconnect to get a new one.
	ErrNotFound = errors.New("invalid session")
	ErrLimit    = errors.New("maximum session limit reached")
)

const (
	maxIDAttempts = 16

	// killWait bounds how long Kill waits for the process group to exit.
	killWait = 5 * time.Second
	// killedExitCode is reported when the exit status could not be observed:
	// 128 + SIGKILL.
	killedExitCode = 137
)

// Registry is the single owner of live sessions and everything keyed by them.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	files       *workspace.Store
	log         zerolog.Logger
	maxSessions int
	now         func() time.Time
	newID       func() string
	onDestroy   []func(id string)
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxSessions caps concurrent sessions; zero means unlimited.
func WithMaxSessions(n int) Option {
	return func(r *Registry) { r.maxSessions = n }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator overrides the random id source.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}

// OnDestroy registers a callback run after a session is torn down.
func OnDestroy(fn func(id string)) Option {
	return func(r *Registry) { r.onDestroy = append(r.onDestroy, fn) }
}

// NewRegistry creates an empty registry whose sessions keep their files in store.
func NewRegistry(store *workspace.Store, log zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		files:    store,
		log:      log.With().Str("component", "sessions").Logger(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a session for conn and returns its id.
func (r *Registry) Create(conn Conn) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return "", fmt.Errorf("%w (%d)", ErrLimit, r.maxSessions)
	}

	var id string
	for attempt := 0; ; attempt++ {
		if attempt == maxIDAttempts {
			return "", fmt.Errorf("generating session id: %d collisions in a row", maxIDAttempts)
		}
		id = r.newID()
		if _, taken := r.sessions[id]; !taken && id != "" {
			break
		}
	}

	r.sessions[id] = &Session{
		ID:        id,
		CreatedAt: r.now(),
		conn:      conn,
	}
	metrics.ActiveSessions.Set(float64(len(r.sessions)))

	r.log.Info().Str("session", id).Msg("session created")
	return id, nil
}

// Get returns the live session for id or ErrNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Touch records activity on the session.
func (r *Registry) Touch(id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	s.touch(r.now())
	return nil
}

// WriteFiles materializes a validated batch in the session's workspace.
// Files written before a failure are not rolled back.
func (r *Registry) WriteFiles(s *Session, files []protocol.SourceFile) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrNotFound
	}

	var dir string
	for _, f := range files {
		d, err := r.files.Write(s.ID, f.FileName, []byte(f.Content))
		if err != nil {
			return "", err
		}
		dir = d
		s.workspace = d
	}
	return dir, nil
}

// Input forwards one line to the session's running process. With no process
// running the line is dropped and delivered is false.
func (r *Registry) Input(id, line string) (delivered bool, err error) {
	s, err := r.Get(id)
	if err != nil {
		return false, err
	}
	s.touch(r.now())

	proc := s.Process()
	if proc == nil {
		r.log.Debug().Str("session", id).Msg("input dropped, no running process")
		return false, nil
	}
	return true, proc.WriteInput(line)
}

// Kill terminates the session's running process, if any, and reports its
// exit to the client once it is gone. It waits for an in-flight submission
// so the exit frame cannot land after a newer run's output.
func (r *Registry) Kill(id string) (bool, error) {
	s, err := r.Get(id)
	if err != nil {
		return false, err
	}

	release := s.BeginPipeline()
	defer release()

	proc := s.TakeProcess()
	if proc == nil {
		return false, nil
	}
	proc.Kill()
	r.log.Info().Str("session", id).Msg("process killed on request")

	select {
	case <-proc.Done():
	case <-time.After(killWait):
		r.log.Warn().Str("session", id).Msg("killed process has not exited, reporting anyway")
		r.notify(s, protocol.Exited(killedExitCode))
		return true, nil
	}
	r.notify(s, protocol.Exited(proc.ExitCode()))
	return true, nil
}

func (r *Registry) notify(s *Session, ev protocol.Event) {
	conn := s.Conn()
	if conn == nil {
		return
	}
	if err := conn.Send(ev); err != nil {
		r.log.Debug().Err(err).Str("session", s.ID).Msg("dropping event")
	}
}

// Destroy tears the session down: its process is killed, its workspace
// deleted and the record removed. Unknown ids are ignored.
func (r *Registry) Destroy(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		metrics.ActiveSessions.Set(float64(len(r.sessions)))
	}
	r.mu.Unlock()

	if ok {
		r.teardown(s)
		r.log.Info().Str("session", id).Msg("session destroyed")
	}
}

// Expire destroys every session idle for longer than idle and returns their ids.
func (r *Registry) Expire(idle time.Duration) []string {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			delete(r.sessions, id)
			expired = append(expired, s)
		}
	}
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, s := range expired {
		r.teardown(s)
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)
	return ids
}

// teardown runs outside the registry lock; the record is already unreachable.
// Workspace deletion errors are logged by the store and never block removal.
func (r *Registry) teardown(s *Session) {
	proc, conn := s.close()
	if proc != nil {
		proc.Kill()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			r.log.Debug().Err(err).Str("session", s.ID).Msg("closing connection")
		}
	}
	_ = r.files.Delete(s.ID)

	for _, fn := range r.onDestroy {
		fn(s.ID)
	}
}

// List returns a snapshot of every live session, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll destroys every session.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Destroy(id)
	}
}
