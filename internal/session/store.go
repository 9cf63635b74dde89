package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/deixis/mdpilot/internal/config"
	"github.com/deixis/mdpilot/internal/runner"
	"github.com/google/uuid"
)

// MetaFile is the durable metadata file kept in each session's
// working directory.
const MetaFile = "session.json"

// Store owns the in-memory session registry and the durable metadata
// files. The service creates one Store and passes it to every
// consumer; there is no ambient process-wide registry.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Create registers a new session over workDir, building its runner
// from the configuration snapshot. The working directory is created
// if absent.
func (st *Store) Create(workDir, nickname string, cfg *config.Config) (*Session, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	s := &Session{
		ID:       uuid.New().String(),
		WorkDir:  workDir,
		Nickname: nickname,
		Config:   cfg,
		Runner: &runner.Runner{
			WorkDir:     workDir,
			Binary:      cfg.Binary(),
			DockerImage: cfg.Gromacs.DockerImage,
			Timeout:     cfg.Timeout(),
			Grace:       cfg.GracePeriod(),
			MaxOutput:   cfg.MaxOutputBytes(),
		},
	}

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	return s, nil
}

// Get returns the session with the given id, or nil.
func (st *Store) Get(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sessions[id]
}

// List returns all sessions ordered by working directory.
func (st *Store) List() []*Session {
	st.mu.Lock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	st.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].WorkDir < out[j].WorkDir })
	return out
}

// Delete removes a session from the registry, terminating any live
// production job first. It reports whether the session existed.
// The working directory and its metadata are left on disk.
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	s, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()
	if ok {
		s.Runner.Terminate()
		s.ClearJob()
	}
	return ok
}

// MetaPath returns the durable metadata path for a working directory.
func MetaPath(workDir string) string {
	return filepath.Join(workDir, MetaFile)
}

// ReadMeta loads the session's durable metadata. An absent or
// unreadable file yields zero metadata; status queries must degrade,
// never fail.
func (st *Store) ReadMeta(s *Session) Meta {
	return ReadMetaDir(s.WorkDir)
}

// ReadMetaDir loads durable metadata from a working directory without
// a registered session, e.g. after a controller restart.
func ReadMetaDir(workDir string) Meta {
	var m Meta
	data, err := os.ReadFile(MetaPath(workDir))
	if err != nil {
		return m
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}
	}
	return m
}

// WriteMeta persists the session's durable metadata atomically
// (temp file + rename), so a crash mid-write never corrupts it.
func (st *Store) WriteMeta(s *Session, m Meta) error {
	return WriteMetaDir(s.WorkDir, m)
}

// WriteMetaDir persists durable metadata for a working directory.
func WriteMetaDir(workDir string, m Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling session metadata: %w", err)
	}
	path := MetaPath(workDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing session metadata: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("writing session metadata: %w", err)
	}
	return nil
}

// SetStatus records a status transition in the durable metadata.
// Terminal statuses are monotonic: once finished or failed is
// persisted, a later running or standby write is a no-op.
func (st *Store) SetStatus(s *Session, status Status, exitCode *int) error {
	m := st.ReadMeta(s)
	if m.RunStatus.Terminal() && !status.Terminal() {
		return nil
	}
	if m.RunStatus == status && exitCode == nil {
		return nil
	}
	m.RunStatus = status
	if exitCode != nil {
		m.ExitCode = exitCode
	}
	return st.WriteMeta(s, m)
}

// Launch installs the job handle and persists the running state with
// its launch metadata in one step.
func (st *Store) Launch(s *Session, job *runner.Job) error {
	s.SetJob(job)
	m := st.ReadMeta(s)
	m.RunStatus = Running
	m.PID = job.PID()
	m.ExitCode = nil
	m.StartedAt = job.StartedAt
	m.OutputPrefix = job.OutputPrefix
	m.ExpectedSteps = job.ExpectedSteps
	m.Nickname = s.Nickname
	return st.WriteMeta(s, m)
}
