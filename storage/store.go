// Package storage defines the external persistence contract (spec.md §6
// "Persisted state layout ... core treats storage as an opaque KV store
// with list-by-parent queries") plus an in-memory reference
// implementation, grounded on the mutex-guarded map pattern used by the
// node catalog in dsl/registry. This is explicitly not a production
// persistence layer: a real deployment would back Store with an external
// database; persistent storage itself is out of scope for this repo.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/adaptiveX-gh/EdgeQL-sub000/engine"
)

// PipelineRecord is one stored pipeline definition (spec.md §6 "pipelines
// keyed by id").
type PipelineRecord struct {
	ID        string
	Name      string
	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PipelineVersion is one immutable snapshot of a pipeline's source,
// appended on every save (spec.md §6 "pipeline-version history").
type PipelineVersion struct {
	PipelineID string
	Version    int
	Source     string
	CreatedAt  time.Time
}

// NodeVersion is one immutable snapshot of a custom node's code blob
// (spec.md §6 "node-version history (including code blob per version)").
type NodeVersion struct {
	NodeTypeID string
	Version    int
	CodeBlob   []byte
	CreatedAt  time.Time
}

// RunRecord is one terminal run, persisted after the executor hands it off
// (spec.md §6 "runs keyed by id").
type RunRecord struct {
	PipelineID string
	Run        engine.Run
}

// ObserverToken grants a bearer read-only, time-scoped visibility into a
// run's live progress (spec.md §6 "observer-token records").
type ObserverToken struct {
	Token      string
	RunID      string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Store is the persistence contract the core engine depends on. Every
// method takes a context so a real backing store can honor cancellation
// and deadlines; the in-memory Store ignores it.
type Store interface {
	SavePipeline(ctx context.Context, p PipelineRecord) error
	GetPipeline(ctx context.Context, id string) (PipelineRecord, bool, error)
	ListPipelineVersions(ctx context.Context, pipelineID string) ([]PipelineVersion, error)
	AppendPipelineVersion(ctx context.Context, v PipelineVersion) error

	AppendNodeVersion(ctx context.Context, v NodeVersion) error
	ListNodeVersions(ctx context.Context, nodeTypeID string) ([]NodeVersion, error)

	SaveRun(ctx context.Context, r RunRecord) error
	GetRun(ctx context.Context, runID string) (RunRecord, bool, error)
	ListRunsByPipeline(ctx context.Context, pipelineID string) ([]RunRecord, error)

	IssueObserverToken(ctx context.Context, t ObserverToken) error
	GetObserverToken(ctx context.Context, token string) (ObserverToken, bool, error)
}

// InMemoryStore is a reference Store implementation backed by
// mutex-guarded maps, analogous to the node catalog's builtin map (see
// dsl/registry.Registry). It is suitable for tests and the CLI's `run`
// command; it is NOT a production persistence layer — everything is lost
// on process exit.
type InMemoryStore struct {
	mu sync.RWMutex

	pipelines        map[string]PipelineRecord
	pipelineVersions map[string][]PipelineVersion
	nodeVersions     map[string][]NodeVersion
	runs             map[string]RunRecord
	observerTokens   map[string]ObserverToken
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		pipelines:        make(map[string]PipelineRecord),
		pipelineVersions: make(map[string][]PipelineVersion),
		nodeVersions:     make(map[string][]NodeVersion),
		runs:             make(map[string]RunRecord),
		observerTokens:   make(map[string]ObserverToken),
	}
}

var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) SavePipeline(_ context.Context, p PipelineRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		return fmt.Errorf("storage: pipeline id is required")
	}
	s.pipelines[p.ID] = p
	return nil
}

func (s *InMemoryStore) GetPipeline(_ context.Context, id string) (PipelineRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pipelines[id]
	return p, ok, nil
}

func (s *InMemoryStore) AppendPipelineVersion(_ context.Context, v PipelineVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelineVersions[v.PipelineID] = append(s.pipelineVersions[v.PipelineID], v)
	return nil
}

func (s *InMemoryStore) ListPipelineVersions(_ context.Context, pipelineID string) ([]PipelineVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]PipelineVersion(nil), s.pipelineVersions[pipelineID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *InMemoryStore) AppendNodeVersion(_ context.Context, v NodeVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeVersions[v.NodeTypeID] = append(s.nodeVersions[v.NodeTypeID], v)
	return nil
}

func (s *InMemoryStore) ListNodeVersions(_ context.Context, nodeTypeID string) ([]NodeVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]NodeVersion(nil), s.nodeVersions[nodeTypeID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *InMemoryStore) SaveRun(_ context.Context, r RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Run.ID == "" {
		return fmt.Errorf("storage: run id is required")
	}
	s.runs[r.Run.ID] = r
	return nil
}

func (s *InMemoryStore) GetRun(_ context.Context, runID string) (RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	return r, ok, nil
}

func (s *InMemoryStore) ListRunsByPipeline(_ context.Context, pipelineID string) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []RunRecord
	for _, r := range s.runs {
		if r.PipelineID == pipelineID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Run.StartedAt.Before(out[j].Run.StartedAt) })
	return out, nil
}

func (s *InMemoryStore) IssueObserverToken(_ context.Context, t ObserverToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Token == "" {
		return fmt.Errorf("storage: observer token value is required")
	}
	s.observerTokens[t.Token] = t
	return nil
}

func (s *InMemoryStore) GetObserverToken(_ context.Context, token string) (ObserverToken, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.observerTokens[token]
	if ok && time.Now().After(t.ExpiresAt) {
		return ObserverToken{}, false, nil
	}
	return t, ok, nil
}
