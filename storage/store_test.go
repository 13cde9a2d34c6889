package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adaptiveX-gh/EdgeQL-sub000/engine"
)

func TestInMemoryStore_PipelineRoundTrip(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SavePipeline(ctx, PipelineRecord{ID: "p1", Name: "crossover", Source: "..."}))
	got, ok, err := s.GetPipeline(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "crossover", got.Name)

	_, ok, err = s.GetPipeline(ctx, "nonexistent")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInMemoryStore_PipelineVersionsOrderedByVersion(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.AppendPipelineVersion(ctx, PipelineVersion{PipelineID: "p1", Version: 2, Source: "v2"}))
	require.NoError(t, s.AppendPipelineVersion(ctx, PipelineVersion{PipelineID: "p1", Version: 1, Source: "v1"}))

	versions, err := s.ListPipelineVersions(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, 1, versions[0].Version)
	require.Equal(t, 2, versions[1].Version)
}

func TestInMemoryStore_RunsByPipeline(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRun(ctx, RunRecord{PipelineID: "p1", Run: engine.Run{ID: "r1", StartedAt: base.Add(time.Minute)}}))
	require.NoError(t, s.SaveRun(ctx, RunRecord{PipelineID: "p1", Run: engine.Run{ID: "r2", StartedAt: base}}))
	require.NoError(t, s.SaveRun(ctx, RunRecord{PipelineID: "p2", Run: engine.Run{ID: "r3", StartedAt: base}}))

	runs, err := s.ListRunsByPipeline(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "r2", runs[0].Run.ID, "earliest-started run should sort first")
	require.Equal(t, "r1", runs[1].Run.ID)
}

func TestInMemoryStore_ObserverTokenExpiry(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.IssueObserverToken(ctx, ObserverToken{Token: "tok1", RunID: "r1", ExpiresAt: time.Now().Add(time.Hour)}))
	_, ok, err := s.GetObserverToken(ctx, "tok1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.IssueObserverToken(ctx, ObserverToken{Token: "tok2", RunID: "r1", ExpiresAt: time.Now().Add(-time.Hour)}))
	_, ok, err = s.GetObserverToken(ctx, "tok2")
	require.NoError(t, err)
	require.False(t, ok, "expired token must not be returned")
}
