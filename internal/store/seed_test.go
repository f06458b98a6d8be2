package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rostilos/codecrow/internal/models"
)

func TestSeedProjects(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "projects.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
projects:
  - id: 1
    name: demo
    namespace: acme
    provider: GITHUB
    workspace: acme
    repo_slug: demo
    token: tok
    pr_analysis: true
    branch_analysis: true
    rag_enabled: true
  - id: 2
    name: infra
    namespace: acme
    provider: GITLAB
    base_url: https://git.internal
    workspace: acme
    repo_slug: infra
    token: tok2
    pr_analysis: true
`), 0644))

	s := NewMemoryStore()
	n, err := SeedProjects(context.Background(), s, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	p, err := s.GetProject(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Name)
	assert.Equal(t, models.ProviderGitHub, p.Connection.Provider)
	assert.True(t, p.Config.PrAnalysisEnabled)
	assert.True(t, p.Config.Rag.Enabled)

	p2, err := s.GetProject(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "https://git.internal", p2.Connection.BaseURL)
	assert.False(t, p2.Config.BranchAnalysisEnabled)
}

func TestSeedProjectsRejectsIncomplete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "projects.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
projects:
  - name: demo
`), 0644))

	_, err := SeedProjects(context.Background(), NewMemoryStore(), path)
	assert.Error(t, err)
}

func TestSeedProjectsMissingFile(t *testing.T) {
	_, err := SeedProjects(context.Background(), NewMemoryStore(), "/nonexistent/seed.yaml")
	assert.Error(t, err)
}
