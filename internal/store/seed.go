package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rostilos/codecrow/internal/models"
)

// seedFile is the YAML shape of a project seed file, used to populate the
// local (memory) storage mode at startup.
type seedFile struct {
	Projects []seedProject `yaml:"projects"`
}

type seedProject struct {
	ID            int64  `yaml:"id"`
	Name          string `yaml:"name"`
	Namespace     string `yaml:"namespace"`
	DefaultBranch string `yaml:"default_branch"`

	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Workspace string `yaml:"workspace"`
	RepoSlug  string `yaml:"repo_slug"`
	Token     string `yaml:"token"`

	PrAnalysis     bool `yaml:"pr_analysis"`
	BranchAnalysis bool `yaml:"branch_analysis"`
	RagEnabled     bool `yaml:"rag_enabled"`
}

// SeedProjects loads projects from a YAML seed file into the store. Existing
// rows with the same id are replaced.
func SeedProjects(ctx context.Context, s Store, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}

	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return 0, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	for i, sp := range file.Projects {
		if sp.Name == "" || sp.Workspace == "" || sp.RepoSlug == "" {
			return 0, fmt.Errorf("seed project %d: name, workspace and repo_slug are required", i)
		}
		project := &models.Project{
			ID:            sp.ID,
			Name:          sp.Name,
			Namespace:     sp.Namespace,
			DefaultBranch: sp.DefaultBranch,
			Connection: models.VcsConnection{
				Provider:  models.VcsProvider(sp.Provider),
				BaseURL:   sp.BaseURL,
				Workspace: sp.Workspace,
				RepoSlug:  sp.RepoSlug,
				Token:     sp.Token,
			},
			Config: models.ProjectConfig{
				PrAnalysisEnabled:     sp.PrAnalysis,
				BranchAnalysisEnabled: sp.BranchAnalysis,
				Rag:                   models.RagConfig{Enabled: sp.RagEnabled},
			},
		}
		if err := s.SaveProject(ctx, project); err != nil {
			return 0, fmt.Errorf("seed project %q: %w", sp.Name, err)
		}
	}
	return len(file.Projects), nil
}
