package repository

import (
	"context"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sightline/pkg/model"
	"gopkg.in/yaml.v3"
)

// Seed is the YAML layout of a workspace fixture
type Seed struct {
	Workspace struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"workspace"`
	Brands []struct {
		Name       string `yaml:"name"`
		Domain     string `yaml:"domain"`
		Category   string `yaml:"category"`
		Competitor bool   `yaml:"competitor"`
	} `yaml:"brands"`
	Queries []struct {
		Text     string `yaml:"text"`
		Category string `yaml:"category"`
		Active   *bool  `yaml:"active"`
	} `yaml:"queries"`
}

// LoadSeed reads a YAML seed file and stores its workspace, brands and
// queries into repo. Queries are active unless `active: false` is given.
func LoadSeed(ctx context.Context, repo Repository, path string) (*model.Workspace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read seed file", goerr.V("path", path))
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, goerr.Wrap(err, "failed to parse seed file", goerr.V("path", path))
	}

	return ApplySeed(ctx, repo, &seed)
}

// ApplySeed stores the seed content into repo
func ApplySeed(ctx context.Context, repo Repository, seed *Seed) (*model.Workspace, error) {
	now := time.Now().UTC()

	ws := &model.Workspace{
		ID:        model.WorkspaceID(seed.Workspace.ID),
		Name:      seed.Workspace.Name,
		CreatedAt: now,
	}
	if ws.ID == "" {
		ws.ID = model.NewWorkspaceID()
	}
	if err := repo.PutWorkspace(ctx, ws); err != nil {
		return nil, goerr.Wrap(err, "failed to put workspace", goerr.V("workspace_id", ws.ID))
	}

	for i, b := range seed.Brands {
		brand := &model.Brand{
			ID:           model.NewBrandID(),
			WorkspaceID:  ws.ID,
			Name:         b.Name,
			Domain:       b.Domain,
			Category:     b.Category,
			IsCompetitor: b.Competitor,
			CreatedAt:    now.Add(time.Duration(i) * time.Microsecond),
		}
		if err := repo.PutBrand(ctx, brand); err != nil {
			return nil, goerr.Wrap(err, "failed to put brand", goerr.V("name", b.Name))
		}
	}

	for i, q := range seed.Queries {
		active := true
		if q.Active != nil {
			active = *q.Active
		}
		query := &model.SearchQuery{
			ID:          model.NewSearchQueryID(),
			WorkspaceID: ws.ID,
			Text:        q.Text,
			Category:    q.Category,
			IsActive:    active,
			CreatedAt:   now.Add(time.Duration(i) * time.Microsecond),
		}
		if err := repo.PutSearchQuery(ctx, query); err != nil {
			return nil, goerr.Wrap(err, "failed to put search query", goerr.V("text", q.Text))
		}
	}

	return ws, nil
}
