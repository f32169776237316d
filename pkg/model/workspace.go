package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

type WorkspaceID string

// NewWorkspaceID generates a new unique WorkspaceID
func NewWorkspaceID() WorkspaceID {
	return WorkspaceID(uuid.New().String())
}

// Workspace is a tenant boundary that owns brands and search queries
type Workspace struct {
	ID        WorkspaceID
	Name      string
	CreatedAt time.Time
}

type BrandID string

// NewBrandID generates a new unique BrandID
func NewBrandID() BrandID {
	return BrandID(uuid.New().String())
}

// Brand is a tracked brand, either the workspace's own or a competitor
type Brand struct {
	ID           BrandID
	WorkspaceID  WorkspaceID
	Name         string
	Domain       string
	Category     string
	IsCompetitor bool
	CreatedAt    time.Time
}

// Validate checks if the brand is valid
func (b *Brand) Validate() error {
	if b.ID == "" {
		return goerr.New("brand ID is empty")
	}
	if b.WorkspaceID == "" {
		return goerr.New("brand workspace ID is empty", goerr.V("brand_id", b.ID))
	}
	if b.Name == "" {
		return goerr.New("brand name is empty", goerr.V("brand_id", b.ID))
	}
	return nil
}

type SearchQueryID string

// NewSearchQueryID generates a new unique SearchQueryID
func NewSearchQueryID() SearchQueryID {
	return SearchQueryID(uuid.New().String())
}

// SearchQuery is a consumer question monitored across AI providers
type SearchQuery struct {
	ID          SearchQueryID
	WorkspaceID WorkspaceID
	Text        string
	Category    string
	IsActive    bool
	CreatedAt   time.Time
}

// Validate checks if the search query is valid
func (q *SearchQuery) Validate() error {
	if q.ID == "" {
		return goerr.New("search query ID is empty")
	}
	if q.WorkspaceID == "" {
		return goerr.New("search query workspace ID is empty", goerr.V("query_id", q.ID))
	}
	if q.Text == "" {
		return goerr.New("search query text is empty", goerr.V("query_id", q.ID))
	}
	return nil
}
