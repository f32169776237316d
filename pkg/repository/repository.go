package repository

import (
	"context"
	"time"

	"github.com/m-mizutani/sightline/pkg/model"
)

// Repository defines the persistence operations used by the analysis pipeline.
// Every implementation tags its errors with model.ErrTagPersistence.
type Repository interface {
	// PutWorkspace saves a workspace
	PutWorkspace(ctx context.Context, ws *model.Workspace) error

	// GetWorkspace retrieves a workspace by ID
	GetWorkspace(ctx context.Context, id model.WorkspaceID) (*model.Workspace, error)

	// PutBrand saves a brand
	PutBrand(ctx context.Context, brand *model.Brand) error

	// ListBrands retrieves all brands of a workspace ordered by creation time
	ListBrands(ctx context.Context, workspaceID model.WorkspaceID) ([]*model.Brand, error)

	// PutSearchQuery saves a search query
	PutSearchQuery(ctx context.Context, query *model.SearchQuery) error

	// ListActiveQueries retrieves active search queries of a workspace ordered by creation time
	ListActiveQueries(ctx context.Context, workspaceID model.WorkspaceID) ([]*model.SearchQuery, error)

	// PutQueryResult inserts a raw provider answer
	PutQueryResult(ctx context.Context, result *model.QueryResult) error

	// PutBrandMentions inserts mentions extracted from result
	PutBrandMentions(ctx context.Context, result *model.QueryResult, mentions []*model.BrandMention) error

	// ListMentions retrieves mentions of a brand whose query result was executed in the window
	ListMentions(ctx context.Context, input *ListMentionsInput) ([]*MentionRecord, error)

	// ListRecentMentions retrieves mentions of a workspace, newest execution first.
	// A non-positive limit returns all of them.
	ListRecentMentions(ctx context.Context, workspaceID model.WorkspaceID, limit int) ([]*MentionRecord, error)

	// PutVisibilityScore inserts a computed score
	PutVisibilityScore(ctx context.Context, score *model.VisibilityScore) error

	// ListScores retrieves scores of a workspace, newest computation first
	ListScores(ctx context.Context, workspaceID model.WorkspaceID, limit int) ([]*model.VisibilityScore, error)
}

// ListMentionsInput selects mentions of one brand in [Start, End]
type ListMentionsInput struct {
	BrandID model.BrandID
	Start   time.Time
	End     time.Time
	// Provider restricts the selection to one provider when not empty
	Provider model.ProviderID
}

// MentionRecord is a mention joined with the query result it belongs to
type MentionRecord struct {
	Mention    *model.BrandMention
	Provider   model.ProviderID
	ExecutedAt time.Time
}

// inWindow reports whether t is within [start, end]
func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}
