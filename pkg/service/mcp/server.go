package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sightline/pkg/model"
	"github.com/m-mizutani/sightline/pkg/policy"
	"github.com/m-mizutani/sightline/pkg/usecase/visibility"
	"github.com/m-mizutani/sightline/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// DefaultPeriod is the analysis window used when a caller gives no period
const DefaultPeriod = 24 * time.Hour

// Server exposes the visibility use case as MCP tools
type Server struct {
	uc     *visibility.UseCase
	server *mcp.Server
	now    func() time.Time
}

type Option func(*Server)

// WithClock replaces the clock used to resolve the default period
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

type runAnalysisParams struct {
	WorkspaceID string `json:"workspace_id" jsonschema:"Workspace ID to analyze"`
	PeriodStart string `json:"period_start,omitempty" jsonschema:"Start of the scoring window in RFC3339. Defaults to 24 hours before period_end"`
	PeriodEnd   string `json:"period_end,omitempty" jsonschema:"End of the scoring window in RFC3339. Defaults to now"`
}

type listScoresParams struct {
	WorkspaceID string `json:"workspace_id" jsonschema:"Workspace ID"`
	Limit       int    `json:"limit,omitempty" jsonschema:"Maximum number of score rows. 0 means no limit"`
}

type recentMentionsParams struct {
	WorkspaceID string `json:"workspace_id" jsonschema:"Workspace ID"`
	Limit       int    `json:"limit,omitempty" jsonschema:"Maximum number of mentions. Defaults to 50"`
}

type trendParams struct {
	WorkspaceID string `json:"workspace_id" jsonschema:"Workspace ID"`
}

// NewServer creates an MCP server with run_analysis, list_scores, trend and
// recent_mentions tools
func NewServer(uc *visibility.UseCase, version string, opts ...Option) *Server {
	s := &Server{
		uc:  uc,
		now: time.Now,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "sightline",
			Version: version,
		}, nil),
	}
	for _, opt := range opts {
		opt(s)
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "run_analysis",
		Description: "Send all active search queries of a workspace to every configured AI provider, extract brand mentions and compute visibility scores for the period",
	}, s.runAnalysis)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_scores",
		Description: "List the latest visibility scores of a workspace, newest first",
	}, s.listScores)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "trend",
		Description: "Daily mean mention rate of own brands and competitors",
	}, s.trend)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "recent_mentions",
		Description: "List the latest brand mentions extracted from provider answers, newest first",
	}, s.recentMentions)

	return s
}

// RunStdio serves MCP over stdin/stdout until ctx is done or the client disconnects
func (s *Server) RunStdio(ctx context.Context) error {
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "MCP stdio server stopped")
	}
	return nil
}

// Handler returns a streamable HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

// RunHTTP serves MCP over streamable HTTP on addr until ctx is done
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.From(ctx).Info("MCP HTTP server started", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return goerr.Wrap(err, "MCP HTTP server stopped", goerr.V("addr", addr))
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return goerr.Wrap(err, "failed to shutdown MCP HTTP server")
		}
		return nil
	}
}

func parsePeriod(start, end string, now time.Time) (time.Time, time.Time, error) {
	periodEnd := now
	if end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return time.Time{}, time.Time{}, goerr.Wrap(err, "invalid period_end", goerr.V("period_end", end))
		}
		periodEnd = t
	}

	periodStart := periodEnd.Add(-DefaultPeriod)
	if start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return time.Time{}, time.Time{}, goerr.Wrap(err, "invalid period_start", goerr.V("period_start", start))
		}
		periodStart = t
	}
	return periodStart, periodEnd, nil
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to marshal tool result")
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}

type outcomeView struct {
	QueryID   model.SearchQueryID `json:"query_id"`
	Provider  model.ProviderID    `json:"provider"`
	Success   bool                `json:"success"`
	ErrorKind model.ErrorKind     `json:"error_kind,omitempty"`
	Error     string              `json:"error,omitempty"`
	Mentions  int                 `json:"mentions"`
}

type scoreView struct {
	BrandName          string           `json:"brand_name"`
	Competitor         bool             `json:"competitor"`
	Provider           model.ProviderID `json:"provider,omitempty"`
	MentionRate        float64          `json:"mention_rate"`
	AvgPosition        *float64         `json:"avg_position"`
	SentimentScore     float64          `json:"sentiment_score"`
	RecommendationRate float64          `json:"recommendation_rate"`
	PeriodStart        time.Time        `json:"period_start"`
	PeriodEnd          time.Time        `json:"period_end"`
}

type analysisView struct {
	WorkspaceID model.WorkspaceID `json:"workspace_id"`
	PeriodStart time.Time         `json:"period_start"`
	PeriodEnd   time.Time         `json:"period_end"`
	Succeeded   int               `json:"succeeded"`
	Failed      int               `json:"failed"`
	Outcomes    []*outcomeView    `json:"outcomes"`
	Scores      []*scoreView      `json:"scores"`
	Alerts      []*policy.Alert   `json:"alerts,omitempty"`
	ArchiveKey  string            `json:"archive_key,omitempty"`
	PolicyError string            `json:"policy_error,omitempty"`
}

func (s *Server) runAnalysis(ctx context.Context, req *mcp.CallToolRequest, params *runAnalysisParams) (*mcp.CallToolResult, any, error) {
	if params.WorkspaceID == "" {
		return nil, nil, goerr.New("workspace_id is required")
	}
	start, end, err := parsePeriod(params.PeriodStart, params.PeriodEnd, s.now())
	if err != nil {
		return nil, nil, err
	}

	workspaceID := model.WorkspaceID(params.WorkspaceID)
	analysis, err := s.uc.RunAnalysis(ctx, workspaceID, start, end)
	if err != nil {
		logging.From(ctx).Error("run_analysis failed", "error", err, "workspace_id", workspaceID)
		return nil, nil, err
	}

	succeeded, failed := visibility.Summarize(analysis.Outcomes)
	result := &analysisView{
		WorkspaceID: analysis.WorkspaceID,
		PeriodStart: analysis.PeriodStart,
		PeriodEnd:   analysis.PeriodEnd,
		Succeeded:   succeeded,
		Failed:      failed,
		Outcomes:    make([]*outcomeView, 0, len(analysis.Outcomes)),
		Scores:      toScoreViews(analysis.Views),
		Alerts:      analysis.Alerts,
		ArchiveKey:  analysis.ArchiveKey,
	}
	if analysis.PolicyErr != nil {
		result.PolicyError = analysis.PolicyErr.Error()
	}
	for _, o := range analysis.Outcomes {
		v := &outcomeView{
			QueryID:  o.Query.ID,
			Provider: o.Provider,
			Success:  o.Success,
			Mentions: o.Mentions,
		}
		if o.Err != nil {
			v.Error = o.Err.Error()
			v.ErrorKind = o.Kind()
		}
		result.Outcomes = append(result.Outcomes, v)
	}

	return jsonResult(result)
}

func toScoreViews(views []*visibility.ScoreView) []*scoreView {
	result := make([]*scoreView, 0, len(views))
	for _, v := range views {
		result = append(result, &scoreView{
			BrandName:          v.BrandName,
			Competitor:         v.IsCompetitor,
			Provider:           v.Provider,
			MentionRate:        v.MentionRate,
			AvgPosition:        v.AvgPosition,
			SentimentScore:     v.SentimentScore,
			RecommendationRate: v.RecommendationRate,
			PeriodStart:        v.PeriodStart,
			PeriodEnd:          v.PeriodEnd,
		})
	}
	return result
}

func (s *Server) listScores(ctx context.Context, req *mcp.CallToolRequest, params *listScoresParams) (*mcp.CallToolResult, any, error) {
	if params.WorkspaceID == "" {
		return nil, nil, goerr.New("workspace_id is required")
	}

	views, err := s.uc.ListScores(ctx, model.WorkspaceID(params.WorkspaceID), params.Limit)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(toScoreViews(views))
}

func (s *Server) trend(ctx context.Context, req *mcp.CallToolRequest, params *trendParams) (*mcp.CallToolResult, any, error) {
	if params.WorkspaceID == "" {
		return nil, nil, goerr.New("workspace_id is required")
	}

	points, err := s.uc.Trend(ctx, model.WorkspaceID(params.WorkspaceID))
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(points)
}

func (s *Server) recentMentions(ctx context.Context, req *mcp.CallToolRequest, params *recentMentionsParams) (*mcp.CallToolResult, any, error) {
	if params.WorkspaceID == "" {
		return nil, nil, goerr.New("workspace_id is required")
	}

	views, err := s.uc.RecentMentions(ctx, model.WorkspaceID(params.WorkspaceID), params.Limit)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(views)
}
