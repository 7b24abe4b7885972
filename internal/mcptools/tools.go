package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	log "github.com/sirupsen/logrus"

	"mr-assistant/internal/analytics"
	"mr-assistant/internal/participants"
	"mr-assistant/internal/storage"
)

type AnalyzeUserParams struct {
	UserID string `json:"user_id" mcp:"participant id whose conversation log should be analyzed"`
}

type DailyDigestParams struct {
	Date string `json:"date,omitempty" mcp:"day to summarize as YYYY-MM-DD, defaults to today"`
}

type ListParticipantsParams struct {
	Group string `json:"group,omitempty" mcp:"optional group filter: EMO or NEU"`
}

// Tools exposes read-only views of the session logs as MCP tools.
type Tools struct {
	store        storage.Store
	participants *participants.Service
	rules        analytics.Rules
	now          func() time.Time
}

func New(store storage.Store, reg *participants.Service, rules analytics.Rules) *Tools {
	return &Tools{store: store, participants: reg, rules: rules, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (t *Tools) WithClock(now func() time.Time) *Tools {
	t.now = now
	return t
}

// NewServer builds an MCP server with every tool registered.
func (t *Tools) NewServer(version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "mr-assistant-sessions",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "analyze_user_sessions",
		Description: "Computes per-session interaction metrics for one participant",
	}, t.AnalyzeUserSessions)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "daily_digest",
		Description: "Summarizes turns, users and degraded replies for one day",
	}, t.DailyDigest)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_participants",
		Description: "Lists registered participants and their experimental group",
	}, t.ListParticipants)

	return server
}

func (t *Tools) AnalyzeUserSessions(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[AnalyzeUserParams]) (*mcp.CallToolResultFor[any], error) {
	user := params.Arguments.UserID
	doc, err := t.store.Load(ctx, user)
	if errors.Is(err, storage.ErrNotFound) {
		return errorResult(fmt.Sprintf("no conversation log for %s", user)), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("load %s: %v", user, err)), nil
	}
	return jsonResult(analytics.AnalyzeDocument(doc, t.rules))
}

func (t *Tools) DailyDigest(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[DailyDigestParams]) (*mcp.CallToolResultFor[any], error) {
	day := t.now()
	if params.Arguments.Date != "" {
		parsed, err := time.ParseInLocation("2006-01-02", params.Arguments.Date, time.Local)
		if err != nil {
			return errorResult(fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", params.Arguments.Date)), nil
		}
		day = parsed
	}
	docs, err := storage.LoadAll(ctx, t.store)
	if err != nil {
		return errorResult(fmt.Sprintf("load documents: %v", err)), nil
	}
	stats := analytics.AnalyzeDay(docs, day)
	return textResult(stats.GenerateReportSummary()), nil
}

func (t *Tools) ListParticipants(_ context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[ListParticipantsParams]) (*mcp.CallToolResultFor[any], error) {
	want := ""
	if params.Arguments.Group != "" {
		want = participants.NormalizeGroup(params.Arguments.Group)
		if want == "" {
			return errorResult(fmt.Sprintf("unknown group %q", params.Arguments.Group)), nil
		}
	}
	out := []participants.Participant{}
	for _, p := range t.participants.List() {
		if want == "" || p.Group == want {
			out = append(out, p)
		}
	}
	return jsonResult(out)
}

func jsonResult(v any) (*mcp.CallToolResultFor[any], error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Errorf("encode tool result: %v", err)
		return errorResult(fmt.Sprintf("encode result: %v", err)), nil
	}
	return textResult(string(b)), nil
}

func textResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
