// Package mcpserver exposes a read-only introspection surface over MCP
// (spec §4.11) so an AI rule-authoring assistant can query live engine
// state without hitting the HTTP control-plane API. It never mutates
// state: the control-plane API remains the single writer (spec §5).
package mcpserver

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nodalink/scenariod/internal/model"
	"github.com/nodalink/scenariod/internal/sharedstore"
	"github.com/nodalink/scenariod/internal/suggestions"
)

// Server wraps the MCP server with four read-only tools backed by the
// Shared Coordination Store.
type Server struct {
	store  *sharedstore.Store
	server *mcp.Server
}

// ListScenariosInput takes no parameters; present for schema symmetry.
type ListScenariosInput struct{}

// ScenarioSummary is one entry of the list_scenarios output.
type ScenarioSummary struct {
	Fingerprint string `json:"fingerprint"`
	Room        string `json:"room"`
	ActionCount int    `json:"action_count"`
}

// ListScenariosOutput is the output schema for list_scenarios.
type ListScenariosOutput struct {
	Scenarios []ScenarioSummary `json:"scenarios"`
}

// GetSuggestionsInput is the input schema for get_suggestions.
type GetSuggestionsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Max suggestions to return (default 10)"`
}

// GetSuggestionsOutput is the output schema for get_suggestions.
type GetSuggestionsOutput struct {
	Suggestions []suggestions.Suggestion `json:"suggestions"`
}

// SimulateScenarioInput is the input schema for simulate_scenario.
type SimulateScenarioInput struct {
	Room            string   `json:"room" jsonschema:"Room identifier"`
	InteractionType string   `json:"interaction_type,omitempty" jsonschema:"Interaction type, e.g. single_press"`
	OptionalFlags   []string `json:"optional_flags,omitempty" jsonschema:"Flag identifiers to include"`
}

// SimulateScenarioOutput is the output schema for simulate_scenario.
type SimulateScenarioOutput struct {
	sharedstore.SimulationResult
}

// GetStatsInput takes no parameters; present for schema symmetry.
type GetStatsInput struct{}

// GetStatsOutput is the output schema for get_stats.
type GetStatsOutput struct {
	model.Stats
}

// NewServer builds the MCP server and registers its four read-only
// tools, mirroring this codebase's mcp.NewServer/mcp.AddTool idiom.
func NewServer(st *sharedstore.Store) *Server {
	s := &Server{store: st}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "scenariod-introspection",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_scenarios",
		Description: "List every loaded scenario's fingerprint, room, and action count. Read-only.",
	}, s.handleListScenarios)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_suggestions",
		Description: "Return the top unmatched-fingerprint suggestions, most frequent first. Useful for spotting rules an operator should author.",
	}, s.handleGetSuggestions)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "simulate_scenario",
		Description: "Simulate a room/interaction trigger against the loaded scenarios without dispatching any host action.",
	}, s.handleSimulateScenario)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_stats",
		Description: "Return aggregate scenario statistics: total scenarios, total actions, distinct rooms/buckets/interaction types.",
	}, s.handleGetStats)

	s.server = server
	return s
}

func (s *Server) handleListScenarios(ctx context.Context, req *mcp.CallToolRequest, input ListScenariosInput) (*mcp.CallToolResult, ListScenariosOutput, error) {
	rules := s.store.Rules()
	out := make([]ScenarioSummary, 0, len(rules))
	for fp, rule := range rules {
		out = append(out, ScenarioSummary{Fingerprint: fp, Room: rule.Room, ActionCount: len(rule.Actions)})
	}
	return nil, ListScenariosOutput{Scenarios: out}, nil
}

func (s *Server) handleGetSuggestions(ctx context.Context, req *mcp.CallToolRequest, input GetSuggestionsInput) (*mcp.CallToolResult, GetSuggestionsOutput, error) {
	return nil, GetSuggestionsOutput{Suggestions: suggestions.FromSource(s.store, input.Limit)}, nil
}

func (s *Server) handleSimulateScenario(ctx context.Context, req *mcp.CallToolRequest, input SimulateScenarioInput) (*mcp.CallToolResult, SimulateScenarioOutput, error) {
	result, err := s.store.Simulate(input.Room, input.InteractionType, input.OptionalFlags)
	if err != nil {
		return nil, SimulateScenarioOutput{}, err
	}
	return nil, SimulateScenarioOutput{SimulationResult: result}, nil
}

func (s *Server) handleGetStats(ctx context.Context, req *mcp.CallToolRequest, input GetStatsInput) (*mcp.CallToolResult, GetStatsOutput, error) {
	return nil, GetStatsOutput{Stats: s.store.Stats()}, nil
}

// Run starts the MCP server on stdio.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP starts the MCP server over SSE on addr, for clients that
// prefer a network transport over stdio.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	sseHandler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server { return s.server }, nil)
	mux := http.NewServeMux()
	mux.Handle("/", sseHandler)
	mux.Handle("/sse", sseHandler)

	httpServer := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	err := httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
