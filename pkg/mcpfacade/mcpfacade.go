// Package mcpfacade exposes the same control/query operations as pkg/api,
// but as MCP tools instead of HTTP routes: a model-facing client can list
// roots, force a check, or read the token dashboard by calling a tool name
// rather than hitting a REST endpoint. Grounded in the teacher's
// pkg/mcp/router.go tool-name conventions ("server.tool", NormalizeToolName,
// SplitToolName) — this package reuses the same naming scheme rather than
// the tool-calling transport itself, which the teacher gets from the MCP
// Go SDK and this engine does not need (it serves tools, it doesn't call
// them).
package mcpfacade

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/papai0709/syncengine/pkg/config"
	"github.com/papai0709/syncengine/pkg/scheduler"
	"github.com/papai0709/syncengine/pkg/syncworker"
	"github.com/papai0709/syncengine/pkg/tokens"
	"github.com/papai0709/syncengine/pkg/tracker"
)

// ServerID namespaces every tool this facade serves, e.g.
// "sync-engine.list_roots".
const ServerID = "sync-engine"

var toolNameRegex = regexp.MustCompile(`^([\w][\w-]*)\.([\w][\w-]*)$`)

// NormalizeToolName converts "server__tool" (used by function-calling APIs
// that reject dots in names) to the canonical "server.tool" form.
func NormalizeToolName(name string) string {
	if strings.Contains(name, "__") && !strings.Contains(name, ".") {
		return strings.Replace(name, "__", ".", 1)
	}
	return name
}

// SplitToolName splits "server.tool" into (serverID, toolName, error).
func SplitToolName(name string) (serverID, toolName string, err error) {
	matches := toolNameRegex.FindStringSubmatch(name)
	if matches == nil {
		return "", "", fmt.Errorf(
			"invalid tool name %q: must be in 'server.tool' format (e.g., %q)", name, ServerID+".list_roots")
	}
	return matches[1], matches[2], nil
}

// Handler executes one tool call against raw JSON parameters and returns a
// JSON-serializable result.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Tool is one callable operation this facade exposes.
type Tool struct {
	Name        string
	Description string
	Handler     Handler
}

// Facade dispatches MCP-style tool calls onto the scheduler and worker,
// mirroring pkg/api's route handlers but addressed by tool name instead of
// HTTP method+path.
type Facade struct {
	live      *config.Live
	scheduler *scheduler.Scheduler
	worker    *syncworker.Worker
	tokens    *tokens.Accountant

	tools map[string]Tool
}

// New builds the facade and registers every tool.
func New(live *config.Live, sched *scheduler.Scheduler, worker *syncworker.Worker, acct *tokens.Accountant) *Facade {
	f := &Facade{live: live, scheduler: sched, worker: worker, tokens: acct, tools: map[string]Tool{}}
	f.register()
	return f
}

func (f *Facade) register() {
	f.add("start", "Start the sync scheduler", f.toolStart)
	f.add("stop", "Stop the sync scheduler", f.toolStop)
	f.add("status", "Report scheduler status", f.toolStatus)
	f.add("list_roots", "List every monitored root with its state", f.toolListRoots)
	f.add("force_check", "Force an immediate sync for one root", f.toolForceCheck)
	f.add("force_reextract", "Force story re-extraction for one root, bypassing thresholds", f.toolForceReextract)
	f.add("sync_hierarchy", "Sync a root and every feature beneath it", f.toolSyncHierarchy)
	f.add("hierarchy_status", "Report sync state for every tracked root", f.toolHierarchyStatus)
	f.add("stats", "Report token usage and cost statistics", f.toolStats)
	f.add("tokens_dashboard", "Report the token usage dashboard", f.toolTokensDashboard)
	f.add("tokens_clear", "Clear accumulated token usage statistics", f.toolTokensClear)
	f.add("requirement_stories", "Extract (and optionally apply) stories for a requirement", f.toolRequirementStories)
}

func (f *Facade) add(name, description string, handler Handler) {
	f.tools[name] = Tool{Name: ServerID + "." + name, Description: description, Handler: handler}
}

// Tools returns every registered tool, for advertising an MCP tools/list
// response.
func (f *Facade) Tools() []Tool {
	out := make([]Tool, 0, len(f.tools))
	for _, t := range f.tools {
		out = append(out, t)
	}
	return out
}

// Call dispatches a tool call by its fully-qualified "server.tool" name.
func (f *Facade) Call(ctx context.Context, name string, params json.RawMessage) (any, error) {
	serverID, toolName, err := SplitToolName(NormalizeToolName(name))
	if err != nil {
		return nil, err
	}
	if serverID != ServerID {
		return nil, fmt.Errorf("unknown MCP server %q", serverID)
	}

	tool, ok := f.tools[toolName]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", toolName)
	}
	return tool.Handler(ctx, params)
}

func (f *Facade) toolStart(ctx context.Context, _ json.RawMessage) (any, error) {
	if err := f.scheduler.Start(ctx); err != nil {
		return nil, err
	}
	return map[string]any{"running": true}, nil
}

func (f *Facade) toolStop(_ context.Context, _ json.RawMessage) (any, error) {
	f.scheduler.Stop()
	return map[string]any{"running": false}, nil
}

func (f *Facade) toolStatus(_ context.Context, _ json.RawMessage) (any, error) {
	status := f.scheduler.Status()
	return map[string]any{
		"running":       status.Running,
		"root_count":    status.RootCount,
		"poll_interval": status.PollEvery.String(),
	}, nil
}

func (f *Facade) toolListRoots(_ context.Context, _ json.RawMessage) (any, error) {
	return f.scheduler.Roots(), nil
}

type rootIDParams struct {
	RootID string `json:"root_id"`
}

func (f *Facade) toolForceCheck(ctx context.Context, params json.RawMessage) (any, error) {
	var p rootIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	return f.scheduler.ForceCheck(ctx, p.RootID)
}

func (f *Facade) toolForceReextract(ctx context.Context, params json.RawMessage) (any, error) {
	if !f.live.Current().ManualOverrideEnabled {
		return nil, fmt.Errorf("manual override is disabled")
	}
	var p rootIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	return f.scheduler.ForceReextract(ctx, p.RootID)
}

func (f *Facade) toolSyncHierarchy(ctx context.Context, params json.RawMessage) (any, error) {
	var p rootIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	return f.scheduler.SyncHierarchy(ctx, p.RootID)
}

func (f *Facade) toolHierarchyStatus(_ context.Context, _ json.RawMessage) (any, error) {
	return f.scheduler.HierarchyStatus(), nil
}

func (f *Facade) toolStats(_ context.Context, _ json.RawMessage) (any, error) {
	return f.tokens.GetStats(), nil
}

func (f *Facade) toolTokensDashboard(_ context.Context, _ json.RawMessage) (any, error) {
	return f.tokens.GetDashboard(), nil
}

func (f *Facade) toolTokensClear(_ context.Context, _ json.RawMessage) (any, error) {
	f.tokens.Clear()
	return map[string]any{"status": "cleared"}, nil
}

type requirementStoriesParams struct {
	RootID string `json:"root_id"`
	Apply  bool   `json:"apply"`
}

func (f *Facade) toolRequirementStories(ctx context.Context, params json.RawMessage) (any, error) {
	var p requirementStoriesParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	cfg := f.live.Current()
	_, partition, err := f.worker.ExtractStories(ctx, tracker.RootType(cfg.RequirementType), p.RootID, cfg)
	if err != nil {
		return nil, err
	}

	if !p.Apply {
		return map[string]any{
			"proposed_create": len(partition.Create),
			"proposed_update": len(partition.Update),
			"unchanged":       len(partition.Unchanged),
		}, nil
	}

	created, updated := f.worker.ApplyReconciliation(ctx, cfg, p.RootID, partition)
	return map[string]any{"created": created, "updated": updated, "unchanged": len(partition.Unchanged)}, nil
}
