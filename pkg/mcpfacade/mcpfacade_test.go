package mcpfacade

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papai0709/syncengine/pkg/config"
	"github.com/papai0709/syncengine/pkg/generator"
	"github.com/papai0709/syncengine/pkg/ledger"
	"github.com/papai0709/syncengine/pkg/scheduler"
	"github.com/papai0709/syncengine/pkg/snapshotstore"
	"github.com/papai0709/syncengine/pkg/syncworker"
	"github.com/papai0709/syncengine/pkg/tokens"
	"github.com/papai0709/syncengine/pkg/tracker"
)

func TestNormalizeToolName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"double underscore to dot", "sync-engine__list_roots", "sync-engine.list_roots"},
		{"already dotted passthrough", "sync-engine.list_roots", "sync-engine.list_roots"},
		{"no separator passthrough", "list_roots", "list_roots"},
		{"empty string", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeToolName(tt.input))
		})
	}
}

func TestSplitToolName(t *testing.T) {
	server, tool, err := SplitToolName("sync-engine.list_roots")
	require.NoError(t, err)
	assert.Equal(t, "sync-engine", server)
	assert.Equal(t, "list_roots", tool)

	_, _, err = SplitToolName("not-a-valid-name")
	assert.Error(t, err)
}

type fakeTracker struct {
	root *tracker.Root
}

func (f *fakeTracker) GetRoot(ctx context.Context, id string) (*tracker.Root, error) { return f.root, nil }
func (f *fakeTracker) GetChildren(ctx context.Context, id string) ([]tracker.ExistingChild, error) {
	return nil, nil
}
func (f *fakeTracker) GetHierarchy(ctx context.Context, rootID string) (*tracker.Hierarchy, error) {
	return &tracker.Hierarchy{}, nil
}
func (f *fakeTracker) ListByType(ctx context.Context, t tracker.RootType) ([]string, error) {
	return nil, nil
}
func (f *fakeTracker) Create(ctx context.Context, t tracker.RootType, fields tracker.CreateFields, parentID string) (string, error) {
	return "new-1", nil
}
func (f *fakeTracker) Update(ctx context.Context, id string, fields tracker.CreateFields) error {
	return nil
}
func (f *fakeTracker) LinkParentChild(ctx context.Context, parentID, childID string) error {
	return nil
}
func (f *fakeTracker) Exists(ctx context.Context, id string) (bool, error) { return true, nil }

type fakeGenerator struct{}

func (fakeGenerator) Chat(ctx context.Context, messages []generator.Message, temperature float64, maxTokens int) (string, error) {
	return `[]`, nil
}

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	tr := &fakeTracker{root: &tracker.Root{ID: "E1", Title: "Checkout", State: "Active", LastModified: time.Now()}}
	store, err := snapshotstore.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	led, err := ledger.Load(t.TempDir()+"/ledger.json", "Epic", nil)
	require.NoError(t, err)
	acct := tokens.New(t.TempDir()+"/tokens.json", nil)

	cfg := config.Defaults()
	cfg.RequirementType = "Epic"
	cfg.UserStoryType = "Story"
	live := config.NewLive(cfg)

	worker := &syncworker.Worker{Tracker: tr, Generator: fakeGenerator{}, Snapshots: store, Ledger: led, Tokens: acct}
	sched := scheduler.New(live, worker, tr, store, led, nil)

	return New(live, sched, worker, acct)
}

func TestFacade_CallUnknownToolReturnsError(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.Call(context.Background(), "sync-engine.does_not_exist", nil)
	assert.Error(t, err)
}

func TestFacade_CallUnknownServerReturnsError(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.Call(context.Background(), "other-server.list_roots", nil)
	assert.Error(t, err)
}

func TestFacade_StatusReportsNotRunningBeforeStart(t *testing.T) {
	f := newTestFacade(t)
	result, err := f.Call(context.Background(), "sync-engine.status", nil)
	require.NoError(t, err)
	status := result.(map[string]any)
	assert.Equal(t, false, status["running"])
}

func TestFacade_ForceCheckUnknownRootReturnsError(t *testing.T) {
	f := newTestFacade(t)
	params, err := json.Marshal(rootIDParams{RootID: "does-not-exist"})
	require.NoError(t, err)

	_, err = f.Call(context.Background(), "sync-engine__force_check", params)
	assert.Error(t, err)
}

func TestFacade_ToolsListsEveryRegisteredTool(t *testing.T) {
	f := newTestFacade(t)
	tools := f.Tools()
	assert.NotEmpty(t, tools)

	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.Name] = true
	}
	assert.True(t, names["sync-engine.list_roots"])
	assert.True(t, names["sync-engine.force_reextract"])
}
