package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papai0709/syncengine/pkg/config"
	"github.com/papai0709/syncengine/pkg/generator"
	"github.com/papai0709/syncengine/pkg/ledger"
	"github.com/papai0709/syncengine/pkg/snapshotstore"
	"github.com/papai0709/syncengine/pkg/synckit"
	"github.com/papai0709/syncengine/pkg/syncworker"
	"github.com/papai0709/syncengine/pkg/tokens"
	"github.com/papai0709/syncengine/pkg/tracker"
)

type fakeTracker struct {
	mu       sync.Mutex
	roots    map[string]*tracker.Root
	listIDs  []string
	existsFn func(id string) (bool, error)
}

func (f *fakeTracker) GetRoot(ctx context.Context, id string) (*tracker.Root, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.roots[id]; ok {
		return r, nil
	}
	return &tracker.Root{ID: id, Title: "t", State: "Active", LastModified: time.Now()}, nil
}
func (f *fakeTracker) GetChildren(ctx context.Context, id string) ([]tracker.ExistingChild, error) {
	return nil, nil
}
func (f *fakeTracker) GetHierarchy(ctx context.Context, rootID string) (*tracker.Hierarchy, error) {
	return nil, nil
}
func (f *fakeTracker) ListByType(ctx context.Context, t tracker.RootType) ([]string, error) {
	return f.listIDs, nil
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
func (f *fakeTracker) Exists(ctx context.Context, id string) (bool, error) {
	if f.existsFn != nil {
		return f.existsFn(id)
	}
	return true, nil
}

type failingGenerator struct {
	calls int32
}

func (g *failingGenerator) Chat(ctx context.Context, messages []generator.Message, temperature float64, maxTokens int) (string, error) {
	atomic.AddInt32(&g.calls, 1)
	return "", assertErr("generator down")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

type recordingNotifier struct {
	mu      sync.Mutex
	retired []string
}

func (n *recordingNotifier) RootRetired(ctx context.Context, rootType, rootID, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.retired = append(n.retired, rootID)
}
func (n *recordingNotifier) RootDiscovered(ctx context.Context, rootType, rootID string) {}

func newTestScheduler(t *testing.T, tr *fakeTracker, gen generator.Adapter, notifier *recordingNotifier) *Scheduler {
	t.Helper()
	store, err := snapshotstore.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	led, err := ledger.Load(t.TempDir()+"/ledger.json", "Epic", nil)
	require.NoError(t, err)
	acct := tokens.New(t.TempDir()+"/tokens.json", nil)

	cfg := config.Defaults()
	cfg.RequirementType = "Epic"
	cfg.UserStoryType = "Story"
	cfg.StoryExtractionType = "story_extraction"
	cfg.TestCaseExtractionType = "TestCase"
	cfg.PollIntervalSeconds = 1
	cfg.MaxConcurrentSyncs = 2
	live := config.NewLive(cfg)

	w := &syncworker.Worker{
		Tracker:   tr,
		Generator: gen,
		Snapshots: store,
		Ledger:    led,
		Tokens:    acct,
		Notifier:  notifier,
	}

	return New(live, w, tr, store, led, nil)
}

func TestScheduler_DiscoverTracksNewUnexcludedRoots(t *testing.T) {
	tr := &fakeTracker{listIDs: []string{"E1", "E2"}}
	s := newTestScheduler(t, tr, &failingGenerator{}, nil)

	s.discover(context.Background(), s.live.Current())

	roots := s.Roots()
	ids := map[string]bool{}
	for _, r := range roots {
		ids[r.RootID] = true
	}
	assert.True(t, ids["E1"])
	assert.True(t, ids["E2"])
}

func TestScheduler_DiscoverSkipsExcludedRoots(t *testing.T) {
	tr := &fakeTracker{listIDs: []string{"E1", "E2"}}
	s := newTestScheduler(t, tr, &failingGenerator{}, nil)
	cfg := s.live.Current()
	cfg.ExcludedRootIDs = []string{"E2"}
	require.NoError(t, s.live.Replace(cfg))

	s.discover(context.Background(), s.live.Current())

	roots := s.Roots()
	for _, r := range roots {
		assert.NotEqual(t, "E2", r.RootID)
	}
}

func TestScheduler_RetiresRootAfterThreeConsecutiveErrors(t *testing.T) {
	tr := &fakeTracker{existsFn: func(id string) (bool, error) { return false, nil }}
	notifier := &recordingNotifier{}
	s := newTestScheduler(t, tr, &failingGenerator{}, notifier)
	s.ensureTracked(tracker.TypeEpic, "E1")

	ctx := context.Background()
	for i := 0; i < maxConsecutiveErrors; i++ {
		cfg := s.live.Current()
		result := s.worker.SyncRoot(ctx, tracker.TypeEpic, "E1", cfg)
		s.foldResult(ctx, dispatchResult{rootID: "E1", result: result})
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Contains(t, notifier.retired, "E1")

	roots := s.Roots()
	for _, r := range roots {
		assert.NotEqual(t, "E1", r.RootID)
	}
}

func TestScheduler_SuccessResetsErrorCounter(t *testing.T) {
	tr := &fakeTracker{}
	s := newTestScheduler(t, tr, &failingGenerator{}, nil)
	s.ensureTracked(tracker.TypeEpic, "E1")

	ctx := context.Background()
	cfg := s.live.Current()

	failResult := s.worker.SyncRoot(ctx, tracker.TypeEpic, "E1", cfg)
	s.foldResult(ctx, dispatchResult{rootID: "E1", result: failResult})

	s.mu.RLock()
	errs := s.states["E1"].ConsecutiveErrors
	s.mu.RUnlock()
	require.Equal(t, 1, errs)

	s.worker.Generator = &noopGenerator{}
	okResult := s.worker.SyncRoot(ctx, tracker.TypeEpic, "E1", cfg)
	s.foldResult(ctx, dispatchResult{rootID: "E1", result: okResult})

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Equal(t, 0, s.states["E1"].ConsecutiveErrors)
	assert.Equal(t, StateMonitored, s.states["E1"].State)
}

type noopGenerator struct{}

func (noopGenerator) Chat(ctx context.Context, messages []generator.Message, temperature float64, maxTokens int) (string, error) {
	return `[]`, nil
}

func TestScheduler_ForceCheckUnknownRootReturnsError(t *testing.T) {
	tr := &fakeTracker{}
	s := newTestScheduler(t, tr, &failingGenerator{}, nil)

	_, err := s.ForceCheck(context.Background(), "does-not-exist")
	require.Error(t, err)
}

func TestScheduler_RehydrateRetiresRootThatVanishedWhileDown(t *testing.T) {
	tr := &fakeTracker{existsFn: func(id string) (bool, error) { return false, nil }}
	notifier := &recordingNotifier{}
	s := newTestScheduler(t, tr, &failingGenerator{}, notifier)

	snap := snapshotstore.New(snapshotstore.Fields{Title: "Checkout"}, time.Now())
	require.NoError(t, s.snapshots.Save("Epic", "E1", snap))

	s.Rehydrate(context.Background())

	roots := s.Roots()
	for _, r := range roots {
		assert.NotEqual(t, "E1", r.RootID)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Contains(t, notifier.retired, "E1")
}

func TestScheduler_RehydrateKeepsRootStillPresentInTracker(t *testing.T) {
	tr := &fakeTracker{existsFn: func(id string) (bool, error) { return true, nil }}
	s := newTestScheduler(t, tr, &failingGenerator{}, nil)

	snap := snapshotstore.New(snapshotstore.Fields{Title: "Checkout"}, time.Now())
	require.NoError(t, s.snapshots.Save("Epic", "E1", snap))

	s.Rehydrate(context.Background())

	roots := s.Roots()
	var found bool
	for _, r := range roots {
		if r.RootID == "E1" {
			found = true
			assert.Equal(t, StateMonitored, r.State)
		}
	}
	assert.True(t, found, "root still present in the tracker must remain monitored after rehydration")
}

func TestScheduler_ForceCheckRejectsWithinCooldownWindow(t *testing.T) {
	tr := &fakeTracker{}
	s := newTestScheduler(t, tr, &noopGenerator{}, nil)
	s.ensureTracked(tracker.TypeEpic, "E1")

	cfg := s.live.Current()
	cfg.ExtractionCooldownHours = 1
	require.NoError(t, s.live.Replace(cfg))
	require.NoError(t, s.ledgerRef.RecordExtraction("E1", 1.0))

	_, err := s.ForceCheck(context.Background(), "E1")

	require.Error(t, err)
	assert.ErrorIs(t, err, synckit.ErrCooldownNotElapsed)
}

func TestScheduler_StartThenStopIsGraceful(t *testing.T) {
	tr := &fakeTracker{listIDs: []string{}}
	s := newTestScheduler(t, tr, &noopGenerator{}, nil)

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(10 * time.Millisecond)
	s.Stop()

	assert.False(t, s.Status().Running)
}
