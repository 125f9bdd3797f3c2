// Package scheduler runs the polling loop that discovers roots, dispatches
// syncs to a bounded worker pool, and manages each root's lifecycle:
// Discovered → Initializing → Monitored → Changed → Syncing → Monitored |
// Errored(n) → (Retired | Monitored), per spec.md §4.I. Grounded in the
// teacher's queue.WorkerPool/Worker split (pkg/queue/pool.go,
// pkg/queue/worker.go): a pool owns the goroutines and the stop signal, a
// per-dispatch unit does the work and reports back.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/papai0709/syncengine/pkg/config"
	"github.com/papai0709/syncengine/pkg/ledger"
	"github.com/papai0709/syncengine/pkg/reconcile"
	"github.com/papai0709/syncengine/pkg/snapshotstore"
	"github.com/papai0709/syncengine/pkg/synckit"
	"github.com/papai0709/syncengine/pkg/syncworker"
	"github.com/papai0709/syncengine/pkg/tracker"
)

// State is one root's position in the monitoring state machine.
type State string

const (
	StateDiscovered  State = "Discovered"
	StateInitializing State = "Initializing"
	StateMonitored   State = "Monitored"
	StateChanged     State = "Changed"
	StateSyncing     State = "Syncing"
	StateErrored     State = "Errored"
	StateRetired     State = "Retired"
)

const maxConsecutiveErrors = 3

// RootMonitorState is the scheduler's per-root bookkeeping. Mutated only by
// the scheduler's own goroutine; workers report results via a channel and
// never touch this struct directly, per spec.md's shared-resources rule.
type RootMonitorState struct {
	RootID            string
	RootType          tracker.RootType
	State             State
	ConsecutiveErrors int
	LastCheck         time.Time
	LastSyncResult    *syncworker.SyncResult
	StoriesExtracted  int
}

// dispatchResult pairs a worker's outcome with the root it ran for, so the
// scheduler goroutine can fold it back into RootMonitorState without the
// worker needing to know about the state map at all.
type dispatchResult struct {
	rootID string
	result syncworker.SyncResult
}

// Scheduler owns the poll loop, the bounded worker pool, and every
// RootMonitorState. Only the scheduler's own goroutine reads or writes the
// states map outside of the read-only snapshot methods, which take mu.
type Scheduler struct {
	live      *config.Live
	worker    *syncworker.Worker
	tracker   tracker.Adapter
	snapshots *snapshotstore.Store
	ledgerRef *ledger.Ledger

	mu     sync.RWMutex
	states map[string]*RootMonitorState

	sem chan struct{} // bounded worker pool: one slot per concurrent sync

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	log *slog.Logger
}

// New constructs a Scheduler. live provides the hot-reloadable
// configuration; worker runs the actual fetch/score/generate/reconcile
// sequence for one root at a time.
func New(live *config.Live, worker *syncworker.Worker, trackerAdapter tracker.Adapter, snapshots *snapshotstore.Store, ledgerRef *ledger.Ledger, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	cfg := live.Current()
	return &Scheduler{
		live:      live,
		worker:    worker,
		tracker:   trackerAdapter,
		snapshots: snapshots,
		ledgerRef: ledgerRef,
		states:    make(map[string]*RootMonitorState),
		sem:       make(chan struct{}, cfg.MaxConcurrentSyncs),
		stopCh:    make(chan struct{}),
		log:       log,
	}
}

// Start rehydrates RootMonitorState from the snapshot store, seeds any
// configured bootstrap root_ids, and begins the poll loop. Safe to call
// only once; subsequent calls are no-ops.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.Rehydrate(ctx)

	cfg := s.live.Current()
	for _, id := range cfg.RootIDs {
		s.ensureTracked(tracker.TypeEpic, id)
	}

	s.wg.Add(1)
	go s.run(ctx)

	s.log.Info("scheduler started", "poll_interval", cfg.PollInterval())
	return nil
}

// Stop signals the poll loop to exit, waits up to the grace period for
// in-flight workers to finish, then returns. Per spec.md's cancellation
// contract, the grace period is bounded by pool-size × a per-worker budget
// rather than being unbounded.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	grace := time.Duration(s.capacity()) * 2 * time.Minute
	select {
	case <-done:
		s.log.Info("scheduler stopped gracefully")
	case <-time.After(grace):
		s.log.Warn("scheduler grace period elapsed, forcing shutdown", "grace", grace)
	}
}

func (s *Scheduler) capacity() int {
	return cap(s.sem)
}

// Rehydrate walks the snapshot directory and seeds RootMonitorState for
// every snapshot found, so a restart doesn't treat every root as
// first-seen, then reconciles each seeded root against the tracker's
// current existence: a root that vanished while the process was down is
// retired immediately here rather than waiting for the usual three
// consecutive poll-tick failures. Called once by Start before the first
// tick.
func (s *Scheduler) Rehydrate(ctx context.Context) {
	stems, err := s.snapshots.List()
	if err != nil {
		s.log.Warn("failed to rehydrate from snapshot directory", "error", err)
		return
	}

	seeded := make([]*RootMonitorState, 0, len(stems))
	for _, stem := range stems {
		rootType, rootID, ok := splitStem(stem)
		if !ok {
			continue
		}
		st := &RootMonitorState{RootID: rootID, RootType: rootType, State: StateMonitored, LastCheck: time.Now()}
		s.mu.Lock()
		s.states[rootID] = st
		s.mu.Unlock()
		seeded = append(seeded, st)
	}
	s.log.Info("rehydrated root states from snapshots", "count", len(seeded))

	for _, st := range seeded {
		exists, err := s.tracker.Exists(ctx, st.RootID)
		if err != nil {
			s.log.Warn("rehydration existence check failed, leaving root monitored", "root_id", st.RootID, "error", err)
			continue
		}
		if !exists {
			s.log.Info("root vanished while process was down, retiring immediately", "root_id", st.RootID)
			s.retireWithReason(ctx, st, "root vanished while process was down")
		}
	}
}

func splitStem(stem string) (tracker.RootType, string, bool) {
	for _, t := range []tracker.RootType{tracker.TypeEpic, tracker.TypeFeature, tracker.TypeStory, tracker.TypeTask, tracker.TypeTestCase} {
		prefix := toLowerType(t) + "_"
		if len(stem) > len(prefix) && stem[:len(prefix)] == prefix {
			return t, stem[len(prefix):], true
		}
	}
	return "", "", false
}

func toLowerType(t tracker.RootType) string {
	out := make([]byte, len(t))
	for i := 0; i < len(t); i++ {
		c := t[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func (s *Scheduler) ensureTracked(rootType tracker.RootType, rootID string) {
	s.mu.Lock()
	_, known := s.states[rootID]
	if !known {
		s.states[rootID] = &RootMonitorState{RootID: rootID, RootType: rootType, State: StateDiscovered}
	}
	s.mu.Unlock()

	if !known && s.worker.Notifier != nil {
		s.worker.Notifier.RootDiscovered(context.Background(), string(rootType), rootID)
	}
}

// run is the poll loop: sleep, discover, dispatch, fold results, repeat.
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	cfg := s.live.Current()
	ticker := time.NewTicker(cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.flushDirtyStates()
			return
		case <-ctx.Done():
			s.flushDirtyStates()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs exactly one scheduling pass: auto-discovery, then a dispatch
// for every non-retired, non-excluded root, bounded by the semaphore.
func (s *Scheduler) tick(ctx context.Context) {
	cfg := s.live.Current()

	if cfg.AutoSync {
		s.discover(ctx, cfg)
	}

	s.mu.RLock()
	ids := make([]string, 0, len(s.states))
	for id, st := range s.states {
		if st.State != StateRetired {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	results := make(chan dispatchResult, len(ids))
	var dispatchWG sync.WaitGroup

	for _, id := range ids {
		if cfg.IsExcluded(id) {
			continue
		}
		s.mu.RLock()
		st := s.states[id]
		s.mu.RUnlock()
		if st == nil {
			continue
		}

		s.setState(id, StateSyncing)
		dispatchWG.Add(1)
		s.sem <- struct{}{}
		go func(st RootMonitorState) {
			defer dispatchWG.Done()
			defer func() { <-s.sem }()
			result := s.worker.SyncRoot(ctx, st.RootType, st.RootID, cfg)
			results <- dispatchResult{rootID: st.RootID, result: result}
		}(*st)
	}

	go func() {
		dispatchWG.Wait()
		close(results)
	}()

	for r := range results {
		s.foldResult(ctx, r)
	}
}

// discover queries the tracker for every root of the configured type and
// skips excluded and already-monitored IDs. A new ID is tracked only when
// auto_extract_new_roots is on and the ledger has no entry for it; any
// other new ID is not tracked at all (spec.md §4.I auto-discover).
func (s *Scheduler) discover(ctx context.Context, cfg *config.Config) {
	ids, err := s.tracker.ListByType(ctx, tracker.RootType(cfg.RequirementType))
	if err != nil {
		s.log.Warn("auto-discovery failed", "error", err)
		return
	}

	for _, id := range ids {
		if cfg.IsExcluded(id) {
			continue
		}
		s.mu.RLock()
		_, known := s.states[id]
		s.mu.RUnlock()
		if known {
			continue
		}
		if cfg.AutoExtractNewRoots && !s.ledgerRef.Contains(cfg.RequirementType, id) {
			s.ensureTracked(tracker.RootType(cfg.RequirementType), id)
			s.log.Info("discovered new root", "root_id", id)
		}
	}
}

// foldResult applies a completed sync's outcome to RootMonitorState:
// success resets the error counter, failure increments it and, once it
// reaches the retirement threshold, retires the root (retire consults the
// tracker only to choose the logged reason).
func (s *Scheduler) foldResult(ctx context.Context, r dispatchResult) {
	s.mu.Lock()
	st, ok := s.states[r.rootID]
	if !ok {
		s.mu.Unlock()
		return
	}
	st.LastCheck = time.Now()
	res := r.result
	st.LastSyncResult = &res
	if res.Success {
		st.ConsecutiveErrors = 0
		st.State = StateMonitored
		st.StoriesExtracted += res.StoriesCreated
		s.mu.Unlock()
		return
	}

	st.ConsecutiveErrors++
	if st.ConsecutiveErrors < maxConsecutiveErrors {
		st.State = StateErrored
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.retire(ctx, st)
}

// retire removes a root's in-memory state, ledger entry, and snapshot
// file, and notifies, after consecutive_errors reaches the threshold.
func (s *Scheduler) retire(ctx context.Context, st *RootMonitorState) {
	reason := "repeated sync failures"
	exists, err := s.tracker.Exists(ctx, st.RootID)
	if err == nil && !exists {
		reason = "root no longer exists in tracker"
	}
	s.retireWithReason(ctx, st, reason)
}

// retireWithReason does the actual retirement bookkeeping for a reason
// already known to the caller, so Rehydrate doesn't need to re-check
// existence a root it just confirmed is gone.
func (s *Scheduler) retireWithReason(ctx context.Context, st *RootMonitorState, reason string) {
	if err := s.snapshots.Delete(string(st.RootType), st.RootID); err != nil {
		s.log.Warn("failed to delete snapshot during retirement", "root_id", st.RootID, "error", err)
	}
	if err := s.ledgerRef.Remove(string(st.RootType), st.RootID); err != nil {
		s.log.Warn("failed to remove ledger entry during retirement", "root_id", st.RootID, "error", err)
	}

	s.mu.Lock()
	delete(s.states, st.RootID)
	s.mu.Unlock()

	s.log.Info("root retired", "root_id", st.RootID, "reason", reason)
	if s.worker.Notifier != nil {
		s.worker.Notifier.RootRetired(ctx, string(st.RootType), st.RootID, reason)
	}
}

func (s *Scheduler) setState(rootID string, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[rootID]; ok {
		st.State = state
	}
}

// flushDirtyStates is a placeholder hook: RootMonitorState itself holds no
// unsaved data beyond what SyncRoot already persisted per-call, but
// shutdown still calls this so a future field added to RootMonitorState
// has an obvious place to be flushed.
func (s *Scheduler) flushDirtyStates() {}

// Status is the read-only view served by the control surface's GET status.
type Status struct {
	Running    bool
	RootCount  int
	PollEvery  time.Duration
}

// Status returns the scheduler's current high-level status. Running is
// false before Start and again once Stop has been called.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	running := s.started
	select {
	case <-s.stopCh:
		running = false
	default:
	}
	return Status{
		Running:   running,
		RootCount: len(s.states),
		PollEvery: s.live.Current().PollInterval(),
	}
}

// RootView is the per-root summary served by GET roots.
type RootView struct {
	RootID           string
	RootType         tracker.RootType
	State            State
	ConsecutiveErrors int
	StoriesExtracted  int
	LastCheck         time.Time
}

// Roots returns a snapshot of every tracked root's summary view.
func (s *Scheduler) Roots() []RootView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RootView, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, RootView{
			RootID:            st.RootID,
			RootType:          st.RootType,
			State:             st.State,
			ConsecutiveErrors: st.ConsecutiveErrors,
			StoriesExtracted:  st.StoriesExtracted,
			LastCheck:         st.LastCheck,
		})
	}
	return out
}

// ForceCheck immediately dispatches a sync for rootID, bypassing the poll
// tick, for the control surface's force-check endpoint. It still respects
// the significance/cooldown/cap gate SyncRoot itself applies — it brings the
// next tick forward, it does not bypass it — so a root still inside its
// extraction_cooldown_hours window is rejected outright with
// ErrCooldownNotElapsed rather than silently returning a no-op success; use
// force-reextract to bypass the gate entirely.
func (s *Scheduler) ForceCheck(ctx context.Context, rootID string) (syncworker.SyncResult, error) {
	s.mu.RLock()
	st, ok := s.states[rootID]
	s.mu.RUnlock()
	if !ok {
		return syncworker.SyncResult{}, synckit.ErrUnknownRoot
	}

	cfg := s.live.Current()
	if last, ok := s.ledgerRef.LastExtractionAt(rootID); ok {
		if cooldown := cfg.ExtractionCooldown(); cooldown > 0 && time.Since(last) < cooldown {
			return syncworker.SyncResult{}, synckit.New(synckit.KindValidation, rootID, synckit.ErrCooldownNotElapsed).
				WithHint("wait for extraction_cooldown_hours to elapse, or use force-reextract to bypass it")
		}
	}

	s.setState(rootID, StateSyncing)
	result := s.worker.SyncRoot(ctx, st.RootType, rootID, cfg)
	s.foldResult(ctx, dispatchResult{rootID: rootID, result: result})
	return result, nil
}

// ForceReextract re-runs story generation for rootID unconditionally,
// bypassing the significance threshold and max_changes_per_root cap, and
// commits the result to the tracker. Gated by manual_override_enabled at
// the control-surface layer, per spec.md §6.
func (s *Scheduler) ForceReextract(ctx context.Context, rootID string) (reconcile.Result, error) {
	s.mu.RLock()
	st, ok := s.states[rootID]
	s.mu.RUnlock()
	if !ok {
		return reconcile.Result{}, synckit.ErrUnknownRoot
	}

	cfg := s.live.Current()
	s.setState(rootID, StateSyncing)
	_, partition, err := s.worker.ExtractStories(ctx, st.RootType, rootID, cfg)
	if err != nil {
		s.foldResult(ctx, dispatchResult{rootID: rootID, result: syncworker.SyncResult{RootID: rootID, Err: err}})
		return reconcile.Result{}, err
	}

	created, updated := s.worker.ApplyReconciliation(ctx, cfg, rootID, partition)
	if err := s.ledgerRef.ResetExtractionStats(rootID); err != nil {
		s.log.Warn("failed to reset extraction stats after force-reextract", "root_id", rootID, "error", err)
	}
	s.foldResult(ctx, dispatchResult{rootID: rootID, result: syncworker.SyncResult{
		RootID: rootID, Success: true, StoriesCreated: created, StoriesUpdated: updated, Timestamp: time.Now(),
	}})
	return partition, nil
}

// HierarchyView pairs a root with the sync state of each of its features.
// No function in this package returns it; GET hierarchy/status serves the
// flat list from HierarchyStatus.
type HierarchyView struct {
	RootID   string
	Features []RootView
}

// SyncHierarchy syncs rootID and then every feature returned by
// GetHierarchy, so a single call refreshes a whole epic → feature → story
// tree instead of requiring one force-check per feature.
func (s *Scheduler) SyncHierarchy(ctx context.Context, rootID string) ([]syncworker.SyncResult, error) {
	cfg := s.live.Current()

	hierarchy, err := s.tracker.GetHierarchy(ctx, rootID)
	if err != nil {
		return nil, err
	}

	results := make([]syncworker.SyncResult, 0, 1+len(hierarchy.Features))
	results = append(results, s.worker.SyncRoot(ctx, tracker.RootType(cfg.RequirementType), rootID, cfg))

	for _, f := range hierarchy.Features {
		s.ensureTracked(tracker.TypeFeature, f.ID)
		result := s.worker.SyncRoot(ctx, tracker.TypeFeature, f.ID, cfg)
		s.foldResult(ctx, dispatchResult{rootID: f.ID, result: result})
		results = append(results, result)
	}

	return results, nil
}

// HierarchyStatus returns the same per-root views as Roots: every tracked
// root, epics and features alike, as one flat list. Features are not
// grouped under their parent root (the scheduler keeps no parent-child
// index).
func (s *Scheduler) HierarchyStatus() []RootView {
	return s.Roots()
}
