// Package syncworker runs the per-root sync sequence: fetch the current
// tracker state, score it against the last snapshot, and — if the change
// is significant — ask the generator for stories, reconcile them against
// existing children, apply the result, optionally cascade to test cases,
// and persist everything. Grounded in the teacher's queue.Worker control
// flow (pkg/queue/worker.go): a single-purpose Run loop driven by an
// external dispatcher, reporting its outcome rather than managing its own
// schedule.
package syncworker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/papai0709/syncengine/pkg/config"
	"github.com/papai0709/syncengine/pkg/generator"
	"github.com/papai0709/syncengine/pkg/ledger"
	"github.com/papai0709/syncengine/pkg/reconcile"
	"github.com/papai0709/syncengine/pkg/scorer"
	"github.com/papai0709/syncengine/pkg/snapshotstore"
	"github.com/papai0709/syncengine/pkg/synckit"
	"github.com/papai0709/syncengine/pkg/tokens"
	"github.com/papai0709/syncengine/pkg/tracker"
)

// Masker is the subset of pkg/masking's interface the worker needs: mask
// outbound text before it reaches the generator, and unmask inbound text
// before it is persisted. Declared locally so syncworker never imports
// masking's concrete implementation, only this contract.
type Masker interface {
	Mask(text string) (string, error)
	Unmask(text string) (string, error)
}

// Notifier receives lifecycle events the control surface and operators
// care about (root retired, new root discovered). Declared locally for the
// same reason as Masker.
type Notifier interface {
	RootRetired(ctx context.Context, rootType, rootID, reason string)
	RootDiscovered(ctx context.Context, rootType, rootID string)
}

// SyncResult is the outcome of one SyncRoot call, returned to the
// scheduler for RootMonitorState bookkeeping.
type SyncResult struct {
	RootID           string
	Success          bool
	Significance     float64
	StoriesCreated   int
	StoriesUpdated   int
	StoriesUnchanged int
	TestCasesCreated int
	Err              error
	Timestamp        time.Time
}

// Worker executes the full sync sequence for a single root at a time. It
// holds no per-root state of its own — RootMonitorState lives in the
// scheduler — so one Worker can be reused across every dispatched sync.
type Worker struct {
	Tracker   tracker.Adapter
	Generator generator.Adapter
	Snapshots *snapshotstore.Store
	Ledger    *ledger.Ledger
	Tokens    *tokens.Accountant
	Masker    Masker // nil disables masking
	Notifier  Notifier // nil disables notifications
	Log       *slog.Logger
}

func (w *Worker) logger() *slog.Logger {
	if w.Log != nil {
		return w.Log
	}
	return slog.Default()
}

// SyncRoot runs fetch→score→decide→generate→reconcile→apply→cascade→persist
// for one root, per spec.md §4.H. cfg is a snapshot of the live
// configuration taken by the caller so all decisions within one sync see a
// consistent view even if the control surface applies a config update
// mid-flight.
func (w *Worker) SyncRoot(ctx context.Context, rootType tracker.RootType, rootID string, cfg *config.Config) SyncResult {
	result := SyncResult{RootID: rootID, Timestamp: time.Now()}
	log := w.logger().With("root_id", rootID, "root_type", rootType)

	var root *tracker.Root
	err := w.retryTransient(ctx, cfg, func() error {
		var ferr error
		root, ferr = w.Tracker.GetRoot(ctx, rootID)
		return ferr
	})
	if err != nil {
		result.Err = err
		return result
	}

	prevSnap, err := w.Snapshots.Load(string(rootType), rootID)
	if err != nil {
		log.Warn("snapshot load failed, proceeding as first-seen", "error", err)
	}

	curFields := snapshotstore.Fields{
		Title: root.Title, Description: root.Description, State: root.State,
		Priority: root.Priority, AreaPath: root.AreaPath, IterationPath: root.IterationPath,
	}

	var prevScoreFields *scorer.Fields
	if prevSnap != nil {
		prevScoreFields = &scorer.Fields{Title: prevSnap.Title, Description: prevSnap.Description, State: prevSnap.State}
	}
	curScoreFields := &scorer.Fields{Title: root.Title, Description: root.Description, State: root.State}

	weights := scorer.Weights{Title: cfg.Weights.Title, Description: cfg.Weights.Description, State: cfg.Weights.State}
	significance, changes := scorer.Score(prevScoreFields, curScoreFields, weights)
	result.Significance = significance

	newSnap := snapshotstore.New(curFields, root.LastModified)

	significant := cfg.EnableCompactExtraction && significance >= cfg.ChangeSignificanceThreshold
	firstSeen := prevSnap == nil
	cooldownElapsed := cooldownElapsed(w.Ledger, rootID, cfg.ExtractionCooldown())

	if (!significant || !cooldownElapsed) && !firstSeen {
		// Nothing worth syncing, or the change is significant but the root is
		// still in its post-extraction cooldown window; persist the refreshed
		// snapshot so the next tick diffs against current state, but skip the
		// generator entirely.
		if err := w.Snapshots.Save(string(rootType), rootID, newSnap); err != nil {
			result.Err = synckit.New(synckit.KindPersistence, rootID, err)
			return result
		}
		result.Success = true
		return result
	}

	if cfg.MaxChangesPerRoot > 0 && w.Ledger.ExtractionCount(rootID) >= cfg.MaxChangesPerRoot {
		log.Info("max_changes_per_root reached, skipping generation", "limit", cfg.MaxChangesPerRoot)
		if err := w.Snapshots.Save(string(rootType), rootID, newSnap); err != nil {
			result.Err = synckit.New(synckit.KindPersistence, rootID, err)
			return result
		}
		result.Success = true
		return result
	}

	var existing []tracker.ExistingChild
	err = w.retryTransient(ctx, cfg, func() error {
		var ferr error
		existing, ferr = w.Tracker.GetChildren(ctx, rootID)
		return ferr
	})
	if err != nil {
		result.Err = err
		return result
	}
	existingChildren := toReconcileChildren(existing)

	proposed, tokenRec, err := w.generateStories(ctx, cfg, root, changes)
	if err != nil {
		result.Err = err
		return result
	}
	_ = tokenRec

	partition := reconcile.Reconcile(existingChildren, proposed, reconcile.DefaultThresholds())

	for _, p := range partition.Create {
		if err := w.applyCreate(ctx, cfg, rootID, p); err != nil {
			log.Warn("failed to create story", "heading", p.Heading, "error", err)
			continue
		}
		result.StoriesCreated++
	}
	for _, u := range partition.Update {
		if err := w.applyUpdate(ctx, u); err != nil {
			log.Warn("failed to update story", "id", u.ID, "error", err)
			continue
		}
		result.StoriesUpdated++
	}
	result.StoriesUnchanged = len(partition.Unchanged)

	if cfg.AutoTestCaseExtraction {
		result.TestCasesCreated = w.cascadeTestCases(ctx, cfg, append(partition.Unchanged, existingFromUpdates(partition.Update)...))
	}

	if err := w.Snapshots.Save(string(rootType), rootID, newSnap); err != nil {
		result.Err = synckit.New(synckit.KindPersistence, rootID, err)
		return result
	}
	if !firstSeen {
		if err := w.Ledger.RecordExtraction(rootID, significance); err != nil {
			log.Warn("failed to record extraction stats", "error", err)
		}
	}
	if err := w.Ledger.Add(string(rootType), rootID); err != nil {
		log.Warn("failed to mark root processed in ledger", "error", err)
	}

	result.Success = true
	return result
}

// retryTransient retries fn up to cfg.RetryAttempts times with a fixed
// cfg.RetryDelay between attempts, per spec.md §4.H's worker-level retry
// discipline. A KindTrackerGone failure (the root is genuinely gone) is
// permanent and returned immediately without consuming a retry; every other
// error is treated as transient. The generator's own exponential backoff is
// a separate, internal concern (pkg/generator) and is never re-retried here.
func (w *Worker) retryTransient(ctx context.Context, cfg *config.Config, fn func() error) error {
	attempts := cfg.RetryAttempts + 1
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if synckit.Is(err, synckit.KindTrackerGone) {
			return err
		}
		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.RetryDelay()):
			}
		}
	}
	return err
}

// cooldownElapsed reports whether rootID's extraction_cooldown_hours window
// (spec.md §5's "Cooldown", checked against the last significant-change
// timestamp) has passed. cooldown <= 0 disables the check entirely, and a
// root with no prior significant extraction is never blocked by it.
func cooldownElapsed(l *ledger.Ledger, rootID string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	last, ok := l.LastExtractionAt(rootID)
	if !ok {
		return true
	}
	return time.Since(last) >= cooldown
}

func toReconcileChildren(existing []tracker.ExistingChild) []reconcile.ExistingChild {
	out := make([]reconcile.ExistingChild, len(existing))
	for i, e := range existing {
		out[i] = reconcile.ExistingChild{ID: e.ID, Title: e.Title, Description: e.Description}
	}
	return out
}

func existingFromUpdates(updates []reconcile.Update) []reconcile.ExistingChild {
	out := make([]reconcile.ExistingChild, len(updates))
	for i, u := range updates {
		out[i] = reconcile.ExistingChild{ID: u.ID, Title: u.New.Heading, Description: u.New.Description}
	}
	return out
}

// generateStories builds the extraction prompt, masks it if configured,
// calls the generator, unmasks the response, and parses it into proposed
// stories — falling back to a heuristic text parser if the model didn't
// return valid JSON (spec.md's ParseError policy).
func (w *Worker) generateStories(ctx context.Context, cfg *config.Config, root *tracker.Root, changes []scorer.FieldChange) ([]reconcile.ProposedStory, bool, error) {
	prompt := buildExtractionPrompt(root, changes)

	outbound := prompt
	if w.Masker != nil {
		masked, err := w.Masker.Mask(prompt)
		if err != nil {
			return nil, false, synckit.New(synckit.KindGenerator, root.ID, fmt.Errorf("mask prompt: %w", err))
		}
		outbound = masked
	}

	messages := []generator.Message{
		{Role: "system", Content: "You extract user stories from a requirement. Respond with a JSON array of {heading, description, acceptance_criteria}."},
		{Role: "user", Content: outbound},
	}

	response, err := w.Generator.Chat(ctx, messages, cfg.Generator.Temperature, cfg.Generator.MaxTokens)
	success := err == nil
	if err != nil {
		if w.Tokens != nil {
			w.Tokens.RecordCall(cfg.StoryExtractionType, outbound, "", cfg.EnableCompactExtraction, cfg.Generator.Model, "GENERATOR", false, err.Error(), root.ID, root.Title)
		}
		return nil, false, err
	}

	inbound := response
	if w.Masker != nil {
		unmasked, uerr := w.Masker.Unmask(response)
		if uerr == nil {
			inbound = unmasked
		}
	}

	if w.Tokens != nil {
		w.Tokens.RecordCall(cfg.StoryExtractionType, outbound, inbound, cfg.EnableCompactExtraction, cfg.Generator.Model, "GENERATOR", success, "", root.ID, root.Title)
	}

	stories := parseStories(inbound)
	if len(stories) == 0 {
		stories = fallbackParseStories(inbound)
	}
	return stories, success, nil
}

type generatedStory struct {
	Heading            string   `json:"heading"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

// parseStories attempts a strict JSON-array parse of the generator's
// response.
func parseStories(text string) []reconcile.ProposedStory {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return nil
	}

	var raw []generatedStory
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil
	}

	out := make([]reconcile.ProposedStory, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r.Heading) == "" || len(r.AcceptanceCriteria) == 0 {
			continue // Validation policy: filter empty title / empty AC list.
		}
		out = append(out, reconcile.ProposedStory{
			Heading:            r.Heading,
			Description:        r.Description,
			AcceptanceCriteria: r.AcceptanceCriteria,
		})
	}
	return out
}

var headingLinePattern = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]|[-*])\s*(.+)$`)

// fallbackParseStories is the heuristic text parser spec.md §7 requires
// when the generator's output isn't valid JSON: treat each bulleted or
// numbered line as a story heading with no structured body. If even that
// finds nothing, emit one generic placeholder (ParseError policy).
func fallbackParseStories(text string) []reconcile.ProposedStory {
	matches := headingLinePattern.FindAllStringSubmatch(text, -1)
	var out []reconcile.ProposedStory
	for _, m := range matches {
		heading := strings.TrimSpace(m[1])
		if heading == "" {
			continue
		}
		out = append(out, reconcile.ProposedStory{
			Heading:            heading,
			Description:        heading,
			AcceptanceCriteria: []string{"Acceptance criteria to be refined"},
		})
	}
	if len(out) == 0 {
		out = append(out, reconcile.ProposedStory{
			Heading:            "Manual Validation Required",
			Description:        "The generator's output could not be parsed; review manually.",
			AcceptanceCriteria: []string{"Review manually"},
		})
	}
	return out
}

func buildExtractionPrompt(root *tracker.Root, changes []scorer.FieldChange) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Requirement: %s\n\nDescription:\n%s\n\nState: %s\n", root.Title, root.Description, root.State)
	if len(changes) > 0 {
		b.WriteString("\nRecent changes:\n")
		for _, c := range changes {
			fmt.Fprintf(&b, "- %s changed (significance %.2f)\n", c.Field, c.Significance)
		}
	}
	return b.String()
}

func (w *Worker) applyCreate(ctx context.Context, cfg *config.Config, parentID string, p reconcile.ProposedStory) error {
	_, err := w.Tracker.Create(ctx, tracker.RootType(cfg.UserStoryType), tracker.CreateFields{
		Title:              p.Heading,
		Description:        p.Description,
		AcceptanceCriteria: strings.Join(p.AcceptanceCriteria, "\n"),
	}, parentID)
	return err
}

func (w *Worker) applyUpdate(ctx context.Context, u reconcile.Update) error {
	return w.Tracker.Update(ctx, u.ID, tracker.CreateFields{
		Title:              u.New.Heading,
		Description:        u.New.Description,
		AcceptanceCriteria: strings.Join(u.New.AcceptanceCriteria, "\n"),
	})
}

// cascadeTestCases generates test cases for each story that now exists
// under the root (spec.md's auto_test_case_extraction). A test-case
// generation failure for one story never fails the parent sync — logged
// and skipped, per the ErrorHandling table's GeneratorError policy.
func (w *Worker) cascadeTestCases(ctx context.Context, cfg *config.Config, stories []reconcile.ExistingChild) int {
	created := 0
	for _, s := range stories {
		messages := []generator.Message{
			{Role: "system", Content: "You write test cases for a user story. Respond with a JSON array of {heading, description, acceptance_criteria}."},
			{Role: "user", Content: fmt.Sprintf("Story: %s\n\n%s", s.Title, s.Description)},
		}
		response, err := w.Generator.Chat(ctx, messages, cfg.Generator.Temperature, cfg.Generator.MaxTokens)
		if w.Tokens != nil {
			success := err == nil
			errMsg := ""
			if err != nil {
				errMsg = err.Error()
			}
			w.Tokens.RecordCall(cfg.TestCaseExtractionType, s.Description, response, cfg.EnableCompactExtraction, cfg.Generator.Model, "GENERATOR", success, errMsg, s.ID, s.Title)
		}
		if err != nil {
			w.logger().Warn("test case generation failed, continuing", "story_id", s.ID, "error", err)
			continue
		}

		cases := parseStories(response)
		if len(cases) == 0 {
			cases = fallbackParseStories(response)
		}
		for _, c := range cases {
			if _, err := w.Tracker.Create(ctx, tracker.RootType(cfg.TestCaseExtractionType), tracker.CreateFields{
				Title:              c.Heading,
				Description:        c.Description,
				AcceptanceCriteria: strings.Join(c.AcceptanceCriteria, "\n"),
			}, s.ID); err != nil {
				w.logger().Warn("failed to create test case", "story_id", s.ID, "error", err)
				continue
			}
			created++
		}
	}
	return created
}

// ExtractStories runs story generation for rootID unconditionally,
// bypassing the significance gate and the max_changes_per_root cap. Used by
// the control surface's force-reextract and ad-hoc requirements/{id}/stories
// endpoints, both gated by manual_override_enabled at the caller.
func (w *Worker) ExtractStories(ctx context.Context, rootType tracker.RootType, rootID string, cfg *config.Config) ([]reconcile.ProposedStory, reconcile.Result, error) {
	var root *tracker.Root
	err := w.retryTransient(ctx, cfg, func() error {
		var ferr error
		root, ferr = w.Tracker.GetRoot(ctx, rootID)
		return ferr
	})
	if err != nil {
		return nil, reconcile.Result{}, err
	}

	var existing []tracker.ExistingChild
	err = w.retryTransient(ctx, cfg, func() error {
		var ferr error
		existing, ferr = w.Tracker.GetChildren(ctx, rootID)
		return ferr
	})
	if err != nil {
		return nil, reconcile.Result{}, err
	}

	proposed, _, err := w.generateStories(ctx, cfg, root, nil)
	if err != nil {
		return nil, reconcile.Result{}, err
	}

	partition := reconcile.Reconcile(toReconcileChildren(existing), proposed, reconcile.DefaultThresholds())
	return proposed, partition, nil
}

// ApplyReconciliation creates/updates stories under parentID per partition,
// for callers (the control surface) that want to review ExtractStories'
// output before committing it to the tracker.
func (w *Worker) ApplyReconciliation(ctx context.Context, cfg *config.Config, parentID string, partition reconcile.Result) (created, updated int) {
	for _, p := range partition.Create {
		if err := w.applyCreate(ctx, cfg, parentID, p); err != nil {
			w.logger().Warn("failed to create story", "heading", p.Heading, "error", err)
			continue
		}
		created++
	}
	for _, u := range partition.Update {
		if err := w.applyUpdate(ctx, u); err != nil {
			w.logger().Warn("failed to update story", "id", u.ID, "error", err)
			continue
		}
		updated++
	}
	return created, updated
}

// ExtractTestCasesForStory generates and creates test cases for a single
// existing story, for the control surface's stories/{id}/test-cases
// endpoint. title/description come from the caller since the tracker
// Adapter has no single-child lookup by ID.
func (w *Worker) ExtractTestCasesForStory(ctx context.Context, cfg *config.Config, storyID, title, description string) int {
	return w.cascadeTestCases(ctx, cfg, []reconcile.ExistingChild{{ID: storyID, Title: title, Description: description}})
}
