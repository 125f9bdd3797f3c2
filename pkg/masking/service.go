// Package masking masks secrets-looking text out of requirement
// title/description before it reaches the Generator Adapter, and restores
// it afterward. Adapted from the teacher's pkg/masking (MaskingService,
// CompiledPattern, code-based Masker + regex sweep): the two-phase
// code-masker-then-regex approach is kept, but generalized from the
// teacher's one-way, MCP-server-scoped masking into the reversible,
// single-consumer masking syncworker.Worker needs — mask the requirement
// text before the prompt is sent, unmask the generator's response before
// it is persisted.
package masking

import (
	"fmt"
	"log/slog"
)

// Service masks and unmasks text passed to the Generator Adapter. A single
// Service should be shared across every sync the worker pool runs: the
// vault it holds is what lets Unmask recover values a concurrent Mask call
// reserved for a different root.
type Service struct {
	patterns    []*pattern
	codeMaskers []codeMasker
	vault       *vault
	log         *slog.Logger
}

// New builds a masking service with the built-in pattern table and code
// maskers. There is no per-server configuration to resolve — unlike the
// teacher, which masks different MCP servers' tool results under
// different pattern groups, this service applies one fixed set to every
// requirement, since there is only one kind of outbound text (extraction
// prompts) and one kind of inbound text (generator responses).
func New(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		patterns:    builtinPatterns(),
		codeMaskers: []codeMasker{&kubernetesSecretMasker{}},
		vault:       newVault(),
		log:         log,
	}
	s.log.Info("masking service initialized", "patterns", len(s.patterns), "code_maskers", len(s.codeMaskers))
	return s
}

// Mask redacts secrets-looking substrings of text, reserving each one in
// the vault behind a unique placeholder, and returns the masked text.
// Satisfies syncworker.Masker. Errors here are fail-closed at the call
// site: generateStories aborts the sync rather than send text it could
// not safely mask.
func (s *Service) Mask(text string) (masked string, err error) {
	defer func() {
		if r := recover(); r != nil {
			masked, err = text, fmt.Errorf("masking panicked: %v", r)
		}
	}()

	out := text

	// Phase 1: code-based maskers (structural awareness, applied first so
	// a regex pass below can't partially rewrite a manifest before the
	// code masker gets to parse it).
	for _, cm := range s.codeMaskers {
		if cm.AppliesTo(out) {
			out = cm.Mask(out, func(original string) string {
				return s.vault.put(cm.Name(), original)
			})
		}
	}

	// Phase 2: regex sweep over whatever the code maskers left alone.
	for _, p := range s.patterns {
		name := p.Name
		out = p.Regex.ReplaceAllStringFunc(out, func(match string) string {
			return s.vault.put(name, match)
		})
	}

	return out, nil
}

// Unmask restores every vault placeholder in text to its original value.
// Satisfies syncworker.Masker. Fail-open at the call site: generateStories
// keeps the masked text if Unmask errors rather than block the sync, since
// a story description with a stray placeholder is a display nuisance, not
// a correctness problem, while blocking the sync on an unmask failure
// would turn a cosmetic issue into a missed update.
func (s *Service) Unmask(text string) (string, error) {
	return s.vault.unmask(text), nil
}
