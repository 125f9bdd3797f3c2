package masking

import (
	"fmt"
	"regexp"
	"sync"
)

// maxVaultEntries bounds the vault so a run that masks far more than it ever
// unmasks (a mismatched Mask/Unmask pair, or a crashed sync) cannot grow the
// map without limit. Oldest entries are evicted first.
const maxVaultEntries = 10000

var placeholderPattern = regexp.MustCompile(`⟦MASK:([a-z0-9_]+):(\d+)⟧`)

// vault is the reversibility layer the teacher's one-way masking doesn't
// need. The teacher's MaskToolResult/MaskAlertData never unmask what they
// redact — this engine does, because the generator's response is expected
// to echo back parts of the prompt, and the persisted story should carry
// the real value, not a placeholder. put stores an original value behind a
// unique, self-describing placeholder token; unmask consumes it by token,
// deleting the entry so a balanced Mask/Unmask pair leaves nothing behind.
type vault struct {
	mu      sync.Mutex
	store   map[string]string
	order   []string
	counter uint64
}

func newVault() *vault {
	return &vault{store: make(map[string]string)}
}

// put reserves original behind a placeholder tagged with label (the
// pattern or masker name that triggered the substitution) and returns the
// placeholder to put in the masked text.
func (v *vault) put(label, original string) string {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.counter++
	key := fmt.Sprintf("%s:%d", label, v.counter)
	if len(v.order) >= maxVaultEntries {
		oldest := v.order[0]
		v.order = v.order[1:]
		delete(v.store, oldest)
	}
	v.store[key] = original
	v.order = append(v.order, key)
	return "⟦MASK:" + key + "⟧"
}

// unmask replaces every placeholder token in text with its reserved
// original value, consuming the entry. Tokens with no matching entry (a
// stale or foreign placeholder) are left in place rather than erroring —
// the caller treats this path as fail-open. A restored value that itself
// holds a placeholder (text masked by more than one rule) is restored in
// turn, pass by pass, until a pass changes nothing.
func (v *vault) unmask(text string) string {
	for {
		next := v.unmaskOnce(text)
		if next == text {
			return next
		}
		text = next
	}
}

// unmaskOnce makes a single replacement pass over text.
func (v *vault) unmaskOnce(text string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(token string) string {
		matches := placeholderPattern.FindStringSubmatch(token)
		if matches == nil {
			return token
		}
		key := matches[1] + ":" + matches[2]

		v.mu.Lock()
		original, ok := v.store[key]
		if ok {
			delete(v.store, key)
			for i, k := range v.order {
				if k == key {
					v.order = append(v.order[:i], v.order[i+1:]...)
					break
				}
			}
		}
		v.mu.Unlock()

		if !ok {
			return token
		}
		return original
	})
}
