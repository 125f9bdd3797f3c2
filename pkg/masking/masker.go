package masking

// codeMasker is the interface for code-based maskers that need structural
// awareness beyond regex pattern matching — parsing YAML/JSON to apply
// context-sensitive masking (e.g. mask a Kubernetes Secret's data fields
// but leave a ConfigMap alone). Adapted from the teacher's Masker
// interface: Name and AppliesTo are unchanged, but Mask now takes a
// reserve callback instead of returning a self-contained result, since
// every masked value must be recoverable by Unmask later.
type codeMasker interface {
	// Name returns the unique identifier for this masker.
	Name() string

	// AppliesTo performs a lightweight check on whether this masker
	// should process the data. Should be fast (string contains, not parsing).
	AppliesTo(data string) bool

	// Mask applies masking logic, substituting each value it redacts with
	// the result of reserve(original). Must be defensive: return the
	// input unchanged on parse/processing errors.
	Mask(data string, reserve func(original string) string) string
}
