package config

import "os"

// ExpandEnv expands ${VAR} and $VAR references in raw YAML bytes using the
// standard library, before the result is parsed. Missing variables expand
// to the empty string; validation is responsible for catching any required
// field left empty by that.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
