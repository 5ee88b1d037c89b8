package testutil

import (
	"os"
	"strings"
	"testing"
)

// Isolate unsets every environment variable whose name starts with one of
// the prefixes, case-insensitively, and restores them when the test ends.
// Tests calling it cannot run in parallel.
func Isolate(t *testing.T, prefixes ...string) {
	t.Helper()

	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if !hasAnyPrefix(strings.ToUpper(key), prefixes) {
			continue
		}
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}

func hasAnyPrefix(key string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(key, strings.ToUpper(p)) {
			return true
		}
	}
	return false
}
