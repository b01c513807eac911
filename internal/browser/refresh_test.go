package browser

import (
	"strings"
	"testing"
)

func TestLocalStorageRestoreScript(t *testing.T) {
	script := localStorageRestoreScript(map[string]string{"session": "abc123"})
	for _, want := range []string{`"session":"abc123"`, "localStorage.setItem"} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q:\n%s", want, script)
		}
	}
}
