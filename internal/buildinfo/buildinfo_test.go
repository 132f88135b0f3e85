package buildinfo

import (
	"strings"
	"testing"
)

func TestModuleVersionFallback(t *testing.T) {
	got := ModuleVersion("example.invalid/no-such-module", "0.0.0")
	if got != "0.0.0" {
		t.Errorf("ModuleVersion() = %q, want fallback 0.0.0", got)
	}
}

func TestRuntimeVersion(t *testing.T) {
	if v := RuntimeVersion(); !strings.HasPrefix(v, "go") {
		t.Errorf("RuntimeVersion() = %q, want go-prefixed", v)
	}
}
