package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	orig := Version
	defer func() { Version = orig }()
	Version = "v1.2.3"

	if Short() != "v1.2.3" {
		t.Errorf("Short() = %q", Short())
	}
	if !strings.Contains(Info(), "apwatch v1.2.3") {
		t.Errorf("Info() = %q", Info())
	}
	if Map()["version"] != "v1.2.3" {
		t.Errorf("Map() = %v", Map())
	}
}
