package version

import "testing"

func TestInfo(t *testing.T) {
	info := Info()
	for _, k := range []string{"version", "commit", "date", "go_version"} {
		if info[k] == "" {
			t.Errorf("Info()[%q] is empty", k)
		}
	}
	if info["version"] != Version {
		t.Errorf("version = %q, want %q", info["version"], Version)
	}
}
