package config

import (
	"strings"
	"testing"
)

func TestDefaultConfigIsValidTOML(t *testing.T) {
	cfg, warnings, err := LoadBytes([]byte(DefaultConfigTOML), "generated")
	if err != nil {
		t.Fatalf("generated config is invalid: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if len(cfg.Apps) != 0 {
		t.Errorf("expected 0 apps, got %d", len(cfg.Apps))
	}
}

func TestDefaultConfigContainsAllSections(t *testing.T) {
	for _, section := range []string{
		"[daemon]",
		"[server.unix]",
		"[server.http]",
		"[device]",
		"[framework]",
		"[apps.example]",
		"[webhooks.supervisor]",
		"[boot]",
	} {
		if !strings.Contains(DefaultConfigTOML, section) {
			t.Errorf("missing section %q in generated config", section)
		}
	}
}
