// ABOUTME: Tests for environment configuration and TOML rules loading

package config

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(zerolog.Nop())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.FloodLimit != 5 || cfg.FloodPeriod != 10*time.Second || cfg.FloodBlockTime != 15*time.Second {
		t.Errorf("Unexpected flood defaults: %d %v %v", cfg.FloodLimit, cfg.FloodPeriod, cfg.FloodBlockTime)
	}
	if cfg.MaxAuthAttempts != 3 || cfg.BlockDuration != 300*time.Second {
		t.Errorf("Unexpected auth defaults: %d %v", cfg.MaxAuthAttempts, cfg.BlockDuration)
	}
	if cfg.InactivityTimeout != 600*time.Second || cfg.ApprovalTimeout != 0 {
		t.Errorf("Unexpected timeout defaults: %v %v", cfg.InactivityTimeout, cfg.ApprovalTimeout)
	}
	if cfg.DBFile != "docgate.db" {
		t.Errorf("Unexpected DB file default: %s", cfg.DBFile)
	}
}

func TestLoadParsesSets(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTHORIZED_NUMBERS", " 123, 456 ,,789 ")
	t.Setenv("ADMINS", "900, 901, bogus, 902")

	cfg, err := Load(zerolog.Nop())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.AuthorizedNumbers) != 3 || cfg.AuthorizedNumbers[0] != "123" || cfg.AuthorizedNumbers[2] != "789" {
		t.Errorf("Unexpected numbers: %v", cfg.AuthorizedNumbers)
	}
	if len(cfg.AdminIDs) != 3 || cfg.AdminIDs[0] != 900 || cfg.AdminIDs[2] != 902 {
		t.Errorf("Invalid admin id must be skipped, got %v", cfg.AdminIDs)
	}
}

func TestLoadRejectsInvalidFloodSettings(t *testing.T) {
	cases := map[string]string{
		"FLOOD_LIMIT":      "0",
		"FLOOD_PERIOD":     "-1",
		"FLOOD_BLOCK_TIME": "-5",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, val)
			if _, err := Load(zerolog.Nop()); err == nil {
				t.Errorf("Expected error for %s=%s", key, val)
			}
		})
	}
}

func TestLoadRejectsNonNumeric(t *testing.T) {
	clearEnv(t)
	t.Setenv("BLOCK_DURATION", "soon")

	if _, err := Load(zerolog.Nop()); err == nil {
		t.Error("Expected error for non-numeric BLOCK_DURATION")
	}
}

func TestLoadRulesFile(t *testing.T) {
	path := "/tmp/test_docgate_rules_" + t.Name() + ".toml"
	content := `gated_sections = ["Ресеты", "Архив"]

[synonyms]
"заправка" = ["зарядка", "дозаправка"]
"проверка" = ["контроль"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write rules file: %v", err)
	}
	defer os.Remove(path)

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	if len(rules.GatedSections) != 2 || rules.GatedSections[1] != "Архив" {
		t.Errorf("Unexpected gated sections: %v", rules.GatedSections)
	}
	if len(rules.Synonyms["заправка"]) != 2 {
		t.Errorf("Unexpected synonyms: %v", rules.Synonyms)
	}
}

func TestLoadRulesDefaults(t *testing.T) {
	rules, err := LoadRules("")
	if err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	if len(rules.GatedSections) != 1 || rules.GatedSections[0] != "Ресеты" {
		t.Errorf("Unexpected default rules: %v", rules.GatedSections)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FLOOD_LIMIT", "FLOOD_PERIOD", "FLOOD_BLOCK_TIME",
		"MAX_AUTH_ATTEMPTS", "BLOCK_DURATION", "INACTIVITY_TIMEOUT", "APPROVAL_TIMEOUT",
		"AUTHORIZED_NUMBERS", "ADMINS", "DB_FILE", "CORPUS_FILE", "RULES_FILE",
		"LISTEN_ADDR", "OBSERVABILITY_ADDR", "LOG_LEVEL", "LOG_PRETTY",
	} {
		t.Setenv(key, "")
	}
}
