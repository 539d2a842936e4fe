// ABOUTME: Environment-sourced service configuration with validation
// ABOUTME: Synonym and gating rules come from an optional TOML file

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
)

// Config is the full runtime configuration, sourced from environment
// variables with the defaults the service has always used.
type Config struct {
	FloodLimit     int           // FLOOD_LIMIT, messages per period
	FloodPeriod    time.Duration // FLOOD_PERIOD, seconds
	FloodBlockTime time.Duration // FLOOD_BLOCK_TIME, seconds

	MaxAuthAttempts   int           // MAX_AUTH_ATTEMPTS
	BlockDuration     time.Duration // BLOCK_DURATION, seconds
	InactivityTimeout time.Duration // INACTIVITY_TIMEOUT, seconds
	ApprovalTimeout   time.Duration // APPROVAL_TIMEOUT, seconds, 0 disables

	AuthorizedNumbers []string // AUTHORIZED_NUMBERS, comma-separated
	AdminIDs          []int64  // ADMINS, comma-separated integers

	DBFile     string // DB_FILE
	CorpusFile string // CORPUS_FILE
	RulesFile  string // RULES_FILE, optional TOML synonym/gating rules

	ListenAddr        string // LISTEN_ADDR
	ObservabilityAddr string // OBSERVABILITY_ADDR

	LogLevel  string // LOG_LEVEL
	LogPretty bool   // LOG_PRETTY
}

// Load reads configuration from the environment. Invalid numeric
// values and out-of-range flood settings are errors; an empty
// authorized set or admin set only warns, matching the service's
// historical behavior.
func Load(log zerolog.Logger) (*Config, error) {
	cfg := &Config{
		DBFile:            getEnv("DB_FILE", "docgate.db"),
		CorpusFile:        getEnv("CORPUS_FILE", "data.json"),
		RulesFile:         os.Getenv("RULES_FILE"),
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		ObservabilityAddr: getEnv("OBSERVABILITY_ADDR", ":9090"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogPretty:         os.Getenv("LOG_PRETTY") == "true",
	}

	var err error
	if cfg.FloodLimit, err = getInt("FLOOD_LIMIT", 5); err != nil {
		return nil, err
	}
	if cfg.FloodPeriod, err = getSeconds("FLOOD_PERIOD", 10); err != nil {
		return nil, err
	}
	if cfg.FloodBlockTime, err = getSeconds("FLOOD_BLOCK_TIME", 15); err != nil {
		return nil, err
	}
	if cfg.MaxAuthAttempts, err = getInt("MAX_AUTH_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.BlockDuration, err = getSeconds("BLOCK_DURATION", 300); err != nil {
		return nil, err
	}
	if cfg.InactivityTimeout, err = getSeconds("INACTIVITY_TIMEOUT", 600); err != nil {
		return nil, err
	}
	if cfg.ApprovalTimeout, err = getSeconds("APPROVAL_TIMEOUT", 0); err != nil {
		return nil, err
	}

	if cfg.FloodLimit <= 0 {
		return nil, fmt.Errorf("FLOOD_LIMIT must be greater than 0")
	}
	if cfg.FloodPeriod <= 0 {
		return nil, fmt.Errorf("FLOOD_PERIOD must be greater than 0")
	}
	if cfg.FloodBlockTime < 0 {
		return nil, fmt.Errorf("FLOOD_BLOCK_TIME must not be negative")
	}
	if cfg.BlockDuration < 10*time.Second {
		log.Warn().Dur("block_duration", cfg.BlockDuration).Msg("BLOCK_DURATION is very short, 60s or more is recommended")
	}

	for _, num := range strings.Split(os.Getenv("AUTHORIZED_NUMBERS"), ",") {
		if num = strings.TrimSpace(num); num != "" {
			cfg.AuthorizedNumbers = append(cfg.AuthorizedNumbers, num)
		}
	}
	if len(cfg.AuthorizedNumbers) == 0 {
		log.Warn().Msg("AUTHORIZED_NUMBERS is empty, nobody can authorize")
	}

	for _, admin := range strings.Split(os.Getenv("ADMINS"), ",") {
		admin = strings.TrimSpace(admin)
		if admin == "" {
			continue
		}
		id, err := strconv.ParseInt(admin, 10, 64)
		if err != nil {
			log.Warn().Str("value", admin).Msg("ADMINS: invalid id skipped")
			continue
		}
		cfg.AdminIDs = append(cfg.AdminIDs, id)
	}
	if len(cfg.AdminIDs) == 0 {
		log.Warn().Msg("ADMINS is empty, nobody can approve access requests")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getSeconds(key string, def int) (time.Duration, error) {
	n, err := getInt(key, def)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

// Rules are the static corpus rules: gated section names and synonym
// classes. Loaded once at startup and shared read-only.
type Rules struct {
	GatedSections []string            `toml:"gated_sections"`
	Synonyms      map[string][]string `toml:"synonyms"`
}

// DefaultRules returns the built-in rules used when no file is given.
func DefaultRules() *Rules {
	return &Rules{
		GatedSections: []string{"Ресеты"},
	}
}

// LoadRules parses a TOML rules file. An empty path returns the
// defaults.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules %s: %w", path, err)
	}
	var rules Rules
	if err := toml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing rules %s: %w", path, err)
	}
	return &rules, nil
}
