package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CalendarSource is one subscribed ICS feed.
type CalendarSource struct {
	ID     string `yaml:"id"`
	UserID string `yaml:"user_id"`
	URL    string `yaml:"url"`
	// Schedule is a cron spec; empty means DefaultSyncSchedule.
	Schedule string `yaml:"schedule"`
}

// Webhook is one notification target.
type Webhook struct {
	URL          string        `yaml:"url"`
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
}

// Config captures the settings of the Visionary service.
type Config struct {
	HTTPPort       int
	SQLitePath     string
	Quantum        time.Duration
	Horizon        time.Duration
	SolveTimeout   time.Duration
	DisplayTZ      *time.Location
	CategorizerURL string
	CacheTTL       time.Duration
	CacheDir       string
	SyncTimeout    time.Duration
	Calendars      []CalendarSource
	Webhooks       []Webhook
}

// DefaultSyncSchedule refreshes calendar feeds every fifteen minutes.
const DefaultSyncSchedule = "*/15 * * * *"

// fileConfig mirrors the optional YAML file.
type fileConfig struct {
	HTTPPort       int              `yaml:"http_port"`
	SQLitePath     string           `yaml:"sqlite_path"`
	Quantum        string           `yaml:"quantum"`
	Horizon        string           `yaml:"horizon"`
	SolveTimeout   string           `yaml:"solve_timeout"`
	DisplayTZ      string           `yaml:"display_tz"`
	CategorizerURL string           `yaml:"categorizer_url"`
	CacheTTL       string           `yaml:"cache_ttl"`
	CacheDir       string           `yaml:"cache_dir"`
	Calendars      []CalendarSource `yaml:"calendars"`
	Webhooks       []Webhook        `yaml:"webhooks"`
}

func defaults() Config {
	return Config{
		HTTPPort:     8080,
		SQLitePath:   "data/visionary.db",
		Quantum:      15 * time.Minute,
		Horizon:      30 * 24 * time.Hour,
		SolveTimeout: 5 * time.Second,
		DisplayTZ:    time.UTC,
		CacheTTL:     30 * time.Second,
		CacheDir:     "data/ics-cache",
		SyncTimeout:  time.Minute,
	}
}

// Load reads the YAML file named by VISIONARY_CONFIG_FILE, when set, and
// then applies the environment on top of it.
//
// Missing files named explicitly are an error. Invalid values are collected
// and reported together.
func Load() (Config, error) {
	cfg := defaults()
	invalid := make([]string, 0, 2)

	if path := strings.TrimSpace(os.Getenv("VISIONARY_CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("設定ファイルが見つかりません: %s", path)
			}
			return Config{}, fmt.Errorf("設定ファイルを読み込めません: %w", err)
		}
		fileInvalid, err := applyFile(&cfg, data)
		if err != nil {
			return Config{}, err
		}
		invalid = append(invalid, fileInvalid...)
	}

	invalid = append(invalid, applyEnv(&cfg)...)
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("設定値が不正です: %s", strings.Join(invalid, ", "))
	}
	return cfg, nil
}

// applyFile merges a YAML document into cfg and returns the names of the
// keys holding invalid values.
func applyFile(cfg *Config, data []byte) ([]string, error) {
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("設定ファイルの形式が不正です: %w", err)
	}

	var invalid []string
	if file.HTTPPort < 0 {
		invalid = append(invalid, "http_port")
	} else if file.HTTPPort > 0 {
		cfg.HTTPPort = file.HTTPPort
	}
	if path := strings.TrimSpace(file.SQLitePath); path != "" {
		cfg.SQLitePath = path
	}
	if dir := strings.TrimSpace(file.CacheDir); dir != "" {
		cfg.CacheDir = dir
	}
	if u := strings.TrimSpace(file.CategorizerURL); u != "" {
		cfg.CategorizerURL = u
	}
	for _, d := range []struct {
		key    string
		value  string
		target *time.Duration
	}{
		{"quantum", file.Quantum, &cfg.Quantum},
		{"horizon", file.Horizon, &cfg.Horizon},
		{"solve_timeout", file.SolveTimeout, &cfg.SolveTimeout},
		{"cache_ttl", file.CacheTTL, &cfg.CacheTTL},
	} {
		if !setDuration(d.target, d.value) {
			invalid = append(invalid, d.key)
		}
	}
	if tz := strings.TrimSpace(file.DisplayTZ); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			invalid = append(invalid, "display_tz")
		} else {
			cfg.DisplayTZ = loc
		}
	}

	for i, src := range file.Calendars {
		if strings.TrimSpace(src.ID) == "" || strings.TrimSpace(src.UserID) == "" || strings.TrimSpace(src.URL) == "" {
			invalid = append(invalid, fmt.Sprintf("calendars[%d]", i))
			continue
		}
		if strings.TrimSpace(src.Schedule) == "" {
			src.Schedule = DefaultSyncSchedule
		}
		cfg.Calendars = append(cfg.Calendars, src)
	}
	for i, hook := range file.Webhooks {
		if strings.TrimSpace(hook.URL) == "" || hook.MaxAttempts < 0 {
			invalid = append(invalid, fmt.Sprintf("webhooks[%d]", i))
			continue
		}
		cfg.Webhooks = append(cfg.Webhooks, hook)
	}
	return invalid, nil
}

// applyEnv overrides cfg with VISIONARY_* variables.
func applyEnv(cfg *Config) []string {
	invalid := make([]string, 0, 2)

	if portValue := strings.TrimSpace(os.Getenv("VISIONARY_HTTP_PORT")); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 {
			invalid = append(invalid, "VISIONARY_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if path := strings.TrimSpace(os.Getenv("VISIONARY_SQLITE_PATH")); path != "" {
		cfg.SQLitePath = path
	}
	if dir := strings.TrimSpace(os.Getenv("VISIONARY_CACHE_DIR")); dir != "" {
		cfg.CacheDir = dir
	}
	if u := strings.TrimSpace(os.Getenv("VISIONARY_CATEGORIZER_URL")); u != "" {
		cfg.CategorizerURL = u
	}

	for _, d := range []struct {
		key    string
		target *time.Duration
	}{
		{"VISIONARY_QUANTUM", &cfg.Quantum},
		{"VISIONARY_HORIZON", &cfg.Horizon},
		{"VISIONARY_SOLVE_TIMEOUT", &cfg.SolveTimeout},
		{"VISIONARY_CACHE_TTL", &cfg.CacheTTL},
	} {
		if !setDuration(d.target, os.Getenv(d.key)) {
			invalid = append(invalid, d.key)
		}
	}

	if tz := strings.TrimSpace(os.Getenv("VISIONARY_DISPLAY_TZ")); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			invalid = append(invalid, "VISIONARY_DISPLAY_TZ")
		} else {
			cfg.DisplayTZ = loc
		}
	}

	if hook := strings.TrimSpace(os.Getenv("VISIONARY_WEBHOOK_URL")); hook != "" {
		cfg.Webhooks = append(cfg.Webhooks, Webhook{URL: hook})
	}

	if cfg.Quantum > 0 && cfg.Horizon > 0 && cfg.Horizon < cfg.Quantum {
		invalid = append(invalid, "VISIONARY_HORIZON")
	}
	return invalid
}

// setDuration parses a positive duration into target. Empty values leave
// target unchanged.
func setDuration(target *time.Duration, value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return true
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return false
	}
	*target = d
	return true
}
