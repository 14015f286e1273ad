// Path: internal/config/config.go
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"loki-downloader/internal/domain"
)

// EnvPrefix is prepended to every environment variable, e.g. LOKI_DL_LOKI_QUERY.
const EnvPrefix = "LOKI_DL"

// State backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
)

// Config holds all configuration for the application.
type Config struct {
	Loki   LokiConfig   `mapstructure:"loki"`
	Window WindowConfig `mapstructure:"window"`
	Limits LimitsConfig `mapstructure:"limits"`
	Run    RunConfig    `mapstructure:"run"`
	Output OutputConfig `mapstructure:"output"`
	State  StateConfig  `mapstructure:"state"`
	Log    LogConfig    `mapstructure:"log"`
	Status StatusConfig `mapstructure:"status"`
}

// LokiConfig holds the remote query API settings.
type LokiConfig struct {
	URL               string        `mapstructure:"url"`
	Query             string        `mapstructure:"query"`
	OrgID             string        `mapstructure:"org_id"`
	Headers           []string      `mapstructure:"headers"`    // "Name: value"
	QueryTags         []string      `mapstructure:"query_tags"` // "key=value"
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// WindowConfig holds the time range to download.
type WindowConfig struct {
	FromRaw   string `mapstructure:"from"`
	ToRaw     string `mapstructure:"to"`
	Direction string `mapstructure:"direction"`

	// Populated by Validate.
	From time.Time        `mapstructure:"-"`
	To   time.Time        `mapstructure:"-"`
	Dir  domain.Direction `mapstructure:"-"`
}

// LimitsConfig holds the record limits. Zero means unbounded for Total and File.
type LimitsConfig struct {
	Total int `mapstructure:"total"`
	File  int `mapstructure:"file"`
	Batch int `mapstructure:"batch"`
}

// RunConfig holds pacing and interaction settings.
type RunConfig struct {
	CoolDown      time.Duration `mapstructure:"cool_down"`
	PromptToStart bool          `mapstructure:"prompt_to_start"`
}

// OutputConfig holds where records are written.
type OutputConfig struct {
	Folder string `mapstructure:"folder"`
	Name   string `mapstructure:"name"`
	Clear  bool   `mapstructure:"clear"`
}

// StateConfig selects and configures the state backend.
type StateConfig struct {
	Backend         string `mapstructure:"backend"`
	Dir             string `mapstructure:"dir"`
	SQLitePath      string `mapstructure:"sqlite_path"`
	MongoURI        string `mapstructure:"mongo_uri"`
	MongoDatabase   string `mapstructure:"mongo_database"`
	MongoCollection string `mapstructure:"mongo_collection"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// StatusConfig holds the optional status endpoint settings.
type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

// flagKeys maps config keys to the CLI flags that override them.
var flagKeys = map[string]string{
	"loki.url":                 "url",
	"loki.query":               "query",
	"loki.org_id":              "org-id",
	"loki.headers":             "headers",
	"loki.query_tags":          "query-tags",
	"loki.timeout":             "timeout",
	"loki.requests_per_second": "rps",
	"window.from":              "from",
	"window.to":                "to",
	"window.direction":         "direction",
	"limits.total":             "total-records-limit",
	"limits.file":              "file-records-limit",
	"limits.batch":             "batch-records-limit",
	"run.cool_down":            "cool-down",
	"run.prompt_to_start":      "prompt-to-start",
	"output.folder":            "output-folder",
	"output.name":              "output-name",
	"output.clear":             "clear-output-dir",
	"state.backend":            "state-backend",
	"state.dir":                "state-dir",
	"log.level":                "log-level",
	"log.pretty":               "pretty-logs",
	"status.addr":              "status-addr",
}

// ReadFileFunc reads a config file from disk.
type ReadFileFunc func(path string) ([]byte, error)

// Load resolves the configuration from defaults, an optional config file, environment
// variables and finally the given flags. The result is validated before it is returned.
func Load(flags *pflag.FlagSet, configPath string, readFile ReadFileFunc) (*Config, error) {
	v := viper.New()
	setDefaults(v, time.Now())

	if configPath != "" {
		if readFile == nil {
			readFile = os.ReadFile
		}
		raw, err := readFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		v.SetConfigType(configType(configPath))
		if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only sees keys viper already knows about.
	for _, key := range []string{"loki.username", "loki.password", "state.mongo_uri"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		timeToStringHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hooks); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, now time.Time) {
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	v.SetDefault("loki.url", "http://localhost:3100")
	v.SetDefault("loki.query", "")
	v.SetDefault("loki.org_id", "")
	v.SetDefault("loki.headers", []string{})
	v.SetDefault("loki.query_tags", []string{})
	v.SetDefault("loki.timeout", 60*time.Second)
	v.SetDefault("loki.requests_per_second", 0)
	v.SetDefault("window.from", startOfDay.Format(time.RFC3339))
	v.SetDefault("window.to", startOfDay.AddDate(0, 0, 1).Format(time.RFC3339))
	v.SetDefault("window.direction", string(domain.DirectionBackward))
	v.SetDefault("limits.total", 0)
	v.SetDefault("limits.file", 0)
	v.SetDefault("limits.batch", 2000)
	v.SetDefault("run.cool_down", 10*time.Second)
	v.SetDefault("run.prompt_to_start", false)
	v.SetDefault("output.folder", "output")
	v.SetDefault("output.name", "download")
	v.SetDefault("output.clear", false)
	v.SetDefault("state.backend", BackendFile)
	v.SetDefault("state.dir", filepath.Join(".internal", "state"))
	v.SetDefault("state.sqlite_path", filepath.Join(".internal", "state.db"))
	v.SetDefault("state.mongo_database", "loki_downloader")
	v.SetDefault("state.mongo_collection", "run_states")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	v.SetDefault("status.addr", "")
}

// timeToStringHook keeps unquoted YAML timestamps usable for the window bounds.
func timeToStringHook(from, to reflect.Type, data any) (any, error) {
	if t, ok := data.(time.Time); ok && to.Kind() == reflect.String {
		return t.Format(time.RFC3339Nano), nil
	}
	return data, nil
}

func configType(path string) string {
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
	case "yml", "yaml":
		return "yaml"
	case "":
		return "yaml"
	default:
		return ext
	}
}

// --- Validation ---

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// IsValidationError reports whether err is, or wraps, a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks the configuration and fills the parsed window fields.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.Loki.Query) == "" {
		add("loki.query is required")
	}
	if u, err := url.Parse(c.Loki.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("loki.url must be an absolute http(s) URL, got %q", c.Loki.URL)
	}
	for _, h := range c.Loki.Headers {
		if name, _, ok := strings.Cut(h, ":"); !ok || strings.TrimSpace(name) == "" {
			add("loki.headers entry %q must look like 'Name: value'", h)
		}
	}
	for _, tag := range c.Loki.QueryTags {
		if k, _, ok := strings.Cut(tag, "="); !ok || strings.TrimSpace(k) == "" {
			add("loki.query_tags entry %q must look like 'key=value'", tag)
		}
	}
	if c.Loki.Timeout < 0 {
		add("loki.timeout must not be negative")
	}
	if c.Loki.RequestsPerSecond < 0 {
		add("loki.requests_per_second must not be negative")
	}

	from, errFrom := ParseTime(c.Window.FromRaw)
	if errFrom != nil {
		add("window.from: %v", errFrom)
	}
	to, errTo := ParseTime(c.Window.ToRaw)
	if errTo != nil {
		add("window.to: %v", errTo)
	}
	if errFrom == nil && errTo == nil {
		if !from.Before(to) {
			add("window.from (%s) must be before window.to (%s)", from.Format(time.RFC3339), to.Format(time.RFC3339))
		}
		c.Window.From, c.Window.To = from, to
	}
	if dir, err := domain.ParseDirection(c.Window.Direction); err != nil {
		add("window.direction: %v", err)
	} else {
		c.Window.Dir = dir
	}

	if c.Limits.Total < 0 {
		add("limits.total must not be negative")
	}
	if c.Limits.File < 0 {
		add("limits.file must not be negative")
	}
	if c.Limits.Batch <= 0 {
		add("limits.batch must be positive")
	}
	if c.Run.CoolDown < 0 {
		add("run.cool_down must not be negative")
	}

	if strings.TrimSpace(c.Output.Folder) == "" {
		add("output.folder is required")
	}
	if strings.TrimSpace(c.Output.Name) == "" {
		add("output.name is required")
	}

	switch c.State.Backend {
	case BackendFile:
		if c.State.Dir == "" {
			add("state.dir is required for the file backend")
		}
	case BackendSQLite:
		if c.State.SQLitePath == "" {
			add("state.sqlite_path is required for the sqlite backend")
		}
	case BackendMongo:
		if c.State.MongoURI == "" {
			add("state.mongo_uri is required for the mongo backend")
		}
	default:
		add("state.backend must be one of file, sqlite, mongo; got %q", c.State.Backend)
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// timeLayouts are tried in order by ParseTime. Layouts without a zone use local time.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime accepts RFC3339 timestamps and a few shorter local-time forms.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("time is required")
	}
	for i, layout := range timeLayouts {
		var t time.Time
		var err error
		if i == 0 {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, time.Local)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a time", s)
}

// --- Derived values ---

// OutputDir is the directory the numbered output files are written to.
func (c *Config) OutputDir() string {
	return filepath.Join(c.Output.Folder, c.Output.Name)
}

// FingerprintInputs returns the ordered parameters that identify one logical run.
func (c *Config) FingerprintInputs() []string {
	return []string{
		c.Window.From.UTC().Format(time.RFC3339Nano),
		c.Window.To.UTC().Format(time.RFC3339Nano),
		c.Loki.Query,
		c.Loki.URL,
		domain.LimitString(c.Limits.File),
		c.Output.Folder,
		c.Output.Name,
		string(c.Window.Dir),
	}
}
