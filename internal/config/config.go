// Package config holds the harvester's configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/crossharvest/crossharvest/internal/classify"
	"github.com/crossharvest/crossharvest/internal/crossref"
)

const (
	// ConfigDir is the directory name under XDG_CONFIG_HOME.
	ConfigDir = "crossharvest"
	// ConfigFile is the config file name.
	ConfigFile = "config.yml"

	// DateLayout is the layout of the harvest window bounds.
	DateLayout = "2006-01-02"

	// MaxRows is the largest page size the works endpoint accepts.
	MaxRows = 1000
)

// Config is the explicit configuration passed into the harvester.
type Config struct {
	BaseURL   string `yaml:"base_url" json:"base_url"`
	Mailto    string `yaml:"mailto,omitempty" json:"mailto,omitempty"`
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	DBPath    string `yaml:"db_path" json:"db_path"`

	TargetInstitution string   `yaml:"target_institution" json:"target_institution"`
	HomeCountryCode   string   `yaml:"home_country_code" json:"home_country_code"`
	HomeCountryName   string   `yaml:"home_country_name" json:"home_country_name"`
	UseVariants       bool     `yaml:"use_variants" json:"use_variants"`
	Variants          []string `yaml:"variants,omitempty" json:"variants,omitempty"`

	FromDate  string `yaml:"from_date" json:"from_date"`
	UntilDate string `yaml:"until_date" json:"until_date"`

	Select []string `yaml:"select,omitempty" json:"select,omitempty"`
	Sort   string   `yaml:"sort,omitempty" json:"sort,omitempty"`
	Order  string   `yaml:"order,omitempty" json:"order,omitempty"`

	Rows         int  `yaml:"rows" json:"rows"`
	MaxWorks     int  `yaml:"max_works" json:"max_works"`
	NoHitsLimit  int  `yaml:"no_hits_limit" json:"no_hits_limit"`
	InsertTopics bool `yaml:"insert_topics" json:"insert_topics"`

	PagePause         time.Duration `yaml:"page_pause" json:"page_pause"`
	MalformedPause    time.Duration `yaml:"malformed_pause" json:"malformed_pause"`
	MaxMalformedPages int           `yaml:"max_malformed_pages" json:"max_malformed_pages"`

	MaxTries       int           `yaml:"max_tries" json:"max_tries"`
	BaseBackoff    time.Duration `yaml:"base_backoff" json:"base_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" json:"max_backoff"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	LogMode string `yaml:"log_mode" json:"log_mode"`

	Sites []classify.Site `yaml:"sites,omitempty" json:"sites,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		BaseURL:           "https://api.crossref.org/works",
		UserAgent:         "crossharvest/1.0",
		DBPath:            "crossharvest.db",
		TargetInstitution: "Universidad Politécnica Salesiana",
		HomeCountryCode:   "EC",
		HomeCountryName:   "Ecuador",
		Variants: []string{
			"Universidad Politécnica Salesiana",
			"Universidad Politecnica Salesiana",
			"Salesian Polytechnic University",
		},
		Select:            append([]string(nil), crossref.DefaultSelect...),
		FromDate:          "2022-01-01",
		UntilDate:         "2025-11-30",
		Rows:              500,
		MaxWorks:          1_000_000,
		NoHitsLimit:       15,
		InsertTopics:      true,
		PagePause:         300 * time.Millisecond,
		MalformedPause:    1500 * time.Millisecond,
		MaxMalformedPages: 5,
		MaxTries:          6,
		BaseBackoff:       time.Second,
		MaxBackoff:        30 * time.Second,
		RequestTimeout:    60 * time.Second,
		LogMode:           "development",
	}
}

// DefaultPath returns the path to the user config file.
// Respects XDG_CONFIG_HOME, defaults to ~/.config/crossharvest/config.yml.
func DefaultPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, ConfigDir, ConfigFile)
}

// Load reads the config file at path over the defaults, then applies
// environment overrides (after loading a .env file from the working
// directory, if present). A missing file is not an error. An empty path
// means DefaultPath.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = DefaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(ExpandPath(path))
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	_ = godotenv.Load()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.DBPath = ExpandPath(cfg.DBPath)
	return cfg, nil
}

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from CROSSHARVEST_* variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("CROSSHARVEST_BASE_URL", &c.BaseURL)
	str("CROSSHARVEST_MAILTO", &c.Mailto)
	str("CROSSHARVEST_USER_AGENT", &c.UserAgent)
	str("CROSSHARVEST_DB", &c.DBPath)
	str("CROSSHARVEST_TARGET", &c.TargetInstitution)
	str("CROSSHARVEST_FROM", &c.FromDate)
	str("CROSSHARVEST_UNTIL", &c.UntilDate)
	str("CROSSHARVEST_LOG_MODE", &c.LogMode)

	for _, e := range []error{
		num("CROSSHARVEST_ROWS", &c.Rows),
		num("CROSSHARVEST_MAX_WORKS", &c.MaxWorks),
		num("CROSSHARVEST_NO_HITS_LIMIT", &c.NoHitsLimit),
		flag("CROSSHARVEST_USE_VARIANTS", &c.UseVariants),
		flag("CROSSHARVEST_INSERT_TOPICS", &c.InsertTopics),
	} {
		if e != nil {
			return fmt.Errorf("environment override: %w", e)
		}
	}
	return nil
}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks the configuration for values the harvester cannot run with.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.TargetInstitution) == "" {
		return fail("target_institution is empty")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return fail("base_url is empty")
	}
	if c.Rows <= 0 || c.Rows > MaxRows {
		return fail("rows must be between 1 and %d, got %d", MaxRows, c.Rows)
	}
	if c.MaxWorks <= 0 {
		return fail("max_works must be positive, got %d", c.MaxWorks)
	}
	if c.NoHitsLimit <= 0 {
		return fail("no_hits_limit must be positive, got %d", c.NoHitsLimit)
	}
	if c.MaxTries <= 0 {
		return fail("max_tries must be positive, got %d", c.MaxTries)
	}
	if c.MaxMalformedPages <= 0 {
		return fail("max_malformed_pages must be positive, got %d", c.MaxMalformedPages)
	}

	from, err := time.Parse(DateLayout, c.FromDate)
	if err != nil {
		return fail("from_date %q: expected YYYY-MM-DD", c.FromDate)
	}
	until, err := time.Parse(DateLayout, c.UntilDate)
	if err != nil {
		return fail("until_date %q: expected YYYY-MM-DD", c.UntilDate)
	}
	if from.After(until) {
		return fail("from_date %s is after until_date %s", c.FromDate, c.UntilDate)
	}

	seen := make(map[int]bool, len(c.Sites))
	for _, s := range c.Sites {
		if s.ID <= 0 {
			return fail("site %q has non-positive id %d", s.Name, s.ID)
		}
		if seen[s.ID] {
			return fail("duplicate site id %d", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// ClassifierOptions derives the classifier settings.
func (c *Config) ClassifierOptions() classify.Options {
	return classify.Options{
		Target:          c.TargetInstitution,
		UseVariants:     c.UseVariants,
		Variants:        c.Variants,
		HomeCountryCode: c.HomeCountryCode,
		HomeCountryName: c.HomeCountryName,
		Sites:           c.Sites,
	}
}

// Query builds the first-page request for the configured harvest.
func (c *Config) Query() crossref.Query {
	return crossref.Query{
		AffiliationQuery: c.TargetInstitution,
		Filter: crossref.Filter{
			HasAffiliation: true,
			FromPubDate:    c.FromDate,
			UntilPubDate:   c.UntilDate,
		},
		Rows:   c.Rows,
		Cursor: crossref.InitialCursor,
		Select: c.Select,
		Sort:   c.Sort,
		Order:  c.Order,
		Mailto: c.Mailto,
	}
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[1:])
}
