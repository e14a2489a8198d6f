package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Secrets may also come from the environment (or a .env file
// next to the config) so they never have to be written into the YAML.

// ICSConfig describes a single ICS subscription shown next to the Google
// calendars in the agenda.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label shown in the UI.
	Name string `yaml:"name" json:"name"`
	// Color is the #RRGGBB swatch used for the feed's events.
	Color string `yaml:"color" json:"color"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
// PasswordBcrypt takes precedence over Password when both are set.
type BasicAuthConfig struct {
	Username       string `yaml:"username" json:"username"`
	Password       string `yaml:"password,omitempty" json:"password,omitempty"`
	PasswordBcrypt string `yaml:"password_bcrypt,omitempty" json:"password_bcrypt,omitempty"`
}

// RefreshConfig holds cron specs for the background refresh jobs.
type RefreshConfig struct {
	Agenda   string `yaml:"agenda" json:"agenda"`
	Weather  string `yaml:"weather" json:"weather"`
	Holidays string `yaml:"holidays" json:"holidays"`
}

// CacheTTLConfig overrides the per-domain max ages. Zero keeps the default.
type CacheTTLConfig struct {
	Weather      time.Duration `yaml:"weather" json:"weather"`
	Holidays     time.Duration `yaml:"holidays" json:"holidays"`
	Events       time.Duration `yaml:"events" json:"events"`
	CalendarList time.Duration `yaml:"calendar_list" json:"calendar_list"`
}

// WeatherConfig points at the forecast / reverse geocoding services and holds
// the fallback coordinates used when the browser does not report a position.
type WeatherConfig struct {
	Latitude    float64 `yaml:"latitude" json:"latitude"`
	Longitude   float64 `yaml:"longitude" json:"longitude"`
	ForecastURL string  `yaml:"forecast_url" json:"forecast_url"`
	GeocodeURL  string  `yaml:"geocode_url" json:"geocode_url"`
	Language    string  `yaml:"language" json:"language"`
}

// HolidaysConfig points at the public holiday endpoint.
type HolidaysConfig struct {
	URL string `yaml:"url" json:"url"`
}

// GoogleConfig holds the OAuth client used for Google Calendar access.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret,omitempty" json:"-"`
	RedirectURL  string `yaml:"redirect_url" json:"redirect_url"`
	// APIEndpoint overrides the Calendar API base URL (tests, proxies).
	APIEndpoint string `yaml:"api_endpoint,omitempty" json:"api_endpoint,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the start page and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for day boundaries (e.g. "Asia/Tokyo").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart controls which weekday is the first column of the month grid.
	// Supported values:
	//   - "sunday" (default)
	//   - "monday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// DataDir holds the key-value state file, the OAuth token and the ICS cache.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// SearchURL is the search engine URL; the escaped query is appended.
	SearchURL string `yaml:"search_url" json:"search_url"`

	// HTTPTimeout bounds each outbound request individually.
	HTTPTimeout time.Duration `yaml:"http_timeout" json:"http_timeout"`

	Refresh  RefreshConfig  `yaml:"refresh" json:"refresh"`
	CacheTTL CacheTTLConfig `yaml:"cache_ttl" json:"cache_ttl"`
	Weather  WeatherConfig  `yaml:"weather" json:"weather"`
	Holidays HolidaysConfig `yaml:"holidays" json:"holidays"`
	Google   GoogleConfig   `yaml:"google" json:"google"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "Asia/Tokyo"
	defaultWeekStart   = "sunday"
	defaultDataDir     = "/var/lib/startpage"
	defaultSearchURL   = "https://www.google.com/search?q="
	defaultHTTPTimeout = 15 * time.Second
	defaultForecastURL = "https://api.open-meteo.com/v1/forecast"
	defaultGeocodeURL  = "https://nominatim.openstreetmap.org/reverse"
	defaultHolidaysURL = "https://holidays-jp.github.io/api/v1/date.json"
	defaultRedirectURL = "http://127.0.0.1:8080/auth/google/callback"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		Timezone:    defaultTimezone,
		WeekStart:   defaultWeekStart,
		DataDir:     defaultDataDir,
		LogLevel:    "info",
		SearchURL:   defaultSearchURL,
		HTTPTimeout: defaultHTTPTimeout,
		Refresh: RefreshConfig{
			Agenda:   "*/5 * * * *",
			Weather:  "*/10 * * * *",
			Holidays: "0 4 * * *",
		},
		Weather: WeatherConfig{
			// Tokyo Station; overridden by the browser's position when available.
			Latitude:    35.6812,
			Longitude:   139.7671,
			ForecastURL: defaultForecastURL,
			GeocodeURL:  defaultGeocodeURL,
			Language:    "ja",
		},
		Holidays: HolidaysConfig{URL: defaultHolidaysURL},
		Google:   GoogleConfig{RedirectURL: defaultRedirectURL},
		ICS:      []ICSConfig{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	switch c.WeekStart {
	case "monday", "sunday":
		// ok
	default:
		// Unknown value; fall back to sunday to avoid surprising layouts.
		c.WeekStart = d.WeekStart
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.SearchURL == "" {
		c.SearchURL = d.SearchURL
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = d.HTTPTimeout
	}
	if c.Refresh.Agenda == "" {
		c.Refresh.Agenda = d.Refresh.Agenda
	}
	if c.Refresh.Weather == "" {
		c.Refresh.Weather = d.Refresh.Weather
	}
	if c.Refresh.Holidays == "" {
		c.Refresh.Holidays = d.Refresh.Holidays
	}
	if c.Weather.Latitude == 0 && c.Weather.Longitude == 0 {
		c.Weather.Latitude = d.Weather.Latitude
		c.Weather.Longitude = d.Weather.Longitude
	}
	if c.Weather.ForecastURL == "" {
		c.Weather.ForecastURL = d.Weather.ForecastURL
	}
	if c.Weather.GeocodeURL == "" {
		c.Weather.GeocodeURL = d.Weather.GeocodeURL
	}
	if c.Weather.Language == "" {
		c.Weather.Language = d.Weather.Language
	}
	if c.Holidays.URL == "" {
		c.Holidays.URL = d.Holidays.URL
	}
	if c.Google.RedirectURL == "" {
		c.Google.RedirectURL = d.Google.RedirectURL
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			if c.ICS[i].Name != "" {
				c.ICS[i].ID = c.ICS[i].Name
			} else {
				c.ICS[i].ID = c.ICS[i].URL
			}
		}
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// GoogleEnabled reports whether an OAuth client is configured.
func (c *Config) GoogleEnabled() bool {
	return c.Google.ClientID != "" && c.Google.ClientSecret != ""
}

// StatePath is the key-value state file.
func (c *Config) StatePath() string { return filepath.Join(c.DataDir, "state.json") }

// TokenPath is where the Google OAuth token is persisted.
func (c *Config) TokenPath() string { return filepath.Join(c.DataDir, "token.json") }

// ICSCacheDir is the per-feed HTTP cache directory.
func (c *Config) ICSCacheDir() string { return filepath.Join(c.DataDir, "ics-cache") }

// PreviewPath is where -snapshot writes the page screenshot.
func (c *Config) PreviewPath() string { return filepath.Join(c.DataDir, "preview.png") }

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//   - In both cases, secrets from the environment (and an optional .env file
//     in the config directory) are applied on top. They are never saved.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	// A missing .env file is the common case and not an error.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				cfg.applyEnv()
				return cfg, err
			}
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.applyEnv()

	return &cfg, nil
}

// applyEnv overlays secrets and deployment overrides from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		c.Google.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		c.Google.ClientSecret = v
	}
	if v := os.Getenv("GOOGLE_REDIRECT_URL"); v != "" {
		c.Google.RedirectURL = v
	}
	if v := os.Getenv("STARTPAGE_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("STARTPAGE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("STARTPAGE_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.HTTPTimeout = d
		} else if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.HTTPTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("STARTPAGE_BASIC_AUTH_PASSWORD"); v != "" && c.BasicAuth != nil {
		c.BasicAuth.Password = v
	}
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, ".startpage-config-*.tmp")
}

// WriteFileAtomic writes data to path via a temp file in the same directory
// and a rename, leaving the file with 0600 permissions. The parent directory
// is created with 0700 if needed.
func WriteFileAtomic(path string, data []byte, pattern string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
