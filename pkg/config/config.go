// Package config provides the bridge configuration using Viper
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type AuthMode string

const (
	AuthNone  AuthMode = "none"
	AuthBasic AuthMode = "basic"
	AuthOAuth AuthMode = "oauth"
)

const (
	DefaultCLIDownloadLink      = "https://github.com/keptn/keptn/releases"
	DefaultIntegrationsPageLink = "https://get.keptn.sh/integrations.html"
	DefaultTokenCommand         = "kubectl get secret keptn-api-token -n keptn -ojsonpath={.data.keptn-api-token}"
)

type OAuthConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Discovery    string `mapstructure:"discovery"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	BaseURL      string `mapstructure:"base_url"`
	Scope        string `mapstructure:"scope"`
}

type BasicAuthConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type SessionConfig struct {
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
	Secure  bool          `mapstructure:"secure"`
}

type BrandingConfig struct {
	URL        string        `mapstructure:"url"`
	Delay      time.Duration `mapstructure:"delay"`
	Timeout    time.Duration `mapstructure:"timeout"`
	StagingDir string        `mapstructure:"staging_dir"`
}

type TokenConfig struct {
	Command string        `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type BridgeConfig struct {
	Port                 int             `mapstructure:"port"`
	Hostname             string          `mapstructure:"hostname"`
	APIURL               string          `mapstructure:"api_url"`
	APIToken             string          `mapstructure:"api_token"`
	CLIDownloadLink      string          `mapstructure:"cli_download_link"`
	IntegrationsPageLink string          `mapstructure:"integrations_page_link"`
	FrontendDir          string          `mapstructure:"frontend_dir"`
	StaticDir            string          `mapstructure:"static_dir"`
	BrandingDir          string          `mapstructure:"branding_dir"`
	CacheMaxAge          time.Duration   `mapstructure:"cache_max_age"`
	DebugEndpoints       bool            `mapstructure:"debug_endpoints"`
	MetricsEnabled       bool            `mapstructure:"metrics_enabled"`
	EnableVersionCheck   bool            `mapstructure:"enable_version_check"`
	Version              string          `mapstructure:"version"`
	Token                TokenConfig     `mapstructure:"token"`
	Branding             BrandingConfig  `mapstructure:"branding"`
	OAuth                OAuthConfig     `mapstructure:"oauth"`
	Basic                BasicAuthConfig `mapstructure:"basic"`
	Session              SessionConfig   `mapstructure:"session"`
}

// Config holds the values read once at startup. It is not modified after Load returns.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	Bridge BridgeConfig `mapstructure:"bridge"`
}

// legacyEnv maps viper keys to the environment variable names the bridge has always read.
var legacyEnv = map[string]string{
	"bridge.api_url":                "API_URL",
	"bridge.api_token":              "API_TOKEN",
	"bridge.cli_download_link":      "CLI_DOWNLOAD_LINK",
	"bridge.integrations_page_link": "INTEGRATIONS_PAGE_LINK",
	"bridge.branding.url":           "LOOK_AND_FEEL_URL",
	"bridge.oauth.enabled":          "OAUTH_ENABLED",
	"bridge.oauth.discovery":        "OAUTH_DISCOVERY",
	"bridge.oauth.client_id":        "OAUTH_CLIENT_ID",
	"bridge.oauth.client_secret":    "OAUTH_CLIENT_SECRET",
	"bridge.oauth.base_url":         "OAUTH_BASE_URL",
	"bridge.oauth.scope":            "OAUTH_SCOPE",
	"bridge.basic.username":         "BASIC_AUTH_USERNAME",
	"bridge.basic.password":         "BASIC_AUTH_PASSWORD",
	"bridge.session.secret":         "SESSION_SECRET",
	"bridge.version":                "VERSION",
	"bridge.enable_version_check":   "ENABLE_VERSION_CHECK",
}

func setBridgeDefaults(v *viper.Viper) {
	v.SetDefault("bridge.port", 3000)
	v.SetDefault("bridge.hostname", "")
	v.SetDefault("bridge.api_url", "")
	v.SetDefault("bridge.api_token", "")
	v.SetDefault("bridge.cli_download_link", "")
	v.SetDefault("bridge.integrations_page_link", "")
	v.SetDefault("bridge.frontend_dir", "dist")
	v.SetDefault("bridge.static_dir", filepath.Join("server", "views", "static"))
	v.SetDefault("bridge.branding_dir", "")
	v.SetDefault("bridge.cache_max_age", 7*24*time.Hour)
	v.SetDefault("bridge.debug_endpoints", false)
	v.SetDefault("bridge.metrics_enabled", true)
	v.SetDefault("bridge.version", "develop")
	v.SetDefault("bridge.enable_version_check", true)

	v.SetDefault("bridge.token.command", DefaultTokenCommand)
	v.SetDefault("bridge.token.timeout", 10*time.Second)

	v.SetDefault("bridge.branding.url", "")
	v.SetDefault("bridge.branding.delay", 90*time.Second)
	v.SetDefault("bridge.branding.timeout", 5*time.Minute)
	v.SetDefault("bridge.branding.staging_dir", "")

	v.SetDefault("bridge.oauth.enabled", false)
	v.SetDefault("bridge.oauth.discovery", "")
	v.SetDefault("bridge.oauth.client_id", "")
	v.SetDefault("bridge.oauth.client_secret", "")
	v.SetDefault("bridge.oauth.base_url", "")
	v.SetDefault("bridge.oauth.scope", "")

	v.SetDefault("bridge.basic.username", "")
	v.SetDefault("bridge.basic.password", "")

	v.SetDefault("bridge.session.secret", "")
	v.SetDefault("bridge.session.timeout", 60*time.Minute)
	v.SetDefault("bridge.session.secure", false)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")
	v.SetDefault("log_level", "info")

	setBridgeDefaults(v)
}

// NewViper returns a viper instance configured for the bridge: BRIDGE_ prefixed
// environment variables, the legacy variable names, and ./config.* as the optional file.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		// BindEnv only fails when called without a key
		_ = v.BindEnv(key, "BRIDGE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}
	v.SetConfigName("config")
	v.AddConfigPath(".")
	setDefaults(v)
	return v
}

// Load reads configuration from the optional config file, the environment and the
// override string, applies link defaults and validates the result.
func Load(v *viper.Viper, configPath string, overrideStr string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	err := v.ReadInConfig()
	if err != nil {
		// Ignore file not found errors (config is optional)
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("read config file %q: %w", v.ConfigFileUsed(), err)
		}
		slog.Info("No config file found, using defaults")
	} else {
		slog.Info("Loaded config file", "path", v.ConfigFileUsed())
	}

	// Process override flag if provided (after loading config to ensure highest precedence)
	if overrideStr != "" {
		pairs := strings.Split(overrideStr, ",")
		for _, pair := range pairs {
			parts := strings.SplitN(pair, ":", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("invalid override %q, expected key:value", pair)
			}
			v.Set(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	cfg.applyLinkDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyLinkDefaults() {
	if c.Bridge.CLIDownloadLink == "" {
		slog.Info("CLI download link was not provided, using default", "link", DefaultCLIDownloadLink)
		c.Bridge.CLIDownloadLink = DefaultCLIDownloadLink
	}
	if c.Bridge.IntegrationsPageLink == "" {
		slog.Info("Integrations page link was not provided, using default", "link", DefaultIntegrationsPageLink)
		c.Bridge.IntegrationsPageLink = DefaultIntegrationsPageLink
	}
	if c.Bridge.BrandingDir == "" {
		c.Bridge.BrandingDir = filepath.Join(c.Bridge.FrontendDir, "assets", "branding")
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	b := c.Bridge
	if b.Port < 0 || b.Port > 65535 {
		return fmt.Errorf("bridge.port %d out of range", b.Port)
	}
	if b.APIURL != "" {
		u, err := url.Parse(b.APIURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("bridge.api_url %q is not an absolute URL", b.APIURL)
		}
	}
	if b.Branding.URL != "" {
		if _, err := url.ParseRequestURI(b.Branding.URL); err != nil {
			return fmt.Errorf("bridge.branding.url %q: %w", b.Branding.URL, err)
		}
	}
	if b.Branding.Delay < 0 || b.Branding.Timeout < 0 || b.Token.Timeout < 0 || b.CacheMaxAge < 0 {
		return errors.New("durations must not be negative")
	}
	if c.AuthMode() == AuthOAuth {
		if b.OAuth.Discovery == "" || b.OAuth.ClientID == "" || b.OAuth.BaseURL == "" {
			return errors.New("oauth requires discovery, client_id and base_url")
		}
	}
	return nil
}

// AuthMode picks the authentication strategy. The first match wins: OAuth when
// enabled, Basic when both username and password are set, otherwise none.
func (c *Config) AuthMode() AuthMode {
	switch {
	case c.Bridge.OAuth.Enabled:
		return AuthOAuth
	case c.Bridge.Basic.Username != "" && c.Bridge.Basic.Password != "":
		return AuthBasic
	default:
		return AuthNone
	}
}

// IsDevelopment reports whether error details may be shown to clients.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Redacted returns a copy that is safe to log.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	c.Bridge.APIToken = mask(c.Bridge.APIToken)
	c.Bridge.OAuth.ClientSecret = mask(c.Bridge.OAuth.ClientSecret)
	c.Bridge.Basic.Password = mask(c.Bridge.Basic.Password)
	c.Bridge.Session.Secret = mask(c.Bridge.Session.Secret)
	return c
}

// BindFlags binds pflags to viper keys. bindFlags is a map of pflag names to viper keys.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet, bindFlags map[string]string) error {
	for flagName, viperKey := range bindFlags {
		f := fs.Lookup(flagName)
		if f == nil {
			return fmt.Errorf("unknown flag %q", flagName)
		}
		if err := v.BindPFlag(viperKey, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", flagName, err)
		}
	}
	return nil
}
