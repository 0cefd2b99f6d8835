package character

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AuthenticatorConfig is the per-authenticator slice of the hub
// configuration, after the three-level merge of hub defaults, authenticator
// type defaults and user settings.
type AuthenticatorConfig struct {
	// Module selects the registered factory that builds this
	// authenticator.
	Module string `mapstructure:"module"`

	// SuccessRedirect is where the browser lands after a login.
	SuccessRedirect string `mapstructure:"success_redirect"`

	// FailureRedirect is where failed handshakes land; the relay appends
	// a reason query parameter. Defaults to the hub login page.
	FailureRedirect string `mapstructure:"failure_redirect"`

	// DeferredRedirect is where deferred handshakes land (a magic link
	// was sent, no synchronous login occurred). Empty means
	// SuccessRedirect.
	DeferredRedirect string `mapstructure:"deferred_redirect"`

	// OnboardKnownAccounts controls whether an authenticated account with
	// no identity link gets a fresh identity created, or is rejected.
	OnboardKnownAccounts *bool `mapstructure:"onboard_known_accounts"`

	// TargetParameter names the request field that discriminates
	// handshake legs for authenticators that cross a process boundary.
	TargetParameter string `mapstructure:"target_parameter"`

	// LoginAfterRegister makes a successful registration write a session
	// immediately. Nil means the layer leaves the setting alone, so a
	// user config can disable a factory default.
	LoginAfterRegister *bool `mapstructure:"login_after_register"`

	// Extra carries authenticator-specific settings (client ids, base
	// URLs) the core does not interpret.
	Extra map[string]string `mapstructure:"extra"`
}

// Onboarding reports whether onboarding is enabled, defaulting to true when
// unset.
func (c *AuthenticatorConfig) Onboarding() bool {
	return c.OnboardKnownAccounts == nil || *c.OnboardKnownAccounts
}

// LoginAfterRegistration reports whether a successful registration writes
// a session immediately, defaulting to false when unset.
func (c *AuthenticatorConfig) LoginAfterRegistration() bool {
	return c.LoginAfterRegister != nil && *c.LoginAfterRegister
}

// Deferred returns the redirect target for deferred handshakes.
func (c *AuthenticatorConfig) Deferred() string {
	if c.DeferredRedirect != "" {
		return c.DeferredRedirect
	}
	return c.SuccessRedirect
}

// SessionConfig configures the browser session.
type SessionConfig struct {
	// Secret signs the auth-token cookie. Required.
	Secret string `mapstructure:"secret"`

	// CookieName names the session cookie. Defaults to character.sid.
	CookieName string `mapstructure:"cookie_name"`

	// MaxAge is the session lifetime. Defaults to 24h.
	MaxAge time.Duration `mapstructure:"max_age"`
}

// Config is the hub-wide configuration surface.
type Config struct {
	// Base is the path prefix all authenticators mount under.
	Base string `mapstructure:"base"`

	// Login is the page failed handshakes redirect to by default.
	Login string `mapstructure:"login"`

	SuccessRedirect      string `mapstructure:"success_redirect"`
	OnboardKnownAccounts bool   `mapstructure:"onboard_known_accounts"`
	TargetParameter      string `mapstructure:"target_parameter"`

	// Production makes configuration problems fatal instead of
	// disabling the affected authenticator with a warning.
	Production bool `mapstructure:"production"`

	Session        SessionConfig                   `mapstructure:"session"`
	Authenticators map[string]*AuthenticatorConfig `mapstructure:"authenticators"`
}

// DefaultConfig returns the hub defaults.
func DefaultConfig() *Config {
	return &Config{
		Base:                 "/auth",
		Login:                "/login",
		SuccessRedirect:      "/",
		OnboardKnownAccounts: true,
		TargetParameter:      "character_target",
		Session: SessionConfig{
			CookieName: "character.sid",
			MaxAge:     24 * time.Hour,
		},
	}
}

// LoadConfig reads configuration from CHARACTER_* environment variables and
// an optional character.yaml in the working directory, layered over the hub
// defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("character")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetDefault("base", "/auth")
	v.SetDefault("login", "/login")
	v.SetDefault("success_redirect", "/")
	v.SetDefault("onboard_known_accounts", true)
	v.SetDefault("target_parameter", "character_target")
	v.SetDefault("session.cookie_name", "character.sid")
	v.SetDefault("session.max_age", 24*time.Hour)

	v.SetEnvPrefix("CHARACTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration rules the hub refuses to start
// without: a session secret, at least one authenticator, and a module name
// on every authenticator. It returns every problem found, not just the
// first.
func (c *Config) Validate() []error {
	var errs []error
	if c.Session.Secret == "" {
		errs = append(errs, &ConfigError{Message: "missing session secret"})
	}
	if c.Session.MaxAge <= 0 {
		errs = append(errs, &ConfigError{Message: "missing session cookie maximum age"})
	}
	if len(c.Authenticators) == 0 {
		errs = append(errs, &ConfigError{Message: "missing authenticators"})
	}
	for name, ac := range c.Authenticators {
		if ac == nil || ac.Module == "" {
			errs = append(errs, &ConfigError{Authenticator: name, Message: "missing module"})
		}
	}
	return errs
}

// authenticatorDefaults derives the hub-level defaults every authenticator
// starts from.
func (c *Config) authenticatorDefaults() *AuthenticatorConfig {
	onboard := c.OnboardKnownAccounts
	return &AuthenticatorConfig{
		SuccessRedirect:      c.SuccessRedirect,
		FailureRedirect:      c.Login,
		OnboardKnownAccounts: &onboard,
		TargetParameter:      c.TargetParameter,
	}
}

// MergeConfig layers typeDefaults over global and user over both, in
// increasing priority. Zero values never override; the result is a new
// value and none of the inputs are mutated.
func MergeConfig(global, typeDefaults, user *AuthenticatorConfig) *AuthenticatorConfig {
	out := &AuthenticatorConfig{}
	for _, layer := range []*AuthenticatorConfig{global, typeDefaults, user} {
		if layer == nil {
			continue
		}
		if layer.Module != "" {
			out.Module = layer.Module
		}
		if layer.SuccessRedirect != "" {
			out.SuccessRedirect = layer.SuccessRedirect
		}
		if layer.FailureRedirect != "" {
			out.FailureRedirect = layer.FailureRedirect
		}
		if layer.DeferredRedirect != "" {
			out.DeferredRedirect = layer.DeferredRedirect
		}
		if layer.OnboardKnownAccounts != nil {
			v := *layer.OnboardKnownAccounts
			out.OnboardKnownAccounts = &v
		}
		if layer.TargetParameter != "" {
			out.TargetParameter = layer.TargetParameter
		}
		if layer.LoginAfterRegister != nil {
			v := *layer.LoginAfterRegister
			out.LoginAfterRegister = &v
		}
		for k, v := range layer.Extra {
			if out.Extra == nil {
				out.Extra = make(map[string]string)
			}
			out.Extra[k] = v
		}
	}
	return out
}
