// Package config loads the provisioning daemon configuration.
//
// Precedence, highest first: PROVISIOND_* environment variables, the
// configuration file, built-in defaults. Nested keys map to environment
// variables by joining with underscores, so quota.recheck_interval is
// read from PROVISIOND_QUOTA_RECHECK_INTERVAL.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/isometry/dirprov/internal/autoprov"
	"github.com/isometry/dirprov/internal/cache"
	"github.com/isometry/dirprov/internal/dit"
	"github.com/isometry/dirprov/internal/entity"
	"github.com/isometry/dirprov/internal/ldap"
	"github.com/isometry/dirprov/internal/quota"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "PROVISIOND"

// Config is the daemon configuration.
type Config struct {
	Logging         LoggingConfig         `mapstructure:"logging"`
	Directory       DirectoryConfig       `mapstructure:"directory"`
	DIT             dit.Config            `mapstructure:"dit"`
	Cache           cache.Config          `mapstructure:"cache"`
	Schema          SchemaConfig          `mapstructure:"schema"`
	AutoProv        autoprov.EngineConfig `mapstructure:"autoprov"`
	Quota           quota.Config          `mapstructure:"quota"`
	Metrics         MetricsConfig         `mapstructure:"metrics"`
	ShutdownTimeout time.Duration         `mapstructure:"shutdown_timeout" default:"30s" validate:"gt=0"`
}

type LoggingConfig struct {
	// Level is one of TRACE, DEBUG, INFO, WARN, ERROR or OFF.
	Level string `mapstructure:"level" default:"INFO" validate:"oneof=TRACE DEBUG INFO WARN ERROR OFF trace debug info warn error off"`
	// Subsystems overrides Level per subsystem (ldap, cache, provisioning,
	// autoprov, quota).
	Subsystems map[string]string `mapstructure:"subsystems" validate:"dive,oneof=TRACE DEBUG INFO WARN ERROR OFF trace debug info warn error off"`
}

// DirectoryConfig is the connection to the provisioning directory.
type DirectoryConfig struct {
	// URLs are tried in order; Domain discovers servers through SRV
	// records instead.
	URLs           []string      `mapstructure:"urls" validate:"required_without=Domain,dive,url"`
	Domain         string        `mapstructure:"domain" validate:"omitempty,fqdn"`
	BaseDN         string        `mapstructure:"base_dn"`
	BindDN         string        `mapstructure:"bind_dn"`
	BindPassword   string        `mapstructure:"bind_password"`
	KerberosRealm  string        `mapstructure:"kerberos_realm"`
	KerberosKeytab string        `mapstructure:"kerberos_keytab" validate:"omitempty,file"`
	KerberosConfig string        `mapstructure:"kerberos_config" validate:"omitempty,file"`
	StartTLS       bool          `mapstructure:"start_tls"`
	SkipTLS        bool          `mapstructure:"skip_tls"`
	Timeout        time.Duration `mapstructure:"timeout" default:"30s" validate:"gt=0"`
	MaxConnections int           `mapstructure:"max_connections" default:"10" validate:"gte=1"`
	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=0"`
	PageSize       uint32        `mapstructure:"page_size" default:"1000"`
}

// ConnectionConfig converts the settings for ldap.NewClient.
func (d DirectoryConfig) ConnectionConfig() *ldap.ConnectionConfig {
	cfg := ldap.DefaultConfig()
	cfg.LDAPURLs = d.URLs
	cfg.Domain = d.Domain
	cfg.BaseDN = d.BaseDN
	cfg.Username = d.BindDN
	cfg.Password = d.BindPassword
	cfg.KerberosRealm = d.KerberosRealm
	cfg.KerberosKeytab = d.KerberosKeytab
	cfg.KerberosConfig = d.KerberosConfig
	cfg.UseTLS = d.StartTLS
	cfg.SkipTLS = d.SkipTLS
	cfg.Timeout = d.Timeout
	cfg.MaxConnections = d.MaxConnections
	cfg.MaxRetries = d.MaxRetries
	cfg.PageSize = d.PageSize
	return cfg
}

// SchemaConfig extends the built-in attribute schema.
type SchemaConfig struct {
	// ExtraObjectClasses maps a kind name (account, domain, cos, ...) to
	// deployment object classes whose attributes become valid for it.
	ExtraObjectClasses map[string][]string `mapstructure:"extra_object_classes"`
}

// ObjectClasses returns ExtraObjectClasses keyed by kind.
func (s SchemaConfig) ObjectClasses() (map[entity.Kind][]string, error) {
	out := make(map[entity.Kind][]string, len(s.ExtraObjectClasses))
	for name, classes := range s.ExtraObjectClasses {
		kind, err := entity.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("schema.extra_object_classes: %w", err)
		}
		out[kind] = append(out[kind], classes...)
	}
	return out, nil
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen" default:":9464" validate:"omitempty,hostname_port"`
}

// Default returns the built-in configuration. Values set explicitly by a
// file or the environment replace these, including zero values.
func Default() *Config {
	conn := ldap.DefaultConfig()
	cfg := &Config{
		Directory: DirectoryConfig{
			StartTLS:       conn.UseTLS,
			Timeout:        conn.Timeout,
			MaxConnections: conn.MaxConnections,
			MaxRetries:     conn.MaxRetries,
			PageSize:       conn.PageSize,
		},
		DIT:             dit.DefaultConfig(),
		Cache:           cache.DefaultConfig(),
		AutoProv:        autoprov.DefaultEngineConfig(),
		Quota:           quota.DefaultConfig(),
		Metrics:         MetricsConfig{Enabled: true},
	}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config: invalid default tag: %v", err))
	}
	return cfg
}

// Load reads the configuration file at path, when not empty, and the
// environment over the defaults, then validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v, "", reflect.TypeOf(Config{})); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("configuration file not found: %s", path)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := Default()
	if err := decode(v.AllSettings(), cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func decode(settings map[string]any, out *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(settings)
}

var durationType = reflect.TypeOf(time.Duration(0))

// bindEnv registers an environment binding for every leaf key of t so that
// variables are honoured without a matching key in the file.
func bindEnv(v *viper.Viper, prefix string, t reflect.Type) error {
	for i := range t.NumField() {
		f := t.Field(i)
		tag, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + tag
		switch {
		case f.Type.Kind() == reflect.Struct && f.Type != durationType:
			if err := bindEnv(v, key+".", f.Type); err != nil {
				return err
			}
		case f.Type.Kind() == reflect.Map:
		default:
			if err := v.BindEnv(key); err != nil {
				return fmt.Errorf("bind %s: %w", key, err)
			}
		}
	}
	return nil
}

// Validate checks struct constraints and the tree layout.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	var errs []error
	if err := validate.Struct(cfg); err != nil {
		errs = append(errs, err)
	}
	if d := cfg.Directory; (d.BindDN == "" || d.BindPassword == "") && d.KerberosRealm == "" {
		errs = append(errs, errors.New("directory: either bind_dn and bind_password or kerberos_realm must be set"))
	}
	if err := cfg.DIT.Verify(); err != nil {
		errs = append(errs, fmt.Errorf("dit: %w", err))
	}
	if _, err := cfg.Schema.ObjectClasses(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
