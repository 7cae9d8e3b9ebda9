// Package config loads aclmeterd's runtime options: tunable constants and
// connection settings from environment variables, with an optional YAML
// plugin-options file overlay validated against a JSON Schema before it is
// applied. The resolved options are logged once, redacted, at startup.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

// Options holds every tunable the engine reads at startup.
type Options struct {
	// MongoURI is the connection string for the account store.
	MongoURI string `env:"ACL_MONGO_URI" envDefault:"mongodb://localhost:27017"`
	// MongoDatabase is the database holding the accounts collection.
	MongoDatabase string `env:"ACL_MONGO_DATABASE" envDefault:"transitive"`
	// AccountsCollection is the name of the accounts collection.
	AccountsCollection string `env:"ACL_ACCOUNTS_COLLECTION" envDefault:"accounts"`

	// ListenAddress is the MQTT TCP listener address.
	ListenAddress string `env:"ACL_LISTEN_ADDRESS" envDefault:":1883"`
	// WebsocketAddress is the MQTT-over-websocket listener address for
	// browser clients; empty disables the websocket listener.
	WebsocketAddress string `env:"ACL_WEBSOCKET_ADDRESS" envDefault:":9001"`
	// MetricsAddress serves the Prometheus /metrics endpoint.
	MetricsAddress string `env:"ACL_METRICS_ADDRESS" envDefault:":9090"`

	// BillingService is read at init; currently informational only.
	BillingService string `env:"TR_BILLING_SERVICE"`

	// AccountRefreshInterval is how often the account cache is refetched
	// from the store.
	AccountRefreshInterval time.Duration `env:"ACL_ACCOUNT_REFRESH_INTERVAL" envDefault:"5m"`
	// MeterFlushInterval is how often cap_usage counters are flushed back
	// to the store.
	MeterFlushInterval time.Duration `env:"ACL_METER_FLUSH_INTERVAL" envDefault:"1h"`

	// IpsetPath overrides the resolved path to the ipset binary, mainly for
	// environments where it isn't on PATH.
	IpsetPath string `env:"ACL_IPSET_PATH"`

	// LogLevel and LogFormat configure pkg/logging.
	LogLevel  string `env:"ACL_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"ACL_LOG_FORMAT" envDefault:"text"`

	// ConfigFile, if set, is loaded as a YAML overlay on top of the above
	// (see Load). It is itself discoverable via ACL_CONFIG_FILE so a
	// container deployment can point at a mounted file without a CLI flag.
	ConfigFile string `env:"ACL_CONFIG_FILE"`
}

// FromEnv parses Options from environment variables, applying the
// `envDefault` tags for anything unset.
func FromEnv() (Options, error) {
	var o Options
	if err := env.Parse(&o); err != nil {
		return Options{}, fmt.Errorf("config: parse env: %w", err)
	}
	return o, nil
}

// Load builds Options from the environment and then, if configFile is
// non-empty (an explicit override takes precedence over ACL_CONFIG_FILE),
// overlays a validated YAML options file on top. Fields left zero in the
// file are left at their env-derived value.
func Load(configFile string) (Options, error) {
	o, err := FromEnv()
	if err != nil {
		return Options{}, err
	}
	if configFile != "" {
		o.ConfigFile = configFile
	}
	if o.ConfigFile == "" {
		return o, nil
	}

	overlay, err := LoadFile(o.ConfigFile)
	if err != nil {
		return Options{}, fmt.Errorf("config: load file %s: %w", o.ConfigFile, err)
	}
	applyOverlay(&o, overlay)
	return o, nil
}

// applyOverlay copies every non-zero field of overlay onto o.
func applyOverlay(o *Options, overlay fileOptions) {
	if overlay.MongoURI != "" {
		o.MongoURI = overlay.MongoURI
	}
	if overlay.MongoDatabase != "" {
		o.MongoDatabase = overlay.MongoDatabase
	}
	if overlay.AccountsCollection != "" {
		o.AccountsCollection = overlay.AccountsCollection
	}
	if overlay.ListenAddress != "" {
		o.ListenAddress = overlay.ListenAddress
	}
	if overlay.WebsocketAddress != "" {
		o.WebsocketAddress = overlay.WebsocketAddress
	}
	if overlay.MetricsAddress != "" {
		o.MetricsAddress = overlay.MetricsAddress
	}
	if overlay.BillingService != "" {
		o.BillingService = overlay.BillingService
	}
	if overlay.AccountRefreshInterval != 0 {
		o.AccountRefreshInterval = overlay.AccountRefreshInterval
	}
	if overlay.MeterFlushInterval != 0 {
		o.MeterFlushInterval = overlay.MeterFlushInterval
	}
	if overlay.IpsetPath != "" {
		o.IpsetPath = overlay.IpsetPath
	}
	if overlay.LogLevel != "" {
		o.LogLevel = overlay.LogLevel
	}
	if overlay.LogFormat != "" {
		o.LogFormat = overlay.LogFormat
	}
}

// Redacted returns a copy of o suitable for logging: MongoURI's userinfo, if
// any, is replaced with "***", since a Mongo connection string often embeds
// credentials.
func (o Options) Redacted() Options {
	redacted := o
	redacted.MongoURI = redactURI(o.MongoURI)
	return redacted
}

// LogStartup logs the resolved, redacted options once at process start.
func (o Options) LogStartup(log *slog.Logger) {
	log.Info("aclmeterd: starting with options", "options", marshalForLog(o.Redacted()))
}
