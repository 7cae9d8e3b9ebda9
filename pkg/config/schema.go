package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// fileOptions is the YAML shape of an options-file overlay. Every field is
// optional; anything present overrides the corresponding env-derived value
// in Options.
type fileOptions struct {
	MongoURI           string `yaml:"mongoUri" json:"mongoUri"`
	MongoDatabase      string `yaml:"mongoDatabase" json:"mongoDatabase"`
	AccountsCollection string `yaml:"accountsCollection" json:"accountsCollection"`
	ListenAddress      string `yaml:"listenAddress" json:"listenAddress"`
	WebsocketAddress   string `yaml:"websocketAddress" json:"websocketAddress"`
	MetricsAddress     string `yaml:"metricsAddress" json:"metricsAddress"`
	BillingService     string `yaml:"billingService" json:"billingService"`
	IpsetPath          string `yaml:"ipsetPath" json:"ipsetPath"`
	LogLevel           string `yaml:"logLevel" json:"logLevel"`
	LogFormat          string `yaml:"logFormat" json:"logFormat"`

	// AccountRefreshInterval and MeterFlushInterval are skipped by
	// yaml.Unmarshal (yaml:"-"); LoadFile reads their raw strings from the
	// validated document and fills them in with time.ParseDuration, since
	// neither YAML nor JSON Schema has a native duration type.
	AccountRefreshInterval time.Duration `yaml:"-" json:"-"`
	MeterFlushInterval     time.Duration `yaml:"-" json:"-"`
}

// optionsSchemaJSON is the JSON Schema the options file is validated
// against before being applied, compiled once on first use.
const optionsSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "mongoUri": {"type": "string", "minLength": 1},
    "mongoDatabase": {"type": "string", "minLength": 1},
    "accountsCollection": {"type": "string", "minLength": 1},
    "listenAddress": {"type": "string", "minLength": 1},
    "websocketAddress": {"type": "string"},
    "metricsAddress": {"type": "string", "minLength": 1},
    "billingService": {"type": "string"},
    "accountRefreshInterval": {"type": "string"},
    "meterFlushInterval": {"type": "string"},
    "ipsetPath": {"type": "string"},
    "logLevel": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
    "logFormat": {"type": "string", "enum": ["text", "json"]}
  }
}`

var (
	compileOnce  sync.Once
	optionSchema *jsonschema.Schema
	compileErr   error
)

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("options.json", strings.NewReader(optionsSchemaJSON)); err != nil {
			compileErr = fmt.Errorf("config: add schema resource: %w", err)
			return
		}
		optionSchema, compileErr = compiler.Compile("options.json")
	})
	return optionSchema, compileErr
}

// LoadFile reads a YAML options overlay from path, validates it against
// optionsSchemaJSON, and returns the parsed overlay. Duration fields
// (accountRefreshInterval, meterFlushInterval) are parsed with
// time.ParseDuration separately since JSON Schema has no native duration
// type.
func LoadFile(path string) (fileOptions, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileOptions{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fileOptions{}, fmt.Errorf("config: parse yaml: %w", err)
	}

	schema, err := compiledSchema()
	if err != nil {
		return fileOptions{}, err
	}

	// jsonschema validates against JSON-decoded values (map[string]any with
	// float64/string/bool/nil), which is exactly what yaml.v3 produces for
	// a map[string]any target, so the doc can be validated directly.
	if err := schema.Validate(doc); err != nil {
		return fileOptions{}, fmt.Errorf("config: %s: %w", path, err)
	}

	var overlay fileOptions
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return fileOptions{}, fmt.Errorf("config: decode yaml: %w", err)
	}
	if v, ok := doc["accountRefreshInterval"].(string); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fileOptions{}, fmt.Errorf("config: accountRefreshInterval: %w", err)
		}
		overlay.AccountRefreshInterval = d
	}
	if v, ok := doc["meterFlushInterval"].(string); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fileOptions{}, fmt.Errorf("config: meterFlushInterval: %w", err)
		}
		overlay.MeterFlushInterval = d
	}

	return overlay, nil
}

func redactURI(uri string) string {
	at := strings.Index(uri, "@")
	scheme := strings.Index(uri, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return uri
	}
	return uri[:scheme+3] + "***" + uri[at:]
}

// marshalForLog renders o as an indented JSON document, for a single
// startup log line.
func marshalForLog(o Options) string {
	b, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", o)
	}
	return string(b)
}
