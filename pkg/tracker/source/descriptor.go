package source

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/gocarina/gocsv"
	iso8601 "github.com/senseyeio/duration"
	"gopkg.in/yaml.v3"
)

type TransportKind string

const (
	TransportJSONFeed  TransportKind = "json-feed"
	TransportSiriVM    TransportKind = "siri-vm"
	TransportWebSocket TransportKind = "websocket"
)

// Descriptor is the static configuration for one upstream feed. The mutable
// bookkeeping (cursors, last poll) lives in the durable model.Source row.
type Descriptor struct {
	Name      string        `yaml:"name"`
	Endpoint  string        `yaml:"endpoint"`
	Transport TransportKind `yaml:"transport"`

	// Durations are ISO8601 strings (PT30S, PT15M)
	PollInterval    string `yaml:"poll_interval"`
	BackoffInterval string `yaml:"backoff_interval"`
	FetchTimeout    string `yaml:"fetch_timeout"`
	CacheTTL        string `yaml:"cache_ttl"`
	StaleAfter      string `yaml:"stale_after"`

	Authentication Authentication `yaml:"authentication"`

	// Operators this source is allowed to attach vehicles to
	Operators []string `yaml:"operators"`

	// OperatorMap remaps vendor operator codes to operator identifiers.
	// Curated per source on purpose; vendors contradict each other too much
	// for a general algorithm.
	OperatorMap     map[string]string `yaml:"operator_map"`
	OperatorMapFile string            `yaml:"operator_map_file"`

	// VehicleCodeSeparators split vendor codes into fleet number and
	// registration, eg. "1234_-_YX63LKO"
	VehicleCodeSeparators []string `yaml:"vehicle_code_separators"`

	ServiceRules []*ServiceRule `yaml:"service_rules"`

	// Settings seeds the source's durable settings blob on first run
	Settings map[string]string `yaml:"settings"`

	// Custom holds adapter-specific keys (JSON field mapping, websocket
	// subscribe message)
	Custom map[string]string `yaml:"custom"`
}

type Authentication struct {
	Query  map[string]string `yaml:"query"`
	Header map[string]string `yaml:"header"`
	Basic  struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"basic"`
}

// ServiceRule is a per-vendor special case for service disambiguation. The
// expression runs against a RuleEnv; the first rule that matches wins.
type ServiceRule struct {
	If      string `yaml:"if"`
	Service string `yaml:"service"`

	program *vm.Program
}

// RuleEnv is the environment a ServiceRule expression is evaluated against
type RuleEnv struct {
	Line        string `expr:"line"`
	Operator    string `expr:"operator"`
	VehicleCode string `expr:"vehicle_code"`
	Destination string `expr:"destination"`
}

func (r *ServiceRule) Compile() error {
	program, err := expr.Compile(r.If, expr.Env(RuleEnv{}), expr.AsBool())
	if err != nil {
		return err
	}

	r.program = program
	return nil
}

func (r *ServiceRule) Matches(env RuleEnv) bool {
	if r.program == nil {
		return false
	}

	output, err := expr.Run(r.program, env)
	if err != nil {
		return false
	}

	matched, _ := output.(bool)
	return matched
}

type operatorMapRecord struct {
	VendorCode  string `csv:"vendor_code"`
	OperatorRef string `csv:"operator_ref"`
}

type registryFile struct {
	Sources []*Descriptor `yaml:"sources"`
}

// LoadRegistry reads the source registry YAML, applies defaults, compiles the
// per-vendor rules and merges any CSV operator mapping tables
func LoadRegistry(path string) ([]*Descriptor, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var registry registryFile
	if err := yaml.Unmarshal(file, &registry); err != nil {
		return nil, err
	}

	for _, descriptor := range registry.Sources {
		if err := descriptor.prepare(); err != nil {
			return nil, fmt.Errorf("source %s: %w", descriptor.Name, err)
		}
	}

	return registry.Sources, nil
}

func (d *Descriptor) prepare() error {
	if d.Name == "" {
		return errors.New("source requires a name")
	}
	if d.Transport == "" {
		return errors.New("source requires a transport")
	}
	if d.Endpoint == "" {
		return errors.New("source requires an endpoint")
	}

	if d.OperatorMap == nil {
		d.OperatorMap = map[string]string{}
	}

	if d.OperatorMapFile != "" {
		file, err := os.Open(d.OperatorMapFile)
		if err != nil {
			return err
		}
		defer file.Close()

		var records []operatorMapRecord
		if err := gocsv.UnmarshalFile(file, &records); err != nil {
			return err
		}

		for _, record := range records {
			d.OperatorMap[record.VendorCode] = record.OperatorRef
		}
	}

	for _, rule := range d.ServiceRules {
		if err := rule.Compile(); err != nil {
			return err
		}
	}

	return nil
}

// ResolveOperator maps a vendor operator hint onto one of the source's
// configured operators. Ambiguity is reported, never guessed.
func (d *Descriptor) ResolveOperator(hint string) (string, bool) {
	if mapped, ok := d.OperatorMap[hint]; ok {
		return mapped, true
	}

	if hint != "" {
		for _, operator := range d.Operators {
			if operator == hint {
				return operator, true
			}
		}
	}

	if len(d.Operators) == 1 {
		return d.Operators[0], true
	}

	return "", false
}

func (d *Descriptor) PollIntervalDuration() time.Duration {
	return parseISODuration(d.PollInterval, 30*time.Second)
}

func (d *Descriptor) BackoffIntervalDuration() time.Duration {
	return parseISODuration(d.BackoffInterval, 60*time.Second)
}

func (d *Descriptor) FetchTimeoutDuration() time.Duration {
	return parseISODuration(d.FetchTimeout, 30*time.Second)
}

func (d *Descriptor) CacheTTLDuration() time.Duration {
	return parseISODuration(d.CacheTTL, 15*time.Minute)
}

func (d *Descriptor) StaleAfterDuration() time.Duration {
	return parseISODuration(d.StaleAfter, 10*time.Minute)
}

func parseISODuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}

	parsed, err := iso8601.ParseISO8601(value)
	if err != nil {
		return fallback
	}

	reference := time.Now()
	return parsed.Shift(reference).Sub(reference)
}
