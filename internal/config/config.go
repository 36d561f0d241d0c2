// Package config loads the output pin map, named states and named
// sequences from a YAML or TOML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/gpio-sequencer/internal/logging"
	"github.com/sweeney/gpio-sequencer/internal/output"
	"github.com/sweeney/gpio-sequencer/internal/sequence"
)

// Config is the contents of a config file.
type Config struct {
	Chip       string                    `yaml:"chip" toml:"chip"`
	Consumer   string                    `yaml:"consumer" toml:"consumer"`
	CooldownMs int                       `yaml:"cooldown_ms" toml:"cooldown_ms"`
	Outputs    []OutputConfig            `yaml:"outputs" toml:"outputs"`
	States     map[string]map[string]int `yaml:"states" toml:"states"`
	Sequences  map[string]SequenceConfig `yaml:"sequences" toml:"sequences"`
	HTTP       string                    `yaml:"http" toml:"http"`
	MQTT       MQTTConfig                `yaml:"mqtt" toml:"mqtt"`
	Logging    logging.Config            `yaml:"logging" toml:"logging"`
}

// OutputConfig maps an output name to a GPIO line.
type OutputConfig struct {
	Name      string `yaml:"name" toml:"name"`
	Line      int    `yaml:"line" toml:"line"`
	Label     string `yaml:"label" toml:"label"`
	ActiveLow bool   `yaml:"active_low" toml:"active_low"`
}

// SequenceConfig is a named sequence of state names.
type SequenceConfig struct {
	Steps    []string `yaml:"steps" toml:"steps"`
	PeriodMs int      `yaml:"period_ms" toml:"period_ms"`
	Repeat   int      `yaml:"repeat" toml:"repeat"`
	Terminal string   `yaml:"terminal" toml:"terminal"`
}

// MQTTConfig configures the broker connection. An empty Broker disables MQTT.
type MQTTConfig struct {
	Broker      string `yaml:"broker" toml:"broker"`
	ClientID    string `yaml:"client_id" toml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix"`
}

// Off disables the HTTP server or the MQTT broker connection when given as
// their address.
const Off = "off"

// EnvPath names the environment variable holding the config file path.
const EnvPath = "GPIOSEQ_CONFIG"

// ErrUnknownState is returned when a sequence references an undefined state.
var ErrUnknownState = errors.New("unknown state")

// Load reads path, decoding TOML for .toml files and YAML otherwise.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}
	cfg, err := Parse(b, format)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in the given format ("yaml" or "toml"), fills in
// defaults and validates the result.
func Parse(data []byte, format string) (Config, error) {
	var cfg Config
	switch format {
	case "toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, err
		}
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, err
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", format)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Chip == "" {
		c.Chip = "gpiochip0"
	}
	if c.Consumer == "" {
		c.Consumer = "gpio-sequencer"
	}
	switch c.HTTP {
	case "":
		c.HTTP = ":8080"
	case Off:
		c.HTTP = ""
	}
	if c.MQTT.Broker == Off {
		c.MQTT.Broker = ""
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "gpio-sequencer"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "gpio/sequencer"
	}
	c.MQTT.TopicPrefix = strings.TrimSuffix(c.MQTT.TopicPrefix, "/")
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the pin map and that every state and sequence only
// references things that exist.
func (c Config) Validate() error {
	if len(c.Outputs) == 0 {
		return fmt.Errorf("outputs: at least one output is required")
	}
	if c.CooldownMs < 0 {
		return fmt.Errorf("cooldown_ms must be >= 0")
	}

	names := make(map[string]bool, len(c.Outputs))
	lines := make(map[int]string, len(c.Outputs))
	for i, o := range c.Outputs {
		if o.Name == "" {
			return fmt.Errorf("outputs[%d]: name is required", i)
		}
		if o.Line < 0 {
			return fmt.Errorf("output %s: line must be >= 0", o.Name)
		}
		if names[o.Name] {
			return fmt.Errorf("output %s: duplicate name", o.Name)
		}
		if other, ok := lines[o.Line]; ok {
			return fmt.Errorf("output %s: line %d already used by %s", o.Name, o.Line, other)
		}
		names[o.Name] = true
		lines[o.Line] = o.Name
	}

	for _, stateName := range sortedKeys(c.States) {
		for name, v := range c.States[stateName] {
			if !names[name] {
				return fmt.Errorf("state %s: %w %q", stateName, output.ErrUnknownOutput, name)
			}
			if _, err := output.ParseLevel(v); err != nil {
				return fmt.Errorf("state %s: output %s: %w", stateName, name, err)
			}
		}
	}

	for _, seqName := range sortedKeys(c.Sequences) {
		sc := c.Sequences[seqName]
		if sc.PeriodMs < 0 {
			return fmt.Errorf("sequence %s: period_ms must be >= 0", seqName)
		}
		if sc.Repeat < sequence.Forever {
			return fmt.Errorf("sequence %s: repeat must be >= -1", seqName)
		}
		for i, step := range sc.Steps {
			if _, ok := c.States[step]; !ok {
				return fmt.Errorf("sequence %s step %d: %w %q", seqName, i, ErrUnknownState, step)
			}
		}
		if sc.Terminal != "" {
			if _, ok := c.States[sc.Terminal]; !ok {
				return fmt.Errorf("sequence %s terminal: %w %q", seqName, ErrUnknownState, sc.Terminal)
			}
		}
	}
	return nil
}

// Pins returns the output pin map in configuration order.
func (c Config) Pins() []output.Pin {
	pins := make([]output.Pin, len(c.Outputs))
	for i, o := range c.Outputs {
		pins[i] = output.Pin{Name: o.Name, Line: o.Line, ActiveLow: o.ActiveLow}
	}
	return pins
}

// Labels maps output names to their display labels, falling back to the name.
func (c Config) Labels() map[string]string {
	labels := make(map[string]string, len(c.Outputs))
	for _, o := range c.Outputs {
		label := o.Label
		if label == "" {
			label = o.Name
		}
		labels[o.Name] = label
	}
	return labels
}

// Cooldown returns the minimum hold time of every output.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownMs) * time.Millisecond
}

// Catalog holds runnable requests by sequence name.
type Catalog map[string]sequence.Request

// Names returns the sequence names, sorted.
func (c Catalog) Names() []string {
	return sortedKeys(map[string]sequence.Request(c))
}

// Catalog resolves every named sequence into a run request. The config
// must have passed Validate.
func (c Config) Catalog() Catalog {
	states := make(map[string]sequence.State, len(c.States))
	for name, levels := range c.States {
		s := make(sequence.State, len(levels))
		for out, v := range levels {
			s[out], _ = output.ParseLevel(v)
		}
		states[name] = s
	}

	cat := make(Catalog, len(c.Sequences))
	for name, sc := range c.Sequences {
		req := sequence.Request{
			Name:     name,
			Sequence: make(sequence.Sequence, len(sc.Steps)),
			Period:   time.Duration(sc.PeriodMs) * time.Millisecond,
			Repeat:   sc.Repeat,
		}
		for i, step := range sc.Steps {
			req.Sequence[i] = states[step]
		}
		if sc.Terminal != "" {
			req.Terminal = states[sc.Terminal]
		}
		cat[name] = req
	}
	return cat
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
