package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Default values filled in by [ApplyDefaults].
const (
	DefaultListenAddr          = ":8080"
	DefaultServiceName         = "hintstream"
	DefaultEngine              = "mock"
	DefaultSampleRate          = 16000
	DefaultChunkSeconds        = 0.5
	DefaultCacheSize           = 20
	DefaultPlaceholder         = "<unk>"
	DefaultBias                = 2.0
	DefaultSoundAlikeThreshold = 0.9
	DefaultMaxMem              = 15_000_000
	DefaultMaxLoop             = 500_000
	DefaultNbest               = 32
	DefaultDelta               = 1.0 / 1024
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default. Zero is treated as
// unset except for hint weight and bias, where zero is meaningful; bias
// defaults only when the whole hints block is empty.
func ApplyDefaults(cfg *Config) {
	setString(&cfg.Server.ListenAddr, DefaultListenAddr)
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	setString(&cfg.Telemetry.ServiceName, DefaultServiceName)

	m := &cfg.Models
	setString(&m.Dir, ".")
	setString(&m.Words, "words.txt")
	setString(&m.Lexicon, "lexicon.txt")
	setString(&m.Phones, "phones.txt")
	setString(&m.LeftContextPhones, "left_context_phones.int")
	setString(&m.Disambig, "disambig.int")
	setString(&m.NontermPhonesOffset, "nonterm_phones_offset.int")
	setString(&m.ChunkLM, "chunk_lm.arpa")
	setString(&m.FinalLM, "final_lm.arpa")

	setString(&cfg.Engine.Name, DefaultEngine)

	setInt(&cfg.Decoder.SampleRate, DefaultSampleRate)
	setFloat(&cfg.Decoder.ChunkSeconds, DefaultChunkSeconds)

	if cfg.Hints == (HintsConfig{}) {
		cfg.Hints.Bias = DefaultBias
	}
	setInt(&cfg.Hints.CacheSize, DefaultCacheSize)
	setString(&cfg.Hints.Placeholder, DefaultPlaceholder)
	setFloat(&cfg.Hints.SoundAlikeThreshold, DefaultSoundAlikeThreshold)

	setInt(&cfg.Lattice.MaxMem, DefaultMaxMem)
	setInt(&cfg.Lattice.MaxLoop, DefaultMaxLoop)
	setInt(&cfg.Lattice.Nbest, DefaultNbest)
	setFloat(&cfg.Lattice.Delta, DefaultDelta)
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func setFloat(dst *float64, def float64) {
	if *dst == 0 {
		*dst = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Engine
	if cfg.Engine.Name == "" {
		errs = append(errs, errors.New("engine.name is required"))
	}

	// Decoder
	if cfg.Decoder.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("decoder.sample_rate %d must be positive", cfg.Decoder.SampleRate))
	}
	if cfg.Decoder.ChunkSeconds <= 0 {
		errs = append(errs, fmt.Errorf("decoder.chunk_seconds %.3f must be positive", cfg.Decoder.ChunkSeconds))
	} else if cfg.Decoder.SampleRate > 0 && cfg.Decoder.ChunkSize() < 1 {
		errs = append(errs, fmt.Errorf("decoder.chunk_seconds %.6f is shorter than one sample", cfg.Decoder.ChunkSeconds))
	}

	// Hints
	if cfg.Hints.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("hints.cache_size %d must be positive", cfg.Hints.CacheSize))
	}
	if cfg.Hints.Placeholder == "" {
		errs = append(errs, errors.New("hints.placeholder is required"))
	}
	if t := cfg.Hints.SoundAlikeThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("hints.sound_alike_threshold %.2f is out of range [0, 1]", t))
	}

	// Lattice
	if cfg.Lattice.MaxMem <= 0 {
		errs = append(errs, fmt.Errorf("lattice.max_mem %d must be positive", cfg.Lattice.MaxMem))
	}
	if cfg.Lattice.MaxLoop <= 0 {
		errs = append(errs, fmt.Errorf("lattice.max_loop %d must be positive", cfg.Lattice.MaxLoop))
	}
	if cfg.Lattice.Nbest <= 0 {
		errs = append(errs, fmt.Errorf("lattice.nbest %d must be positive", cfg.Lattice.Nbest))
	}
	if cfg.Lattice.Delta <= 0 {
		errs = append(errs, fmt.Errorf("lattice.delta %g must be positive", cfg.Lattice.Delta))
	}

	// Models
	m := cfg.Models
	for _, f := range []struct{ key, value string }{
		{"models.words", m.Words},
		{"models.lexicon", m.Lexicon},
		{"models.phones", m.Phones},
		{"models.left_context_phones", m.LeftContextPhones},
		{"models.disambig", m.Disambig},
		{"models.nonterm_phones_offset", m.NontermPhonesOffset},
		{"models.chunk_lm", m.ChunkLM},
		{"models.final_lm", m.FinalLM},
	} {
		if f.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", f.key))
		}
	}

	return errors.Join(errs...)
}
