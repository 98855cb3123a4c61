// Package config provides the configuration schema, loader, and engine registry
// for the hintstream recognizer service.
package config

import "path/filepath"

// LogLevel controls log verbosity for the hintstream server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for hintstream.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Models    ModelsConfig    `yaml:"models"`
	Engine    ProviderEntry   `yaml:"engine"`
	Decoder   DecoderConfig   `yaml:"decoder"`
	Hints     HintsConfig     `yaml:"hints"`
	Lattice   LatticeConfig   `yaml:"lattice"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the health and metrics endpoints listen
	// on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It can be changed without a restart.
	LogLevel LogLevel `yaml:"log_level"`
}

// TelemetryConfig names the service in exported traces and metrics.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
}

// ModelsConfig locates the static model files. Relative file names are
// resolved against Dir.
type ModelsConfig struct {
	// Dir is the model directory.
	Dir string `yaml:"dir"`

	// Words is the word symbol table. Its next free id is where hint labels
	// start.
	Words string `yaml:"words"`

	// Lexicon holds one "word phone..." pronunciation per line.
	Lexicon string `yaml:"lexicon"`

	// Phones is the phone symbol table, including disambiguation and
	// nonterminal symbols.
	Phones string `yaml:"phones"`

	// LeftContextPhones lists the phone ids allowed left of a hint.
	LeftContextPhones string `yaml:"left_context_phones"`

	// Disambig lists the disambiguation phone ids.
	Disambig string `yaml:"disambig"`

	// NontermPhonesOffset holds the first nonterminal phone id.
	NontermPhonesOffset string `yaml:"nonterm_phones_offset"`

	// ChunkLM is the language model already embedded in the decoding graph.
	// Its costs are removed in the first rescoring pass.
	ChunkLM string `yaml:"chunk_lm"`

	// FinalLM is applied in the second rescoring pass.
	FinalLM string `yaml:"final_lm"`
}

// Path resolves name against Dir. Absolute names are returned unchanged.
func (m ModelsConfig) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(m.Dir, name)
}

// ProviderEntry is a named implementation plus free-form options. The Name
// field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "mock").
	Name string `yaml:"name"`

	// Options holds implementation-specific values. Values may be strings,
	// numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// DecoderConfig sets the audio framing.
type DecoderConfig struct {
	// SampleRate is the rate callers supply audio at, in Hz.
	SampleRate int `yaml:"sample_rate"`

	// ChunkSeconds is the commit window: audio is decoded and checkpointed
	// once this much has been buffered.
	ChunkSeconds float64 `yaml:"chunk_seconds"`
}

// ChunkSize returns the commit window in samples.
func (d DecoderConfig) ChunkSize() int {
	return int(d.ChunkSeconds * float64(d.SampleRate))
}

// HintsConfig tunes hint graph compilation and rescoring.
type HintsConfig struct {
	// CacheSize is the number of compiled hint graphs kept.
	CacheSize int `yaml:"cache_size"`

	// Weight is the grammar cost of entering the hint list.
	Weight float64 `yaml:"weight"`

	// Placeholder is the language model word hint words are scored as.
	Placeholder string `yaml:"placeholder"`

	// Bias is added to the placeholder cost of every hint word in the final
	// rescoring pass.
	Bias float64 `yaml:"bias"`

	// SoundAlikeThreshold is the minimum Jaro-Winkler similarity for
	// borrowing a lexicon pronunciation. 1 disables borrowing.
	SoundAlikeThreshold float64 `yaml:"sound_alike_threshold"`
}

// LatticeConfig bounds lattice determinization and N-best extraction.
type LatticeConfig struct {
	MaxMem  int     `yaml:"max_mem"`
	MaxLoop int     `yaml:"max_loop"`
	Nbest   int     `yaml:"nbest"`
	Delta   float64 `yaml:"delta"`
}
