package av1enc

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete encoder bridge configuration.
type Config struct {
	CID     uint16 `yaml:"cid"`     // OD4 conference id
	Name    string `yaml:"name"`    // Shared memory name
	ShmDir  string `yaml:"shm_dir"` // Shared memory directory (default /dev/shm)
	Source  string `yaml:"source"`  // shm, memory
	Pattern string `yaml:"pattern"` // Generator pattern for the memory source
	FPS     int    `yaml:"fps"`     // Pacing for the memory source

	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	GOP     int    `yaml:"gop"`
	Bitrate int    `yaml:"bitrate"` // Bits per second, clamped
	ID      uint32 `yaml:"id"`      // Sender stamp
	Cadence string `yaml:"cadence"` // submitted, published
	Verbose bool   `yaml:"verbose"`

	Relay RelayConfig `yaml:"relay"`
}

// RelayConfig enables optional secondary outputs.
type RelayConfig struct {
	RTP         string `yaml:"rtp"`          // host:port for RTP/AV1
	PayloadType uint8  `yaml:"payload_type"` // RTP payload type
	MTU         int    `yaml:"mtu"`          // RTP packet size limit
	WebRTC      string `yaml:"webrtc"`       // Listen address for the viewer endpoint
}

// DefaultConfig returns the configuration used when neither a file nor a
// flag sets a value.
func DefaultConfig() Config {
	return Config{
		Source:  SourceSharedMemory.String(),
		Pattern: PatternColorBars.String(),
		FPS:     30,
		GOP:     DefaultGOP,
		Bitrate: BitrateDefault,
		Cadence: CadenceSubmitted.String(),
		Relay: RelayConfig{
			PayloadType: 96,
			MTU:         1200,
		},
	}
}

// LoadConfig reads a YAML file over cfg. Keys missing from the file keep
// their current value.
func LoadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Validate checks required fields and normalizes the rest. The bitrate is
// clamped to [BitrateMin, BitrateMax] rather than rejected.
func (c *Config) Validate() error {
	if c.CID < 1 || c.CID > 254 {
		return fmt.Errorf("%w: cid %d out of range [1, 254]", ErrInvalidConfig, c.CID)
	}

	kind, ok := ParseSourceKind(c.Source)
	if !ok {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidConfig, c.Source)
	}
	if kind == SourceSharedMemory && c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if _, ok := ParsePattern(c.Pattern); !ok {
		return fmt.Errorf("%w: unknown pattern %q", ErrInvalidConfig, c.Pattern)
	}

	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("%w: width and height are required", ErrInvalidConfig)
	}
	if err := ValidateDimensions(c.Width, c.Height); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.GOP <= 0 {
		return fmt.Errorf("%w: gop must be positive, got %d", ErrInvalidConfig, c.GOP)
	}
	if _, ok := ParseCadencePolicy(c.Cadence); !ok {
		return fmt.Errorf("%w: unknown cadence %q", ErrInvalidConfig, c.Cadence)
	}
	if c.FPS < 0 {
		return fmt.Errorf("%w: fps must not be negative", ErrInvalidConfig)
	}

	c.Bitrate = ClampBitrate(c.Bitrate)
	return nil
}

// Params returns the encoder parameters.
func (c *Config) Params() Params {
	return Params{Width: c.Width, Height: c.Height, BitrateBps: c.Bitrate}
}

// CadencePolicy returns the parsed cadence; call after Validate.
func (c *Config) CadencePolicy() CadencePolicy {
	policy, _ := ParseCadencePolicy(c.Cadence)
	return policy
}

// SourceKind returns the parsed source kind; call after Validate.
func (c *Config) SourceKind() SourceKind {
	kind, _ := ParseSourceKind(c.Source)
	return kind
}

// SourceConfig returns the frame source configuration.
func (c *Config) SourceConfig() SourceConfig {
	pattern, _ := ParsePattern(c.Pattern)
	sc := SourceConfig{
		Name:    c.Name,
		Dir:     c.ShmDir,
		Width:   c.Width,
		Height:  c.Height,
		Pattern: pattern,
	}
	if c.FPS > 0 {
		sc.Interval = time.Second / time.Duration(c.FPS)
	}
	return sc
}
