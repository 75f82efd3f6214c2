// Package conf holds the server configuration: bind points for the six
// conference endpoints, capacity limits, and the timing knobs used by the
// media planes. Values come from built-in defaults, then an optional YAML
// file, then command-line flags, in that order.
package conf

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration.
type Config struct {
	// BindAddr is the host interface all endpoints bind to.
	BindAddr string

	// Six conference endpoints. Control, screen-control and file are TCP;
	// video, audio and screen-data are UDP.
	ControlPort    int
	VideoPort      int
	AudioPort      int
	ScreenCtrlPort int
	ScreenDataPort int
	FilePort       int

	// APIAddr is the listen address for the read-only HTTP status API.
	// Empty disables it.
	APIAddr string

	// Capacity limits.
	MaxUsers    int
	MaxFileSize int64

	// Audio format the mixer assumes: mono 16-bit signed little-endian PCM.
	SampleRate   int
	ChunkSamples int

	// Timing knobs.
	RegisterTimeout      time.Duration // registration handshake read window
	ControlWriteTimeout  time.Duration // per-recipient control write bound
	UploadIdleTimeout    time.Duration // upload body read idle window
	DownloadWriteTimeout time.Duration // per-write bound while streaming a download
	DownloadReadyTimeout time.Duration // wait for the client READY line on download
	RebindGrace          time.Duration // idle time before a datagram endpoint may rebind
	AudioStaleAfter      time.Duration // bucket eviction horizon
	StatsInterval        time.Duration // periodic stats log cadence

	// ScreenMaxDatagram is the ceiling for screen-data datagrams; larger
	// frames are dropped and counted.
	ScreenMaxDatagram int
}

// Default returns the configuration with every documented default applied.
func Default() Config {
	return Config{
		BindAddr:       "0.0.0.0",
		ControlPort:    5000,
		VideoPort:      5001,
		AudioPort:      5002,
		ScreenCtrlPort: 5003,
		ScreenDataPort: 5004,
		FilePort:       5005,
		APIAddr:        ":5006",

		MaxUsers:    10,
		MaxFileSize: 100 << 20, // 100 MiB

		SampleRate:   44100,
		ChunkSamples: 1024,

		RegisterTimeout:      5 * time.Second,
		ControlWriteTimeout:  2 * time.Second,
		UploadIdleTimeout:    30 * time.Second,
		DownloadWriteTimeout: 30 * time.Second,
		DownloadReadyTimeout: 3 * time.Second,
		RebindGrace:          5 * time.Second,
		AudioStaleAfter:      time.Second,
		StatsInterval:        30 * time.Second,

		ScreenMaxDatagram: 65000,
	}
}

// fileConfig is the YAML schema. Durations are strings ("5s", "250ms") so
// config files stay readable; absent fields keep their current value.
type fileConfig struct {
	BindAddr       *string `yaml:"bind_addr"`
	ControlPort    *int    `yaml:"control_port"`
	VideoPort      *int    `yaml:"video_port"`
	AudioPort      *int    `yaml:"audio_port"`
	ScreenCtrlPort *int    `yaml:"screen_control_port"`
	ScreenDataPort *int    `yaml:"screen_data_port"`
	FilePort       *int    `yaml:"file_port"`
	APIAddr        *string `yaml:"api_addr"`

	MaxUsers    *int   `yaml:"max_users"`
	MaxFileSize *int64 `yaml:"max_file_size"`

	SampleRate   *int `yaml:"sample_rate"`
	ChunkSamples *int `yaml:"chunk_samples"`

	RegisterTimeout      *string `yaml:"register_timeout"`
	ControlWriteTimeout  *string `yaml:"control_write_timeout"`
	UploadIdleTimeout    *string `yaml:"upload_idle_timeout"`
	DownloadWriteTimeout *string `yaml:"download_write_timeout"`
	DownloadReadyTimeout *string `yaml:"download_ready_timeout"`
	RebindGrace          *string `yaml:"rebind_grace"`
	AudioStaleAfter      *string `yaml:"audio_stale_after"`
	StatsInterval        *string `yaml:"stats_interval"`

	ScreenMaxDatagram *int `yaml:"screen_max_datagram"`
}

// LoadFile overlays the YAML file at path onto c.
func (c *Config) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setStr := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setDur := func(dst *time.Duration, src *string, field string) error {
		if src == nil {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return fmt.Errorf("config field %s: %w", field, err)
		}
		*dst = d
		return nil
	}

	setStr(&c.BindAddr, f.BindAddr)
	setInt(&c.ControlPort, f.ControlPort)
	setInt(&c.VideoPort, f.VideoPort)
	setInt(&c.AudioPort, f.AudioPort)
	setInt(&c.ScreenCtrlPort, f.ScreenCtrlPort)
	setInt(&c.ScreenDataPort, f.ScreenDataPort)
	setInt(&c.FilePort, f.FilePort)
	setStr(&c.APIAddr, f.APIAddr)
	setInt(&c.MaxUsers, f.MaxUsers)
	if f.MaxFileSize != nil {
		c.MaxFileSize = *f.MaxFileSize
	}
	setInt(&c.SampleRate, f.SampleRate)
	setInt(&c.ChunkSamples, f.ChunkSamples)
	setInt(&c.ScreenMaxDatagram, f.ScreenMaxDatagram)

	for _, d := range []struct {
		dst   *time.Duration
		src   *string
		field string
	}{
		{&c.RegisterTimeout, f.RegisterTimeout, "register_timeout"},
		{&c.ControlWriteTimeout, f.ControlWriteTimeout, "control_write_timeout"},
		{&c.UploadIdleTimeout, f.UploadIdleTimeout, "upload_idle_timeout"},
		{&c.DownloadWriteTimeout, f.DownloadWriteTimeout, "download_write_timeout"},
		{&c.DownloadReadyTimeout, f.DownloadReadyTimeout, "download_ready_timeout"},
		{&c.RebindGrace, f.RebindGrace, "rebind_grace"},
		{&c.AudioStaleAfter, f.AudioStaleAfter, "audio_stale_after"},
		{&c.StatsInterval, f.StatsInterval, "stats_interval"},
	} {
		if err := setDur(d.dst, d.src, d.field); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.MaxUsers <= 0 {
		return fmt.Errorf("max_users must be positive, got %d", c.MaxUsers)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive, got %d", c.MaxFileSize)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.ChunkSamples <= 0 {
		return fmt.Errorf("chunk_samples must be positive, got %d", c.ChunkSamples)
	}
	// A full audio datagram (4-byte id prefix + samples) must fit in UDP.
	if 4+2*c.ChunkSamples > 65507 {
		return fmt.Errorf("chunk_samples %d exceeds the datagram limit", c.ChunkSamples)
	}
	if c.ScreenMaxDatagram <= 4 {
		return fmt.Errorf("screen_max_datagram must exceed the 4-byte header, got %d", c.ScreenMaxDatagram)
	}

	seen := make(map[int]string, 6)
	for _, p := range []struct {
		name string
		port int
	}{
		{"control_port", c.ControlPort},
		{"video_port", c.VideoPort},
		{"audio_port", c.AudioPort},
		{"screen_control_port", c.ScreenCtrlPort},
		{"screen_data_port", c.ScreenDataPort},
		{"file_port", c.FilePort},
	} {
		if p.port < 0 || p.port > 65535 {
			return fmt.Errorf("%s out of range: %d", p.name, p.port)
		}
		// Port 0 asks the kernel for an ephemeral port (used by tests);
		// several zeros never collide with each other.
		if p.port != 0 {
			if other, dup := seen[p.port]; dup {
				return fmt.Errorf("%s and %s share port %d", other, p.name, p.port)
			}
			seen[p.port] = p.name
		}
	}
	return nil
}

// TickInterval is the audio mixer cadence: one chunk's duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.ChunkSamples) * time.Second / time.Duration(c.SampleRate)
}

// ChunkBytes is the byte length of one PCM chunk (without the id prefix).
func (c *Config) ChunkBytes() int { return 2 * c.ChunkSamples }

func (c *Config) addr(port int) string {
	return net.JoinHostPort(c.BindAddr, strconv.Itoa(port))
}

// ControlAddr returns the control-plane TCP listen address.
func (c *Config) ControlAddr() string { return c.addr(c.ControlPort) }

// VideoAddr returns the video-plane UDP listen address.
func (c *Config) VideoAddr() string { return c.addr(c.VideoPort) }

// AudioAddr returns the audio-plane UDP listen address.
func (c *Config) AudioAddr() string { return c.addr(c.AudioPort) }

// ScreenCtrlAddr returns the screen-control TCP listen address.
func (c *Config) ScreenCtrlAddr() string { return c.addr(c.ScreenCtrlPort) }

// ScreenDataAddr returns the screen-data UDP listen address.
func (c *Config) ScreenDataAddr() string { return c.addr(c.ScreenDataPort) }

// FileAddr returns the file-transfer TCP listen address.
func (c *Config) FileAddr() string { return c.addr(c.FilePort) }
