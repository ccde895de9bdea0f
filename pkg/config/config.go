package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"cobsdaq/pkg/protocol"
	"cobsdaq/pkg/sink"
	"cobsdaq/pkg/transport"
)

const DefaultConfigPath = "cobsdaq.toml"

type Config struct {
	Protocol   ProtocolConfig `toml:"protocol"`
	Timebase   TimebaseConfig `toml:"timebase"`
	Source     SourceConfig   `toml:"source"`
	Output     OutputConfig   `toml:"output"`
	Live       LiveConfig     `toml:"live"`
	Metrics    MetricsConfig  `toml:"metrics"`
	MQTT       MQTTConfig     `toml:"mqtt"`
	Log        LogConfig      `toml:"log"`
	configPath string         `toml:"-"`
}

type ProtocolConfig struct {
	Delimiter             uint16    `toml:"delimiter"`
	EncodedFrameLength    int       `toml:"encoded_frame_length"`
	ExpectedPayloadLength int       `toml:"expected_payload_length"`
	SampleWidth           int       `toml:"sample_width"`
	ChannelCount          int       `toml:"channel_count"`
	CalibrationScale      float64   `toml:"calibration_scale,omitempty"`
	ChannelScales         []float64 `toml:"channel_scales,omitempty"`
	// SelectedChannel is 1-based in the file; 0 disables the live channel.
	SelectedChannel int `toml:"selected_channel,omitempty"`
	BufferCapacity  int `toml:"buffer_capacity"`
}

type TimebaseConfig struct {
	Mode             string  `toml:"mode"`
	StepSeconds      float64 `toml:"step_seconds"`
	AdvanceOnDiscard bool    `toml:"advance_on_discard"`
}

type SourceConfig struct {
	URI         string `toml:"uri"`
	BaudRate    int    `toml:"baud_rate"`
	DataBits    int    `toml:"data_bits"`
	Parity      string `toml:"parity"`
	StopBits    int    `toml:"stop_bits"`
	DialTimeout string `toml:"dial_timeout"`
	ReadTimeout string `toml:"read_timeout"`
	ReaderBuf   int    `toml:"reader_buf"`
	// ShutdownGrace bounds how long a blocked read may delay shutdown.
	ShutdownGrace string `toml:"shutdown_grace"`
}

type OutputConfig struct {
	Dir         string `toml:"dir"`
	Format      string `toml:"format"`
	Compression string `toml:"compression"`
	Header      bool   `toml:"header"`
	Fsync       bool   `toml:"fsync"`
}

type LiveConfig struct {
	Enabled bool   `toml:"enabled"`
	WSAddr  string `toml:"ws_addr"`
	SendBuf int    `toml:"send_buf"`
}

type MetricsConfig struct {
	Addr string `toml:"addr,omitempty"`
}

type MQTTConfig struct {
	Broker   string `toml:"broker,omitempty"`
	Topic    string `toml:"topic"`
	ClientID string `toml:"client_id,omitempty"`
	QoS      int    `toml:"qos"`
	Timeout  string `toml:"timeout"`
}

type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// Default mirrors the reference board: one 32-bit channel, 115200 8N1, 0.1 s step.
func Default() Config {
	cfg := Config{
		Protocol: ProtocolConfig{
			Delimiter:          0x00,
			EncodedFrameLength: 6,
			SampleWidth:        4,
			ChannelCount:       1,
			BufferCapacity:     protocol.DefaultBufferCapacity,
		},
		Timebase: TimebaseConfig{
			Mode:        "elapsed",
			StepSeconds: 0.1,
		},
		Source: SourceConfig{
			URI:           "/dev/ttyUSB0",
			BaudRate:      115200,
			DataBits:      8,
			Parity:        "none",
			StopBits:      1,
			DialTimeout:   "5s",
			ReadTimeout:   "500ms",
			ReaderBuf:     4096,
			ShutdownGrace: "2s",
		},
		Output: OutputConfig{
			Dir:         ".",
			Format:      "csv",
			Compression: "none",
		},
		Live: LiveConfig{
			WSAddr:  "127.0.0.1:8765",
			SendBuf: 256,
		},
		MQTT: MQTTConfig{
			Topic:   "cobsdaq/records",
			QoS:     1,
			Timeout: "5s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
	cfg.Protocol.ExpectedPayloadLength = cfg.Protocol.ChannelCount * cfg.Protocol.SampleWidth
	return cfg
}

func Load(path string) (Config, error) {
	cfg, exists, err := LoadOrDefault(path)
	if err != nil {
		return Config{}, err
	}
	if !exists {
		return Config{}, os.ErrNotExist
	}
	return cfg, nil
}

func LoadOrDefault(path string) (Config, bool, error) {
	cfg := Default()
	cfg.configPath = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.normalize()
			return cfg, false, nil
		}
		return Config{}, false, fmt.Errorf("read config: %w", err)
	}

	// derived from the file's layout unless the file sets it
	cfg.Protocol.ExpectedPayloadLength = 0
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, true, fmt.Errorf("parse config: %w", err)
	}
	cfg.configPath = path
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, true, err
	}
	return cfg, true, nil
}

func (cfg *Config) Save(path string) error {
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	cfg.configPath = path
	return nil
}

func (cfg *Config) ConfigPath() string {
	return cfg.configPath
}

func (cfg *Config) Validate() error {
	if cfg.Protocol.Delimiter > 0xFF {
		return fmt.Errorf("protocol.delimiter out of range: 0x%x", cfg.Protocol.Delimiter)
	}
	if cfg.Protocol.SelectedChannel < 0 {
		return fmt.Errorf("protocol.selected_channel must be >= 0, got %d", cfg.Protocol.SelectedChannel)
	}
	if _, err := protocol.ParseTimebaseMode(cfg.Timebase.Mode); err != nil {
		return fmt.Errorf("timebase.mode: %w", err)
	}
	if _, err := transport.ParseParity(cfg.Source.Parity); err != nil {
		return fmt.Errorf("source.parity: %w", err)
	}
	if _, err := sink.ParseFormat(cfg.Output.Format); err != nil {
		return fmt.Errorf("output.format: %w", err)
	}
	if _, err := sink.ParseCompression(cfg.Output.Compression); err != nil {
		return fmt.Errorf("output.compression: %w", err)
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}
	for name, value := range map[string]string{
		"source.dial_timeout":   cfg.Source.DialTimeout,
		"source.read_timeout":   cfg.Source.ReadTimeout,
		"source.shutdown_grace": cfg.Source.ShutdownGrace,
		"mqtt.timeout":          cfg.MQTT.Timeout,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	pc, err := cfg.ToProtocol()
	if err != nil {
		return err
	}
	if err := pc.Validate(); err != nil {
		return fmt.Errorf("protocol: %w", err)
	}
	return nil
}

// ToProtocol builds the immutable session protocol description.
func (cfg *Config) ToProtocol() (protocol.Config, error) {
	mode, err := protocol.ParseTimebaseMode(cfg.Timebase.Mode)
	if err != nil {
		return protocol.Config{}, err
	}
	p := cfg.Protocol
	return protocol.Config{
		Delimiter:             byte(p.Delimiter),
		EncodedFrameLength:    p.EncodedFrameLength,
		ExpectedPayloadLength: p.ExpectedPayloadLength,
		SampleWidth:           p.SampleWidth,
		ChannelCount:          p.ChannelCount,
		Scale:                 p.CalibrationScale,
		ChannelScales:         append([]float64(nil), p.ChannelScales...),
		SelectedChannel:       p.SelectedChannel - 1,
		Timebase:              mode,
		Step:                  cfg.Timebase.StepSeconds,
		AdvanceOnDiscard:      cfg.Timebase.AdvanceOnDiscard,
		BufferCapacity:        p.BufferCapacity,
	}, nil
}

// ToSource builds the byte source settings.
func (cfg *Config) ToSource() transport.SourceConfig {
	parity, _ := transport.ParseParity(cfg.Source.Parity)
	return transport.SourceConfig{
		URI: cfg.Source.URI,
		Serial: transport.SerialConfig{
			BaudRate: cfg.Source.BaudRate,
			DataBits: cfg.Source.DataBits,
			Parity:   parity,
			StopBits: cfg.Source.StopBits,
		},
		DialTimeout: mustDuration(cfg.Source.DialTimeout),
		ReadTimeout: mustDuration(cfg.Source.ReadTimeout),
		ReaderBuf:   cfg.Source.ReaderBuf,
	}
}

// ToFileOptions builds the session output file settings.
func (cfg *Config) ToFileOptions() sink.FileOptions {
	format, _ := sink.ParseFormat(cfg.Output.Format)
	comp, _ := sink.ParseCompression(cfg.Output.Compression)
	return sink.FileOptions{
		Dir:         cfg.Output.Dir,
		Format:      format,
		Compression: comp,
		CSVHeader:   cfg.Output.Header,
		Fsync:       cfg.Output.Fsync,
	}
}

// ToMQTT returns the publisher settings, or false when no broker is configured.
func (cfg *Config) ToMQTT() (sink.MQTTConfig, bool) {
	if cfg.MQTT.Broker == "" {
		return sink.MQTTConfig{}, false
	}
	return sink.MQTTConfig{
		Broker:   cfg.MQTT.Broker,
		Topic:    cfg.MQTT.Topic,
		ClientID: cfg.MQTT.ClientID,
		QoS:      byte(cfg.MQTT.QoS),
		Timeout:  mustDuration(cfg.MQTT.Timeout),
	}, true
}

func (cfg *Config) ShutdownGrace() time.Duration {
	return mustDuration(cfg.Source.ShutdownGrace)
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func (cfg *Config) normalize() {
	def := Default()

	if cfg.Protocol.BufferCapacity <= 0 {
		cfg.Protocol.BufferCapacity = def.Protocol.BufferCapacity
	}
	if cfg.Protocol.SampleWidth == 0 {
		cfg.Protocol.SampleWidth = def.Protocol.SampleWidth
	}
	if cfg.Protocol.ExpectedPayloadLength == 0 && cfg.Protocol.ChannelCount > 0 {
		cfg.Protocol.ExpectedPayloadLength = cfg.Protocol.ChannelCount * cfg.Protocol.SampleWidth
	}

	cfg.Timebase.Mode = strings.ToLower(strings.TrimSpace(cfg.Timebase.Mode))
	if cfg.Timebase.Mode == "" {
		cfg.Timebase.Mode = def.Timebase.Mode
	}
	if cfg.Timebase.StepSeconds <= 0 {
		cfg.Timebase.StepSeconds = def.Timebase.StepSeconds
	}

	if cfg.Source.BaudRate <= 0 {
		cfg.Source.BaudRate = def.Source.BaudRate
	}
	if cfg.Source.DataBits <= 0 {
		cfg.Source.DataBits = def.Source.DataBits
	}
	if cfg.Source.Parity == "" {
		cfg.Source.Parity = def.Source.Parity
	}
	if cfg.Source.StopBits <= 0 {
		cfg.Source.StopBits = def.Source.StopBits
	}
	if cfg.Source.DialTimeout == "" {
		cfg.Source.DialTimeout = def.Source.DialTimeout
	}
	if cfg.Source.ReadTimeout == "" {
		cfg.Source.ReadTimeout = def.Source.ReadTimeout
	}
	if cfg.Source.ReaderBuf <= 0 {
		cfg.Source.ReaderBuf = def.Source.ReaderBuf
	}
	if cfg.Source.ShutdownGrace == "" {
		cfg.Source.ShutdownGrace = def.Source.ShutdownGrace
	}

	if cfg.Output.Dir == "" {
		cfg.Output.Dir = def.Output.Dir
	}
	if cfg.Output.Format == "" {
		cfg.Output.Format = def.Output.Format
	}
	if cfg.Output.Compression == "" {
		cfg.Output.Compression = def.Output.Compression
	}

	if cfg.Live.WSAddr == "" {
		cfg.Live.WSAddr = def.Live.WSAddr
	}
	if cfg.Live.SendBuf <= 0 {
		cfg.Live.SendBuf = def.Live.SendBuf
	}

	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = def.MQTT.Topic
	}
	if cfg.MQTT.Timeout == "" {
		cfg.MQTT.Timeout = def.MQTT.Timeout
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}

	// relative output directories follow the config file, not the working directory
	if cfg.configPath != "" && !filepath.IsAbs(cfg.Output.Dir) {
		base := filepath.Dir(cfg.configPath)
		if base != "" && base != "." {
			cfg.Output.Dir = filepath.Join(base, cfg.Output.Dir)
		}
	}
	cfg.Output.Dir = filepath.Clean(cfg.Output.Dir)
}
