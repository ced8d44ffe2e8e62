package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/norasector/cyclone/pkg/lmr"
	yaml "gopkg.in/yaml.v2"
)

// Gain is either automatic gain control or a fixed value in dB. YAML
// accepts `gain: auto` or a number.
type Gain struct {
	Auto bool
	DB   float64
}

func (g *Gain) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		if s == "auto" || s == "" {
			g.Auto = true
			return nil
		}
		db, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid gain %q", s)
		}
		g.DB = db
		return nil
	}

	var db float64
	if err := unmarshal(&db); err != nil {
		return fmt.Errorf("gain must be \"auto\" or a number in dB")
	}
	g.DB = db
	return nil
}

type SDR struct {
	Device        string `yaml:"device"`
	DeviceIndex   int    `yaml:"device_index"`
	SampleRate    int    `yaml:"sample_rate"`
	PPMCorrection int    `yaml:"ppm_correction"`
	Gain          Gain   `yaml:"gain"`
}

type System struct {
	ID                 int            `yaml:"id"`
	Name               string         `yaml:"name"`
	Type               lmr.SystemType `yaml:"type"`
	SystemID           int            `yaml:"system_id"`
	NAC                int            `yaml:"nac"`
	WACN               int            `yaml:"wacn"`
	ColorCode          int            `yaml:"color_code"`
	BandBase           int            `yaml:"band_base"`
	BaseFrequency      int            `yaml:"base_frequency"`
	ChannelSpacing     int            `yaml:"channel_spacing"`
	RestChannel        int            `yaml:"rest_channel"`
	ControlFrequencies []int          `yaml:"control_channels,flow"`
	SymbolRate         int            `yaml:"symbol_rate"`
	VoiceBandwidth     int            `yaml:"voice_bandwidth"`
	SquelchLevel       int            `yaml:"squelch_level"`
}

type Audio struct {
	OutputDevice  string  `yaml:"output_device"`
	SampleRate    int     `yaml:"sample_rate"`
	Codec         string  `yaml:"codec"`
	Gain          float64 `yaml:"gain"`
	QueueDepth    int     `yaml:"queue_depth"`
	RecordCalls   bool    `yaml:"record_calls"`
	RecordingPath string  `yaml:"recording_path"`
}

type TalkGroups struct {
	Enabled  []int          `yaml:"enabled,flow"`
	Priority map[int]int    `yaml:"priority"`
	Labels   map[int]string `yaml:"labels"`
}

type OutputDestination struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type Config struct {
	SDR                SDR                 `yaml:"sdr"`
	CenterFreq         int                 `yaml:"center_freq"`
	PlaybackLocation   string              `yaml:"playback_location"`
	RecordLocation     string              `yaml:"record_location"`
	Systems            []System            `yaml:"systems"`
	Audio              Audio               `yaml:"audio"`
	TalkGroups         TalkGroups          `yaml:"talkgroups"`
	OutputDestinations []OutputDestination `yaml:"output_destinations"`
	SpectrumServer     struct {
		Port             int `yaml:"port"`
		UpdateIntervalMS int `yaml:"update_interval_ms"`
	} `yaml:"spectrum_server"`
	WebSocket struct {
		Port int `yaml:"port"`
	} `yaml:"websocket"`
	InfluxDB struct {
		Host         string `yaml:"host"`
		Organization string `yaml:"organization"`
		Bucket       string `yaml:"bucket"`
	} `yaml:"influxdb"`
}

// symbol rates by system family, applied when the config omits one.
var defaultSymbolRates = map[lmr.SystemType]int{
	lmr.SystemTypeP25:       4800,
	lmr.SystemTypeDMR:       4800,
	lmr.SystemTypeSmartnet:  3600,
	lmr.SystemTypeSmartZone: 3600,
	lmr.SystemTypeTETRA:     18000,
}

var knownTypes = map[lmr.SystemType]struct{}{
	lmr.SystemTypeP25: {}, lmr.SystemTypeP25Phase2: {},
	lmr.SystemTypeSmartnet: {}, lmr.SystemTypeSmartZone: {},
	lmr.SystemTypeDMR: {}, lmr.SystemTypeNXDN: {},
	lmr.SystemTypeTETRA: {}, lmr.SystemTypeEDACS: {}, lmr.SystemTypeLTR: {},
}

// Load reads and validates a configuration file. Validation failures
// here are fatal at startup by design.
func Load(path string) (*Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Systems) == 0 {
		return fmt.Errorf("config: at least one system is required")
	}
	if c.CenterFreq == 0 {
		return fmt.Errorf("config: center_freq is required")
	}

	for i, sys := range c.Systems {
		if _, ok := knownTypes[sys.Type]; !ok {
			return fmt.Errorf("config: system %d: unknown type %q", i, sys.Type)
		}
		if len(sys.ControlFrequencies) == 0 {
			return fmt.Errorf("config: system %d (%s): control_channels is required", i, sys.Name)
		}
		if sys.ID == 0 {
			return fmt.Errorf("config: system %d (%s): id is required", i, sys.Name)
		}
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.SDR.Device == "" {
		c.SDR.Device = "rtlsdr"
	}
	if c.SDR.SampleRate == 0 {
		c.SDR.SampleRate = 2048000
	}
	// An omitted gain means AGC.
	if !c.SDR.Gain.Auto && c.SDR.Gain.DB == 0 {
		c.SDR.Gain.Auto = true
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 8000
	}
	if c.Audio.Gain == 0 {
		c.Audio.Gain = 1.0
	}
	if c.Audio.QueueDepth == 0 {
		c.Audio.QueueDepth = 64
	}

	for i := range c.Systems {
		sys := &c.Systems[i]
		if sys.SymbolRate == 0 {
			sys.SymbolRate = defaultSymbolRates[sys.Type]
		}
		if sys.VoiceBandwidth == 0 {
			sys.VoiceBandwidth = 12500
		}
	}
}
