package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/norasector/cyclone/pkg/lmr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
sdr:
  device: rtlsdr
  device_index: 1
  sample_rate: 2048000
  ppm_correction: -2
  gain: auto
center_freq: 852000000
systems:
  - id: 1
    name: "City P25"
    type: p25
    system_id: 0x1A2
    nac: 0x293
    wacn: 0xBEE00
    control_channels: [851012500, 851037500]
  - id: 2
    name: "Euro TETRA"
    type: tetra
    color_code: 1
    band_base: 380000000
    control_channels: [380100000]
audio:
  output_device: stdout
  sample_rate: 8000
  codec: imbe
  gain: 0.8
  queue_depth: 32
talkgroups:
  enabled: [1234, 5678]
  priority: {1234: 7}
  labels: {1234: "PD Dispatch"}
output_destinations:
  - {host: 127.0.0.1, port: 9000}
spectrum_server:
  port: 8089
websocket:
  port: 8090
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cyclone.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "rtlsdr", cfg.SDR.Device)
	assert.Equal(t, 1, cfg.SDR.DeviceIndex)
	assert.Equal(t, -2, cfg.SDR.PPMCorrection)
	assert.True(t, cfg.SDR.Gain.Auto)
	assert.Equal(t, 852000000, cfg.CenterFreq)

	require.Len(t, cfg.Systems, 2)
	p25 := cfg.Systems[0]
	assert.Equal(t, lmr.SystemTypeP25, p25.Type)
	assert.Equal(t, 0x293, p25.NAC)
	assert.Equal(t, 0xBEE00, p25.WACN)
	assert.Equal(t, []int{851012500, 851037500}, p25.ControlFrequencies)
	assert.Equal(t, 4800, p25.SymbolRate, "symbol rate defaulted by type")

	tetra := cfg.Systems[1]
	assert.Equal(t, lmr.SystemTypeTETRA, tetra.Type)
	assert.Equal(t, 18000, tetra.SymbolRate)
	assert.Equal(t, 380000000, tetra.BandBase)

	assert.Equal(t, 0.8, cfg.Audio.Gain)
	assert.Equal(t, 32, cfg.Audio.QueueDepth)
	assert.Equal(t, []int{1234, 5678}, cfg.TalkGroups.Enabled)
	assert.Equal(t, 7, cfg.TalkGroups.Priority[1234])
	assert.Equal(t, "PD Dispatch", cfg.TalkGroups.Labels[1234])
	require.Len(t, cfg.OutputDestinations, 1)
	assert.Equal(t, 9000, cfg.OutputDestinations[0].Port)
	assert.Equal(t, 8089, cfg.SpectrumServer.Port)
	assert.Equal(t, 8090, cfg.WebSocket.Port)
}

func TestNumericGain(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
sdr:
  gain: 28.6
center_freq: 852000000
systems:
  - id: 1
    type: smartnet
    base_frequency: 851000000
    channel_spacing: 25000
    control_channels: [851012500]
`))
	require.NoError(t, err)
	assert.False(t, cfg.SDR.Gain.Auto)
	assert.Equal(t, 28.6, cfg.SDR.Gain.DB)
	assert.Equal(t, 3600, cfg.Systems[0].SymbolRate)
}

func TestValidationErrors(t *testing.T) {
	cases := []struct {
		name     string
		contents string
	}{
		{"no systems", `center_freq: 852000000`},
		{"no center freq", `
systems:
  - {id: 1, type: p25, control_channels: [851012500]}
`},
		{"unknown type", `
center_freq: 852000000
systems:
  - {id: 1, type: bogus, control_channels: [851012500]}
`},
		{"no control channels", `
center_freq: 852000000
systems:
  - {id: 1, type: p25}
`},
		{"missing id", `
center_freq: 852000000
systems:
  - {type: p25, control_channels: [851012500]}
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.contents))
			assert.Error(t, err)
		})
	}
}

// Types named in the enum but without a wired decoder parse fine; the
// receiver rejects them later with a clear error.
func TestUndecodedTypesAccepted(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
center_freq: 852000000
systems:
  - {id: 1, type: nxdn, control_channels: [851012500]}
`))
	require.NoError(t, err)
	assert.Equal(t, lmr.SystemTypeNXDN, cfg.Systems[0].Type)
	assert.False(t, cfg.Systems[0].Type.Decodable())
}

func TestMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/cyclone.yaml")
	assert.Error(t, err)
}
