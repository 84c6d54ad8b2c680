package sim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvironmentConfig_ReferenceFile(t *testing.T) {
	cfg := loadReferenceConfig(t)

	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Servers, 4)
	assert.Len(t, cfg.Devices, 5)
	assert.Len(t, cfg.Topology, 4)
	assert.Len(t, cfg.Microservices, 8)
	assert.Len(t, cfg.Applications, 5)
	assert.Len(t, cfg.MigrationCost, 32)
	assert.Nil(t, cfg.Devices[0].Server)
	assert.Equal(t, []Move{{Device: 1, Server: 3}}, cfg.Movement.Point[1])
	assert.Equal(t, "running", cfg.Start.Mode)
	assert.Len(t, cfg.Start.Deployment, 14)
	assert.Equal(t, CancelOrphan, cfg.Policy())
	assert.Equal(t, int64(10), cfg.EndTick)
}

func TestParseEnvironmentConfig_UnknownKey_ReturnsError(t *testing.T) {
	_, err := ParseEnvironmentConfig([]byte("server: []\nservers_typo: 1\n"))
	assert.Error(t, err)
}

func TestLoadEnvironmentConfig_MissingFile_ReturnsError(t *testing.T) {
	_, err := LoadEnvironmentConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEnvironmentConfig_Policy(t *testing.T) {
	assert.Equal(t, CancelOrphan, (&EnvironmentConfig{}).Policy())
	assert.Equal(t, CancelUndeploy, (&EnvironmentConfig{CancelPolicy: "undeploy"}).Policy())
}

func TestEnvironmentConfig_Validate_Rejects(t *testing.T) {
	unknown := ServerID(9)
	tests := []struct {
		name   string
		mutate func(c *EnvironmentConfig)
	}{
		{"no servers", func(c *EnvironmentConfig) { c.Servers = nil }},
		{"duplicate server", func(c *EnvironmentConfig) { c.Servers = append(c.Servers, c.Servers[0]) }},
		{"duplicate device", func(c *EnvironmentConfig) { c.Devices = append(c.Devices, c.Devices[0]) }},
		{"device on unknown server", func(c *EnvironmentConfig) { c.Devices[0].Server = &unknown }},
		{"cancel policy", func(c *EnvironmentConfig) { c.CancelPolicy = "keep" }},
		{"start mode", func(c *EnvironmentConfig) { c.Start.Mode = "resume" }},
		{"end before start", func(c *EnvironmentConfig) { c.StartTick, c.EndTick = 5, 4 }},
		{"start device unknown", func(c *EnvironmentConfig) { c.Start.Devices[0].ID = 99 }},
		{"start device server", func(c *EnvironmentConfig) { c.Start.Devices[0].Server = 99 }},
		{"start device app", func(c *EnvironmentConfig) { c.Start.Devices[0].Apps = []AppID{99} }},
		{"deployment server", func(c *EnvironmentConfig) { c.Start.Deployment[0].Server = 99 }},
		{"solve with deployment", func(c *EnvironmentConfig) { c.Start.Mode = "solve" }},
		{"movement device", func(c *EnvironmentConfig) { c.Movement.Point[1][0].Device = 99 }},
		{"request at start tick", func(c *EnvironmentConfig) {
			c.Requests = RequestSchedule{0: {{Device: 1, Apps: []AppID{1}}}}
		}},
		{"request unknown app", func(c *EnvironmentConfig) {
			c.Requests = RequestSchedule{2: {{Device: 1, Apps: []AppID{99}}}}
		}},
		{"request unknown device", func(c *EnvironmentConfig) {
			c.Requests = RequestSchedule{2: {{Device: 99}}}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := loadReferenceConfig(t)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
