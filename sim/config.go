package sim

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/edge-sim/edge-sim/sim/topology"
)

// DeviceSpec is the static description of a device. A non-nil Server
// connects the device when the environment is built.
type DeviceSpec struct {
	ID     DeviceID  `yaml:"id"`
	Server *ServerID `yaml:"connected_server_id"`
}

// StartDevice is a device's connection and requests at the start tick.
type StartDevice struct {
	ID     DeviceID `yaml:"id"`
	Server ServerID `yaml:"connected_server_id"`
	Apps   []AppID  `yaml:"request_app_ids"`
}

// ValidStartModes is the set of recognized bootstrap modes.
var ValidStartModes = map[string]bool{"": true, "running": true, "solve": true}

// StartConfig selects how the first tick's deployment is produced.
//   - "running" (default): Deployment lists every initial placement.
//   - "solve": each requested microservice goes to the first server, in a
//     seeded shuffled order, that can take it.
type StartConfig struct {
	Mode       string        `yaml:"status"`
	Devices    []StartDevice `yaml:"device"`
	Deployment []Placement   `yaml:"deployment"`
}

// EnvironmentConfig is the complete description of a simulated
// environment, loadable from YAML.
type EnvironmentConfig struct {
	Servers       []ServerSpec         `yaml:"server"`
	Devices       []DeviceSpec         `yaml:"device"`
	Topology      []topology.Edge      `yaml:"topo"`
	Microservices []MicroserviceSpec   `yaml:"microservice"`
	Applications  []ApplicationSpec    `yaml:"application"`
	MigrationCost []MigrationCostEntry `yaml:"migration_cost"`
	Movement      MovementPlan         `yaml:"movement"`
	Requests      RequestSchedule      `yaml:"request"`
	Start         StartConfig          `yaml:"start"`

	CancelPolicy     string `yaml:"cancel_policy"`     // "orphan" (default) or "undeploy"
	StrictDeployment bool   `yaml:"strict_deployment"` // fail a tick that leaves a requested microservice undeployed
	StartTick        int64  `yaml:"start_tick"`
	EndTick          int64  `yaml:"end_tick"`
	Seed             int64  `yaml:"seed"`
}

// LoadEnvironmentConfig reads and parses a YAML environment file.
// Unrecognized keys are rejected.
func LoadEnvironmentConfig(path string) (*EnvironmentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading environment config: %w", err)
	}
	return ParseEnvironmentConfig(data)
}

// ParseEnvironmentConfig parses YAML environment bytes strictly.
func ParseEnvironmentConfig(data []byte) (*EnvironmentConfig, error) {
	var cfg EnvironmentConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}
	return &cfg, nil
}

// Policy returns the configured cancellation policy.
func (c *EnvironmentConfig) Policy() CancelPolicy {
	if c.CancelPolicy == "" {
		return CancelOrphan
	}
	return CancelPolicy(c.CancelPolicy)
}

// Validate checks cross-references between sections. Catalog-level rules
// (message graph shape, layer sizes) are checked when the catalog is built.
func (c *EnvironmentConfig) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("at least one server required")
	}
	servers := make(map[ServerID]bool, len(c.Servers))
	for _, s := range c.Servers {
		if servers[s.ID] {
			return fmt.Errorf("duplicate server id %d", s.ID)
		}
		servers[s.ID] = true
	}
	devices := make(map[DeviceID]bool, len(c.Devices))
	for _, d := range c.Devices {
		if devices[d.ID] {
			return fmt.Errorf("duplicate device id %d", d.ID)
		}
		devices[d.ID] = true
		if d.Server != nil && !servers[*d.Server] {
			return fmt.Errorf("device %d: unknown connected_server_id %d", d.ID, *d.Server)
		}
	}
	apps := make(map[AppID]bool, len(c.Applications))
	for _, a := range c.Applications {
		apps[a.ID] = true
	}
	if !ValidCancelPolicies[c.CancelPolicy] {
		return fmt.Errorf("unknown cancel_policy %q; valid: orphan, undeploy", c.CancelPolicy)
	}
	if !ValidStartModes[c.Start.Mode] {
		return fmt.Errorf("unknown start status %q; valid: running, solve", c.Start.Mode)
	}
	if c.EndTick < c.StartTick {
		return fmt.Errorf("end_tick (%d) must be >= start_tick (%d)", c.EndTick, c.StartTick)
	}
	for _, sd := range c.Start.Devices {
		if !devices[sd.ID] {
			return fmt.Errorf("start device %d: unknown device", sd.ID)
		}
		if !servers[sd.Server] {
			return fmt.Errorf("start device %d: unknown server %d", sd.ID, sd.Server)
		}
		for _, a := range sd.Apps {
			if !apps[a] {
				return fmt.Errorf("start device %d: unknown application %d", sd.ID, a)
			}
		}
	}
	for i, p := range c.Start.Deployment {
		if !servers[p.Server] {
			return fmt.Errorf("start deployment[%d]: unknown server %d", i, p.Server)
		}
	}
	if c.Start.Mode == "solve" && len(c.Start.Deployment) > 0 {
		return fmt.Errorf("start deployment list is only used with status running")
	}
	if err := c.Movement.Validate(devices, servers); err != nil {
		return err
	}
	for tick, changes := range c.Requests {
		if tick <= c.StartTick {
			return fmt.Errorf("request at tick %d: changes start after start_tick %d", tick, c.StartTick)
		}
		for _, ch := range changes {
			if !devices[ch.Device] {
				return fmt.Errorf("request at tick %d: unknown device %d", tick, ch.Device)
			}
			for _, a := range ch.Apps {
				if !apps[a] {
					return fmt.Errorf("request at tick %d: unknown application %d", tick, a)
				}
			}
		}
	}
	return nil
}
