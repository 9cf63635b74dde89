// Package config loads and validates the .mdpilot YAML file describing
// a simulation: the physical system, the GROMACS run parameters, and
// the runner limits.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for simulation and runner configuration.
const (
	DefaultForcefield   = "amber99sb-ildn"
	DefaultWaterModel   = "none"
	DefaultBinary       = "gmx"
	DefaultBoxClearance = 1.5 // nm
	DefaultTimeout      = 30 * time.Minute
	DefaultMaxOutput    = 1 << 20 // 1 MB
	DefaultGracePeriod  = 5 * time.Second
	DefaultPollInterval = 2 * time.Second
)

// Valid values for the enumerated GROMACS parameters.
var (
	ValidIntegrators = map[string]bool{"md": true, "sd": true, "bd": true, "l-bfgs": true, "steep": true, "cg": true}
	ValidTcoupl      = map[string]bool{"V-rescale": true, "berendsen": true, "nose-hoover": true, "no": true}
	ValidPcoupl      = map[string]bool{"Parrinello-Rahman": true, "berendsen": true, "C-rescale": true, "MTTK": true, "no": true}
	ValidConstraints = map[string]bool{"none": true, "h-bonds": true, "all-bonds": true, "h-angles": true, "all-angles": true}
)

// Config holds the parsed .mdpilot configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version int           `yaml:"version"`
	System  SystemConfig  `yaml:"system"`
	Gromacs GromacsConfig `yaml:"gromacs"`
	Runner  RunnerConfig  `yaml:"runner"`
}

// SystemConfig describes the physical system being simulated.
type SystemConfig struct {
	Forcefield  string `yaml:"forcefield"`  // e.g. amber99sb-ildn, charmm27
	WaterModel  string `yaml:"water_model"` // e.g. tip3p, spce; "none" means vacuum
	Coordinates string `yaml:"coordinates"` // preferred input coordinate file
	Index       string `yaml:"index"`       // optional .ndx atom index file
}

// GromacsConfig holds the run parameters rendered into md.mdp and the
// execution environment for the gmx binary.
type GromacsConfig struct {
	Binary       string  `yaml:"binary"`        // gmx executable name
	DockerImage  string  `yaml:"docker_image"`  // when set, gmx runs containerized
	GPUDevice    string  `yaml:"gpu_device"`    // accelerator attached to mdrun
	NCores       int     `yaml:"n_cores"`       // OpenMP threads for mdrun
	BoxClearance float64 `yaml:"box_clearance"` // nm between solute and box edge
	Integrator   string  `yaml:"integrator"`
	Dt           float64 `yaml:"dt"`          // ps
	Temperature  float64 `yaml:"temperature"` // K
	Pressure     float64 `yaml:"pressure"`    // bar
	Nsteps       int64   `yaml:"nsteps"`
	Tcoupl       string  `yaml:"tcoupl"`
	Pcoupl       string  `yaml:"pcoupl"`
	Constraints  string  `yaml:"constraints"`
	Nstenergy    int     `yaml:"nstenergy"`
	Nstlog       int     `yaml:"nstlog"`
	Rlist        float64 `yaml:"rlist"`    // nm
	Rcoulomb     float64 `yaml:"rcoulomb"` // nm
	Rvdw         float64 `yaml:"rvdw"`     // nm
}

// RunnerConfig bounds external tool invocations.
type RunnerConfig struct {
	RawTimeout      string `yaml:"timeout"`       // blocking stage bound, e.g. "30m"
	RawMaxOutput    int    `yaml:"max_output"`    // captured output cap in bytes
	RawGracePeriod  string `yaml:"grace_period"`  // SIGTERM escalation delay
	RawPollInterval string `yaml:"poll_interval"` // status poller tick
}

// Forcefield returns the configured force field or the default.
func (c *Config) Forcefield() string {
	if c.System.Forcefield != "" {
		return c.System.Forcefield
	}
	return DefaultForcefield
}

// WaterModel returns the configured water model or "none" (vacuum).
func (c *Config) WaterModel() string {
	if c.System.WaterModel != "" {
		return c.System.WaterModel
	}
	return DefaultWaterModel
}

// Vacuum reports whether the system is simulated without solvent.
func (c *Config) Vacuum() bool {
	return c.WaterModel() == "none"
}

// Binary returns the gmx executable name or the default.
func (c *Config) Binary() string {
	if c.Gromacs.Binary != "" {
		return c.Gromacs.Binary
	}
	return DefaultBinary
}

// NCores returns the configured mdrun thread count or 1.
func (c *Config) NCores() int {
	if c.Gromacs.NCores > 0 {
		return c.Gromacs.NCores
	}
	return 1
}

// BoxClearance returns the configured box clearance in nm or the default.
func (c *Config) BoxClearance() float64 {
	if c.Gromacs.BoxClearance > 0 {
		return c.Gromacs.BoxClearance
	}
	return DefaultBoxClearance
}

// Integrator returns the configured integrator or "md".
func (c *Config) Integrator() string {
	if c.Gromacs.Integrator != "" {
		return c.Gromacs.Integrator
	}
	return "md"
}

// Dt returns the integration timestep in ps or 0.002.
func (c *Config) Dt() float64 {
	if c.Gromacs.Dt > 0 {
		return c.Gromacs.Dt
	}
	return 0.002
}

// Temperature returns the reference temperature in K or 300.
func (c *Config) Temperature() float64 {
	if c.Gromacs.Temperature > 0 {
		return c.Gromacs.Temperature
	}
	return 300
}

// Pressure returns the reference pressure in bar or 1.
func (c *Config) Pressure() float64 {
	if c.Gromacs.Pressure > 0 {
		return c.Gromacs.Pressure
	}
	return 1
}

// Nsteps returns the configured production step count or 50000.
func (c *Config) Nsteps() int64 {
	if c.Gromacs.Nsteps > 0 {
		return c.Gromacs.Nsteps
	}
	return 50000
}

// Tcoupl returns the configured thermostat or "V-rescale".
func (c *Config) Tcoupl() string {
	if c.Gromacs.Tcoupl != "" {
		return c.Gromacs.Tcoupl
	}
	return "V-rescale"
}

// Pcoupl returns the configured barostat or "Parrinello-Rahman".
func (c *Config) Pcoupl() string {
	if c.Gromacs.Pcoupl != "" {
		return c.Gromacs.Pcoupl
	}
	return "Parrinello-Rahman"
}

// Constraints returns the configured constraint class or "h-bonds".
func (c *Config) Constraints() string {
	if c.Gromacs.Constraints != "" {
		return c.Gromacs.Constraints
	}
	return "h-bonds"
}

// Nstenergy returns the energy output interval in steps or 1000.
func (c *Config) Nstenergy() int {
	if c.Gromacs.Nstenergy > 0 {
		return c.Gromacs.Nstenergy
	}
	return 1000
}

// Nstlog returns the log output interval in steps or 1000.
func (c *Config) Nstlog() int {
	if c.Gromacs.Nstlog > 0 {
		return c.Gromacs.Nstlog
	}
	return 1000
}

// Rlist returns the neighbour-list cutoff in nm or 1.0.
func (c *Config) Rlist() float64 {
	if c.Gromacs.Rlist > 0 {
		return c.Gromacs.Rlist
	}
	return 1.0
}

// Rcoulomb returns the electrostatic cutoff in nm or 1.0.
func (c *Config) Rcoulomb() float64 {
	if c.Gromacs.Rcoulomb > 0 {
		return c.Gromacs.Rcoulomb
	}
	return 1.0
}

// Rvdw returns the van der Waals cutoff in nm or 1.0.
func (c *Config) Rvdw() float64 {
	if c.Gromacs.Rvdw > 0 {
		return c.Gromacs.Rvdw
	}
	return 1.0
}

// Timeout returns the blocking stage bound or the default.
func (c *Config) Timeout() time.Duration {
	return duration(c.Runner.RawTimeout, DefaultTimeout)
}

// MaxOutputBytes returns the captured output cap or the default.
func (c *Config) MaxOutputBytes() int {
	if c.Runner.RawMaxOutput > 0 {
		return c.Runner.RawMaxOutput
	}
	return DefaultMaxOutput
}

// GracePeriod returns the termination escalation delay or the default.
func (c *Config) GracePeriod() time.Duration {
	return duration(c.Runner.RawGracePeriod, DefaultGracePeriod)
}

// PollInterval returns the status poller tick or the default.
func (c *Config) PollInterval() time.Duration {
	return duration(c.Runner.RawPollInterval, DefaultPollInterval)
}

func duration(raw string, def time.Duration) time.Duration {
	if raw != "" {
		d, err := time.ParseDuration(raw)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}

// Set updates a single recognized configuration key from its string
// representation, validating enumerated and numeric values. It is the
// only mutation surface exposed to callers.
func (c *Config) Set(key, value string) error {
	switch key {
	case "system.forcefield":
		c.System.Forcefield = value
	case "system.water_model":
		c.System.WaterModel = value
	case "system.coordinates":
		c.System.Coordinates = value
	case "system.index":
		c.System.Index = value
	case "gromacs.binary":
		c.Gromacs.Binary = value
	case "gromacs.docker_image":
		c.Gromacs.DockerImage = value
	case "gromacs.gpu_device":
		c.Gromacs.GPUDevice = value
	case "gromacs.n_cores":
		return setInt(&c.Gromacs.NCores, key, value)
	case "gromacs.box_clearance":
		return setFloat(&c.Gromacs.BoxClearance, key, value)
	case "gromacs.integrator":
		return setEnum(&c.Gromacs.Integrator, ValidIntegrators, key, value)
	case "gromacs.dt":
		return setFloat(&c.Gromacs.Dt, key, value)
	case "gromacs.temperature":
		return setFloat(&c.Gromacs.Temperature, key, value)
	case "gromacs.pressure":
		return setFloat(&c.Gromacs.Pressure, key, value)
	case "gromacs.nsteps":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s: %q is not a positive integer", key, value)
		}
		c.Gromacs.Nsteps = n
	case "gromacs.tcoupl":
		return setEnum(&c.Gromacs.Tcoupl, ValidTcoupl, key, value)
	case "gromacs.pcoupl":
		return setEnum(&c.Gromacs.Pcoupl, ValidPcoupl, key, value)
	case "gromacs.constraints":
		return setEnum(&c.Gromacs.Constraints, ValidConstraints, key, value)
	case "gromacs.nstenergy":
		return setInt(&c.Gromacs.Nstenergy, key, value)
	case "gromacs.nstlog":
		return setInt(&c.Gromacs.Nstlog, key, value)
	case "gromacs.rlist":
		return setFloat(&c.Gromacs.Rlist, key, value)
	case "gromacs.rcoulomb":
		return setFloat(&c.Gromacs.Rcoulomb, key, value)
	case "gromacs.rvdw":
		return setFloat(&c.Gromacs.Rvdw, key, value)
	default:
		return fmt.Errorf("unknown configuration key %q", key)
	}
	return nil
}

func setEnum(dst *string, valid map[string]bool, key, value string) error {
	if !valid[value] {
		return fmt.Errorf("%s: unknown value %q", key, value)
	}
	*dst = value
	return nil
}

func setInt(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return fmt.Errorf("%s: %q is not a positive integer", key, value)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key, value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f <= 0 {
		return fmt.Errorf("%s: %q is not a positive number", key, value)
	}
	*dst = f
	return nil
}

// Load reads the .mdpilot file from dir. If no file exists, a default
// Config is returned. The MDPILOT_DOCKER_IMAGE environment variable,
// when set, overrides gromacs.docker_image so deployments can switch
// to containerized execution without editing the file.
func Load(dir string) (*Config, error) {
	cfg := &Config{}

	path := filepath.Join(dir, ".mdpilot")
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading .mdpilot: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing .mdpilot: %w", err)
		}
	}

	if img := os.Getenv("MDPILOT_DOCKER_IMAGE"); img != "" {
		cfg.Gromacs.DockerImage = img
	}
	return cfg, nil
}
