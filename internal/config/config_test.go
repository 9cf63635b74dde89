package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := &Config{}

	if got := cfg.Forcefield(); got != DefaultForcefield {
		t.Errorf("Forcefield() = %q, want %q", got, DefaultForcefield)
	}
	if got := cfg.WaterModel(); got != "none" {
		t.Errorf("WaterModel() = %q, want none", got)
	}
	if !cfg.Vacuum() {
		t.Error("Vacuum() = false for empty config, want true")
	}
	if got := cfg.Binary(); got != "gmx" {
		t.Errorf("Binary() = %q, want gmx", got)
	}
	if got := cfg.NCores(); got != 1 {
		t.Errorf("NCores() = %d, want 1", got)
	}
	if got := cfg.Nsteps(); got != 50000 {
		t.Errorf("Nsteps() = %d, want 50000", got)
	}
	if got := cfg.Integrator(); got != "md" {
		t.Errorf("Integrator() = %q, want md", got)
	}
	if got := cfg.Tcoupl(); got != "V-rescale" {
		t.Errorf("Tcoupl() = %q, want V-rescale", got)
	}
	if got := cfg.Timeout(); got != DefaultTimeout {
		t.Errorf("Timeout() = %s, want %s", got, DefaultTimeout)
	}
	if got := cfg.GracePeriod(); got != DefaultGracePeriod {
		t.Errorf("GracePeriod() = %s, want %s", got, DefaultGracePeriod)
	}
	if got := cfg.MaxOutputBytes(); got != DefaultMaxOutput {
		t.Errorf("MaxOutputBytes() = %d, want %d", got, DefaultMaxOutput)
	}
}

func TestVacuumFollowsWaterModel(t *testing.T) {
	cfg := &Config{}
	cfg.System.WaterModel = "tip3p"
	if cfg.Vacuum() {
		t.Error("Vacuum() = true with tip3p water")
	}
}

func TestSet(t *testing.T) {
	cfg := &Config{}

	if err := cfg.Set("system.forcefield", "charmm27"); err != nil {
		t.Fatal(err)
	}
	if cfg.Forcefield() != "charmm27" {
		t.Errorf("Forcefield() = %q after set", cfg.Forcefield())
	}

	if err := cfg.Set("gromacs.nsteps", "5000000"); err != nil {
		t.Fatal(err)
	}
	if cfg.Nsteps() != 5000000 {
		t.Errorf("Nsteps() = %d, want 5000000", cfg.Nsteps())
	}

	if err := cfg.Set("gromacs.temperature", "310"); err != nil {
		t.Fatal(err)
	}
	if cfg.Temperature() != 310 {
		t.Errorf("Temperature() = %g, want 310", cfg.Temperature())
	}
}

func TestSetRejectsInvalid(t *testing.T) {
	cfg := &Config{}
	cases := []struct{ key, value string }{
		{"gromacs.integrator", "verlet"},
		{"gromacs.tcoupl", "magic"},
		{"gromacs.pcoupl", "bogus"},
		{"gromacs.constraints", "some-bonds"},
		{"gromacs.nsteps", "-5"},
		{"gromacs.nsteps", "many"},
		{"gromacs.dt", "0"},
		{"gromacs.n_cores", "0"},
		{"no.such.key", "x"},
	}
	for _, tc := range cases {
		if err := cfg.Set(tc.key, tc.value); err == nil {
			t.Errorf("Set(%q, %q) accepted, want error", tc.key, tc.value)
		}
	}

	// Rejected values must not leak into the config.
	if cfg.Integrator() != "md" {
		t.Errorf("Integrator() = %q after rejected set", cfg.Integrator())
	}
}

func TestSetAcceptsValidEnums(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Set("gromacs.integrator", "sd"); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Set("gromacs.tcoupl", "nose-hoover"); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Set("gromacs.pcoupl", "C-rescale"); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Set("gromacs.constraints", "all-bonds"); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	data := `version: 1
system:
  forcefield: charmm27
  water_model: tip3p
  coordinates: protein.pdb
gromacs:
  nsteps: 100000
  temperature: 310
runner:
  timeout: 10m
  grace_period: 2s
`
	if err := os.WriteFile(filepath.Join(dir, ".mdpilot"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Forcefield() != "charmm27" {
		t.Errorf("Forcefield() = %q", cfg.Forcefield())
	}
	if cfg.System.Coordinates != "protein.pdb" {
		t.Errorf("Coordinates = %q", cfg.System.Coordinates)
	}
	if cfg.Vacuum() {
		t.Error("Vacuum() = true with tip3p water")
	}
	if cfg.Nsteps() != 100000 {
		t.Errorf("Nsteps() = %d", cfg.Nsteps())
	}
	if cfg.Timeout() != 10*time.Minute {
		t.Errorf("Timeout() = %s", cfg.Timeout())
	}
	if cfg.GracePeriod() != 2*time.Second {
		t.Errorf("GracePeriod() = %s", cfg.GracePeriod())
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Forcefield() != DefaultForcefield {
		t.Errorf("Forcefield() = %q for absent file", cfg.Forcefield())
	}
}

func TestLoadBadYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".mdpilot"), []byte("gromacs: [oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("Load accepted malformed YAML")
	}
}

func TestLoadDockerImageEnvOverride(t *testing.T) {
	t.Setenv("MDPILOT_DOCKER_IMAGE", "gromacs/gromacs:2024")
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gromacs.DockerImage != "gromacs/gromacs:2024" {
		t.Errorf("DockerImage = %q", cfg.Gromacs.DockerImage)
	}
}
