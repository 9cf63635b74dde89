// Package pipeline sequences the fixed GROMACS preparation stages
// (topology generation, box building and solvation, production
// compile) and launches the production run non-blocking.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/deixis/mdpilot/internal/config"
	"github.com/deixis/mdpilot/internal/runner"
	"github.com/google/uuid"
)

// Fixed artifact names shared by the stages.
const (
	TopologyFile  = "topol.top"
	IonsTPR       = "ions.tpr"
	ProductionTPR = "md.tpr"
	SimSubdir     = "simulation"
	OutputPrefix  = SimSubdir + "/md"

	// SolventBox is the pre-equilibrated water box used by solvate.
	SolventBox = "spc216.gro"
)

// residueNotFound is the pdb2gmx diagnostic that triggers the one-time
// force-field fallback retry.
const residueNotFound = "not found in residue topology database"

// diagTailBytes bounds the diagnostic tail surfaced on stage failure.
const diagTailBytes = 2000

// Engine drives one orchestration run over a session working directory.
type Engine struct {
	Config  *config.Config
	Runner  *runner.Runner
	WorkDir string

	// Replace tears down an active production job instead of failing
	// with ErrJobActive.
	Replace bool
}

// StageResult holds the outcome of a single stage.
type StageResult struct {
	Name   string // tool name
	Status string // pass, fail
	Detail string // extra info (e.g. fallback note, diagnostic tail)
}

// RunReport holds the full outcome of an orchestration run.
type RunReport struct {
	RunID           string
	Stages          []StageResult
	Input           string // authoritative coordinate file
	Coordinate      string // coordinate file fed to the production compile
	Forcefield      string // force field actually used
	FallbackApplied bool   // true when the default force field was substituted
	Job             *runner.Job
	OutputFiles     map[string]string // declared production outputs by fixed suffix
}

func (r *RunReport) pass(name, detail string) {
	r.Stages = append(r.Stages, StageResult{Name: name, Status: "pass", Detail: detail})
}

func (r *RunReport) fail(name, detail string) {
	r.Stages = append(r.Stages, StageResult{Name: name, Status: "fail", Detail: detail})
}

// Run executes the full pipeline: resolve the authoritative input,
// regenerate topology, rebuild the box/solvation artifacts, compile
// the production input, and launch mdrun non-blocking. Stages run
// strictly in sequence; the first failure aborts the rest, leaving
// upstream artifacts in place for inspection.
func (e *Engine) Run(ctx context.Context, sessionID string) (*RunReport, error) {
	if e.Runner.Active().Alive() && !e.Replace {
		return nil, ErrJobActive
	}

	rep := &RunReport{
		RunID:      uuid.New().String(),
		Forcefield: e.Config.Forcefield(),
	}

	// Regenerate run parameters from the current configuration snapshot.
	if err := WriteMDP(e.Config, filepath.Join(e.WorkDir, MDPFile)); err != nil {
		return rep, err
	}

	input, err := ResolveInput(e.WorkDir, e.Config.System.Coordinates)
	if err != nil {
		return rep, err
	}
	rep.Input = input
	stem := strings.TrimSuffix(input, filepath.Ext(input))
	systemGro, boxGro, solvatedGro, ionizedGro := DerivedNames(stem)

	arch := newArchiver(e.WorkDir)

	// Stage A: topology generation. Always rerun from the authoritative
	// input so topology and coordinates can never drift apart after a
	// parameter change. Intermediates from a different input stem are
	// stale and removed outright.
	if err := arch.Move(systemGro, TopologyFile, "posre*.itp", "mdout.mdp"); err != nil {
		return rep, err
	}
	if err := removeForeignDerived(e.WorkDir, stem); err != nil {
		return rep, err
	}
	if err := e.topology(ctx, rep, input, systemGro); err != nil {
		return rep, err
	}

	// Stage B: box building, and for solvated systems solvation plus
	// ionization. Rebuilt in full on every run.
	var coord string
	if e.Config.Vacuum() {
		coord, err = e.vacuumBox(ctx, rep, arch, input, systemGro, boxGro, solvatedGro, ionizedGro)
	} else {
		coord, err = e.solvate(ctx, rep, arch, systemGro, boxGro, solvatedGro, ionizedGro)
	}
	if err != nil {
		return rep, err
	}
	rep.Coordinate = coord

	// Stage C: production compile.
	if err := arch.Move(ProductionTPR, "mdout.mdp"); err != nil {
		return rep, err
	}
	args := []string{"-f", MDPFile, "-p", TopologyFile, "-c", coord, "-o", ProductionTPR, "-maxwarn", "5"}
	if idx := e.Config.System.Index; idx != "" && fileExists(filepath.Join(e.WorkDir, idx)) {
		args = append(args, "-n", idx)
	}
	if _, err := e.stage(ctx, rep, "grompp", args, "", true); err != nil {
		return rep, err
	}

	// Stage D: non-blocking production launch.
	job, err := e.launch(rep, sessionID)
	if err != nil {
		return rep, err
	}
	rep.Job = job
	return rep, nil
}

// stage runs one blocking tool invocation and records its outcome.
// classify applies the grompp stderr reclassification.
func (e *Engine) stage(ctx context.Context, rep *RunReport, tool string, args []string, stdin string, classify bool) (*runner.Result, error) {
	res, err := e.Runner.Run(ctx, append([]string{tool}, args...), stdin)
	if err != nil {
		rep.fail(tool, err.Error())
		return nil, err
	}
	if classify {
		res.ReclassifyFatalStderr()
	}
	if !res.Success() {
		tail := runner.Tail(res.Stderr, diagTailBytes)
		rep.fail(tool, tail)
		return res, &StageError{Stage: tool, Tail: tail}
	}
	rep.pass(tool, "")
	return res, nil
}

// topology runs pdb2gmx, retrying once with the default force field
// when the configured one lacks a residue. The substitution is written
// back into the configuration snapshot so later runs stay consistent.
func (e *Engine) topology(ctx context.Context, rep *RunReport, input, systemGro string) error {
	args := func(ff string) []string {
		return []string{
			"pdb2gmx",
			"-f", input,
			"-o", systemGro,
			"-p", TopologyFile,
			"-ff", ff,
			"-water", e.Config.WaterModel(),
			"-ignh",
		}
	}

	res, err := e.Runner.Run(ctx, args(e.Config.Forcefield()), "")
	if err != nil {
		rep.fail("pdb2gmx", err.Error())
		return err
	}

	if !res.Success() && e.Config.Forcefield() != config.DefaultForcefield &&
		bytes.Contains(res.Stderr, []byte(residueNotFound)) {
		res, err = e.Runner.Run(ctx, args(config.DefaultForcefield), "")
		if err != nil {
			rep.fail("pdb2gmx", err.Error())
			return err
		}
		if res.Success() {
			if err := e.Config.Set("system.forcefield", config.DefaultForcefield); err != nil {
				return err
			}
			rep.Forcefield = config.DefaultForcefield
			rep.FallbackApplied = true
		}
	}

	if !res.Success() {
		tail := runner.Tail(res.Stderr, diagTailBytes)
		rep.fail("pdb2gmx", tail)
		return &StageError{Stage: "pdb2gmx", Tail: tail}
	}

	detail := ""
	if rep.FallbackApplied {
		detail = "fell back to " + config.DefaultForcefield
	}
	rep.pass("pdb2gmx", detail)
	return nil
}

// vacuumBox builds a cubic periodic box directly from the topology
// output (or the raw input when absent). Solvation artifacts left by
// an earlier run of the other branch are stale here and archived
// alongside the box.
func (e *Engine) vacuumBox(ctx context.Context, rep *RunReport, arch *archiver, input, systemGro, boxGro, solvatedGro, ionizedGro string) (string, error) {
	if err := arch.Move(boxGro, solvatedGro, ionizedGro, IonsTPR); err != nil {
		return "", err
	}
	src := systemGro
	if !fileExists(filepath.Join(e.WorkDir, systemGro)) {
		src = input
	}
	args := []string{"-f", src, "-o", boxGro, "-c", "-d", e.clearance(), "-bt", "cubic"}
	if _, err := e.stage(ctx, rep, "editconf", args, "", false); err != nil {
		return "", err
	}
	return boxGro, nil
}

// solvate rebuilds the solvated, neutralized system: space-filling
// box, water fill, a preparation-only compile, and ion placement.
// Prior outputs of every sub-step are archived first.
func (e *Engine) solvate(ctx context.Context, rep *RunReport, arch *archiver, systemGro, boxGro, solvatedGro, ionizedGro string) (string, error) {
	if !fileExists(filepath.Join(e.WorkDir, systemGro)) {
		return "", &ConfigError{Reason: fmt.Sprintf("%s not found; topology generation must succeed before solvation", systemGro)}
	}
	if err := arch.Move(ionizedGro, solvatedGro, boxGro, IonsTPR, "mdout.mdp"); err != nil {
		return "", err
	}

	args := []string{"-f", systemGro, "-o", boxGro, "-c", "-d", e.clearance(), "-bt", "dodecahedron"}
	if _, err := e.stage(ctx, rep, "editconf", args, "", false); err != nil {
		return "", err
	}

	args = []string{"-cp", boxGro, "-cs", SolventBox, "-o", solvatedGro, "-p", TopologyFile}
	if _, err := e.stage(ctx, rep, "solvate", args, "", false); err != nil {
		return "", err
	}

	// Net-charge warnings are expected here; genion neutralizes next.
	args = []string{"-f", MDPFile, "-p", TopologyFile, "-c", solvatedGro, "-o", IonsTPR, "-maxwarn", "20"}
	if _, err := e.stage(ctx, rep, "grompp", args, "", true); err != nil {
		return "", err
	}

	args = []string{"-s", IonsTPR, "-o", ionizedGro, "-p", TopologyFile, "-pname", "NA", "-nname", "CL", "-neutral"}
	if _, err := e.stage(ctx, rep, "genion", args, "SOL\n", false); err != nil {
		return "", err
	}

	if err := e.Config.Set("system.coordinates", ionizedGro); err != nil {
		return "", err
	}
	return ionizedGro, nil
}

// launch starts mdrun non-blocking with a dedicated output
// subdirectory and declares the expected output files.
func (e *Engine) launch(rep *RunReport, sessionID string) (*runner.Job, error) {
	if err := os.MkdirAll(filepath.Join(e.WorkDir, SimSubdir), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s directory: %w", SimSubdir, err)
	}

	args := []string{"mdrun", "-v", "-s", ProductionTPR, "-deffnm", OutputPrefix, "-ntomp", strconv.Itoa(e.Config.NCores())}
	gpu := e.Config.Gromacs.GPUDevice
	if gpu != "" {
		args = append(args, "-gpu_id", gpu)
	}

	job, err := e.Runner.Start(args, runner.LaunchSpec{
		GPUDevice:     gpu,
		OutputPrefix:  OutputPrefix,
		ExpectedSteps: e.Config.Nsteps(),
		SessionID:     sessionID,
	})
	if err != nil {
		rep.fail("mdrun", err.Error())
		return nil, err
	}
	rep.pass("mdrun", "")
	rep.OutputFiles = ExpectedOutputs(OutputPrefix)
	return job, nil
}

func (e *Engine) clearance() string {
	return strconv.FormatFloat(e.Config.BoxClearance(), 'g', -1, 64)
}

// ExpectedOutputs returns the declared production output files for an
// output prefix, keyed by fixed suffix.
func ExpectedOutputs(prefix string) map[string]string {
	return map[string]string{
		"log": prefix + ".log",
		"edr": prefix + ".edr",
		"xtc": prefix + ".xtc",
		"cpt": prefix + ".cpt",
	}
}

// removeForeignDerived deletes derived intermediates whose stem does
// not match the current authoritative input.
func removeForeignDerived(workDir, stem string) error {
	var patterns []string
	for _, suffix := range derivedSuffixes {
		patterns = append(patterns, "*"+suffix)
	}
	matches := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		m, err := filepath.Glob(filepath.Join(workDir, pattern))
		if err != nil {
			return err
		}
		matches = append(matches, m...)
	}
	current := make(map[string]bool)
	s, b, sv, i := DerivedNames(stem)
	for _, name := range []string{s, b, sv, i} {
		current[name] = true
	}
	var stale []string
	for _, path := range matches {
		if !current[filepath.Base(path)] {
			stale = append(stale, filepath.Base(path))
		}
	}
	return removeMatching(workDir, stale...)
}
