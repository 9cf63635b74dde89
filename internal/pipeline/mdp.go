package pipeline

import (
	"fmt"
	"os"
	"strings"

	"github.com/deixis/mdpilot/internal/config"
)

// MDPFile is the run-parameter file rendered from the configuration
// snapshot before every orchestration run.
const MDPFile = "md.mdp"

// WriteMDP renders a GROMACS .mdp run-parameter file from the
// configuration snapshot. The file is regenerated on every run so the
// production input always reflects the current configuration.
func WriteMDP(cfg *config.Config, path string) error {
	var b strings.Builder

	fmt.Fprintf(&b, "integrator               = %s\n", cfg.Integrator())
	fmt.Fprintf(&b, "dt                       = %g\n", cfg.Dt())
	fmt.Fprintf(&b, "nsteps                   = %d\n", cfg.Nsteps())
	fmt.Fprintf(&b, "nstlog                   = %d\n", cfg.Nstlog())
	fmt.Fprintf(&b, "nstenergy                = %d\n", cfg.Nstenergy())
	fmt.Fprintf(&b, "nstxout-compressed       = %d\n", cfg.Nstenergy())
	b.WriteString("cutoff-scheme            = Verlet\n")
	fmt.Fprintf(&b, "rlist                    = %g\n", cfg.Rlist())
	fmt.Fprintf(&b, "rcoulomb                 = %g\n", cfg.Rcoulomb())
	fmt.Fprintf(&b, "rvdw                     = %g\n", cfg.Rvdw())

	if cfg.Vacuum() {
		// No periodic electrostatics or pressure coupling without solvent.
		b.WriteString("coulombtype              = cut-off\n")
		b.WriteString("pcoupl                   = no\n")
	} else {
		b.WriteString("coulombtype              = PME\n")
		fmt.Fprintf(&b, "pcoupl                   = %s\n", cfg.Pcoupl())
		b.WriteString("tau_p                    = 2.0\n")
		fmt.Fprintf(&b, "ref_p                    = %g\n", cfg.Pressure())
		b.WriteString("compressibility          = 4.5e-5\n")
	}

	fmt.Fprintf(&b, "tcoupl                   = %s\n", cfg.Tcoupl())
	if cfg.Tcoupl() != "no" {
		b.WriteString("tc-grps                  = System\n")
		b.WriteString("tau_t                    = 0.1\n")
		fmt.Fprintf(&b, "ref_t                    = %g\n", cfg.Temperature())
	}

	fmt.Fprintf(&b, "constraints              = %s\n", cfg.Constraints())
	if cfg.Constraints() != "none" {
		b.WriteString("constraint-algorithm     = lincs\n")
	}
	b.WriteString("gen_vel                  = yes\n")
	fmt.Fprintf(&b, "gen_temp                 = %g\n", cfg.Temperature())

	return os.WriteFile(path, []byte(b.String()), 0o644)
}
