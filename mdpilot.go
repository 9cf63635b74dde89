// Package mdpilot drives a GROMACS molecular-dynamics preparation
// pipeline and manages the lifecycle of the resulting production run.
package mdpilot

// Version is the mdpilot release version.
const Version = "0.1.0"
