// Package mcp provides the mdpilot MCP server, registering the
// simulation tools and publishing model instructions.
package mcp

import (
	_ "embed"

	"github.com/deixis/mdpilot"
	"github.com/deixis/mdpilot/internal/monitor"
	"github.com/deixis/mdpilot/internal/session"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	store   *session.Store
	monitor *monitor.Monitor
	pollers *monitor.Manager
}

// NewServer creates an MCP server with all mdpilot tools registered.
func NewServer(store *session.Store, mon *monitor.Monitor, pollers *monitor.Manager) *mcp.Server {
	h := &handler{store: store, monitor: mon, pollers: pollers}

	opts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "mdpilot", Version: mdpilot.Version}, opts)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "sim_open",
		Description: "Open a simulation session over a working directory containing the input structure. Loads the .mdpilot configuration when present.",
	}, h.openHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "sim_sessions",
		Description: "List open simulation sessions with their current run status.",
	}, h.sessionsHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "sim_config_set",
		Description: "Set one recognized configuration key on a session (e.g. system.water_model, gromacs.nsteps). Values are validated.",
	}, h.configSetHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "sim_run",
		Description: `Run the full preparation pipeline and launch the production simulation in the background.

Preparation always restarts from the original structure file and rebuilds every
derived artifact; prior versions are moved to the archive area. Returns the
per-stage outcome and the declared output files.`,
	}, h.runHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "sim_status",
		Description: "Report the production run status for a session: standby, running, finished, or failed. finished and failed are final.",
	}, h.statusHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "sim_progress",
		Description: "Report the current step, simulated time, and throughput of the production run, parsed from its log.",
	}, h.progressHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "sim_stop",
		Description: "Terminate the session's production run. Safe to call when nothing is running; reports whether a job was actually stopped.",
	}, h.stopHandler)

	return s
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
