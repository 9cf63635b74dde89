package mcp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/deixis/mdpilot/internal/config"
	"github.com/deixis/mdpilot/internal/mdlog"
	"github.com/deixis/mdpilot/internal/pipeline"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type openParams struct {
	WorkDir  string `json:"work_dir" jsonschema:"absolute path of the session working directory containing the input structure"`
	Nickname string `json:"nickname,omitempty" jsonschema:"optional human-readable session label"`
}

func (h *handler) openHandler(ctx context.Context, req *mcp.CallToolRequest, params openParams) (*mcp.CallToolResult, any, error) {
	if params.WorkDir == "" {
		return errorResult("work_dir is required")
	}
	cfg, err := config.Load(params.WorkDir)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	s, err := h.store.Create(params.WorkDir, params.Nickname, cfg)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to open session: %v", err))
	}
	return textResult(fmt.Sprintf("Session: %s\nDirectory: %s\nForce field: %s\nWater model: %s\n",
		s.ID, s.WorkDir, cfg.Forcefield(), cfg.WaterModel()))
}

type sessionsParams struct{}

func (h *handler) sessionsHandler(ctx context.Context, req *mcp.CallToolRequest, _ sessionsParams) (*mcp.CallToolResult, any, error) {
	sessions := h.store.List()
	if len(sessions) == 0 {
		return textResult("No open sessions.")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Sessions (%d):\n", len(sessions))
	for _, s := range sessions {
		rep := h.monitor.Status(s)
		label := s.ID
		if s.Nickname != "" {
			label += " (" + s.Nickname + ")"
		}
		fmt.Fprintf(&b, "  %s  %s  %s\n", label, rep.Status, s.WorkDir)
	}
	return textResult(b.String())
}

type configSetParams struct {
	SessionID string `json:"session_id" jsonschema:"the session ID from sim_open"`
	Key       string `json:"key" jsonschema:"configuration key, e.g. system.water_model or gromacs.nsteps"`
	Value     string `json:"value" jsonschema:"new value; enumerated and numeric values are validated"`
}

func (h *handler) configSetHandler(ctx context.Context, req *mcp.CallToolRequest, params configSetParams) (*mcp.CallToolResult, any, error) {
	s := h.store.Get(params.SessionID)
	if s == nil {
		return errorResult("Session not found")
	}
	if err := s.Config.Set(params.Key, params.Value); err != nil {
		return errorResult(err.Error())
	}
	return textResult(fmt.Sprintf("%s = %s", params.Key, params.Value))
}

type runParams struct {
	SessionID string `json:"session_id" jsonschema:"the session ID from sim_open"`
	Replace   *bool  `json:"replace,omitempty" jsonschema:"terminate an already-running production job instead of failing. Default: false."`
}

func (h *handler) runHandler(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	s := h.store.Get(params.SessionID)
	if s == nil {
		return errorResult("Session not found")
	}

	replace := params.Replace != nil && *params.Replace

	eng := &pipeline.Engine{
		Config:  s.Config,
		Runner:  s.Runner,
		WorkDir: s.WorkDir,
		Replace: replace,
	}
	rep, err := eng.Run(ctx, s.ID)
	if err != nil {
		if errors.Is(err, pipeline.ErrJobActive) {
			return errorResult(err.Error())
		}
		return errorResult(formatRunFailure(rep, err))
	}

	if err := h.store.Launch(s, rep.Job); err != nil {
		return errorResult(fmt.Sprintf("Launched, but failed to persist run metadata: %v", err))
	}
	h.pollers.Watch(s)

	return textResult(formatRun(rep))
}

func formatRun(rep *pipeline.RunReport) string {
	var b strings.Builder
	fmt.Fprintln(&b, "Status: running")
	fmt.Fprintf(&b, "Run: %s\n", rep.RunID)
	fmt.Fprintf(&b, "Input: %s\n", rep.Input)
	fmt.Fprintf(&b, "Force field: %s\n", rep.Forcefield)
	if rep.FallbackApplied {
		fmt.Fprintln(&b, "Note: configured force field lacked a residue; fell back to the default.")
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Stages:")
	for _, st := range rep.Stages {
		if st.Detail != "" && st.Status == "pass" {
			fmt.Fprintf(&b, "  %-10s ok (%s)\n", st.Name, st.Detail)
		} else {
			fmt.Fprintf(&b, "  %-10s ok\n", st.Name)
		}
	}
	fmt.Fprintln(&b)

	fmt.Fprintf(&b, "PID: %d\n", rep.Job.PID())
	fmt.Fprintln(&b, "Output files:")
	for _, key := range []string{"log", "edr", "xtc", "cpt"} {
		fmt.Fprintf(&b, "  %s: %s\n", key, rep.OutputFiles[key])
	}
	return b.String()
}

func formatRunFailure(rep *pipeline.RunReport, err error) string {
	var b strings.Builder
	fmt.Fprintln(&b, "Status: FAIL")
	if rep != nil {
		for _, st := range rep.Stages {
			mark := "ok"
			if st.Status == "fail" {
				mark = "FAIL"
			}
			fmt.Fprintf(&b, "  %-10s %s\n", st.Name, mark)
		}
		fmt.Fprintln(&b)
	}
	fmt.Fprint(&b, err.Error())
	return b.String()
}

type statusParams struct {
	SessionID string `json:"session_id" jsonschema:"the session ID from sim_open"`
}

func (h *handler) statusHandler(ctx context.Context, req *mcp.CallToolRequest, params statusParams) (*mcp.CallToolResult, any, error) {
	s := h.store.Get(params.SessionID)
	if s == nil {
		return errorResult("Session not found")
	}
	rep := h.monitor.Status(s)

	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s\n", rep.Status)
	fmt.Fprintf(&b, "Running: %v\n", rep.Running)
	if rep.PID != 0 {
		fmt.Fprintf(&b, "PID: %d\n", rep.PID)
	}
	if rep.ExitCode != nil {
		fmt.Fprintf(&b, "Exit code: %d\n", *rep.ExitCode)
	}
	return textResult(b.String())
}

type progressParams struct {
	SessionID string `json:"session_id" jsonschema:"the session ID from sim_open"`
}

func (h *handler) progressHandler(ctx context.Context, req *mcp.CallToolRequest, params progressParams) (*mcp.CallToolResult, any, error) {
	s := h.store.Get(params.SessionID)
	if s == nil {
		return errorResult("Session not found")
	}

	prefix := pipeline.OutputPrefix
	if meta := h.store.ReadMeta(s); meta.OutputPrefix != "" {
		prefix = meta.OutputPrefix
	}
	p, ok := mdlog.Scan(filepath.Join(s.WorkDir, prefix+".log"), 0)
	if !ok {
		return textResult("No progress information available yet.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Step: %d\n", p.Step)
	fmt.Fprintf(&b, "Simulated time: %.2f ps\n", p.TimePS)
	if p.NsPerDay > 0 {
		fmt.Fprintf(&b, "Throughput: %.2f ns/day\n", p.NsPerDay)
	}
	return textResult(b.String())
}

type stopParams struct {
	SessionID string `json:"session_id" jsonschema:"the session ID from sim_open"`
}

func (h *handler) stopHandler(ctx context.Context, req *mcp.CallToolRequest, params stopParams) (*mcp.CallToolResult, any, error) {
	s := h.store.Get(params.SessionID)
	if s == nil {
		return errorResult("Session not found")
	}
	stopped := h.monitor.Stop(s)
	if stopped {
		return textResult("Stopped the production run.")
	}
	return textResult("Nothing was running.")
}
