// Command mdpilot prepares and supervises GROMACS simulation runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/deixis/mdpilot"
	"github.com/deixis/mdpilot/internal/config"
	"github.com/deixis/mdpilot/internal/mdlog"
	pilotmcp "github.com/deixis/mdpilot/internal/mcp"
	"github.com/deixis/mdpilot/internal/monitor"
	"github.com/deixis/mdpilot/internal/pipeline"
	"github.com/deixis/mdpilot/internal/session"
	"github.com/joho/godotenv"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("mdpilot: ")

	// Optional .env for deployment settings like MDPILOT_DOCKER_IMAGE.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "mcp":
		err = mcpMain(args)
	case "run":
		err = runMain(args)
	case "status":
		err = statusMain(args)
	case "stop":
		err = stopMain(args)
	case "version":
		fmt.Println(mdpilot.Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "mdpilot: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: mdpilot <command> [flags]

Commands:
  run         Run the preparation pipeline and launch the production simulation
  status      Report the production run status for a working directory
  stop        Terminate the production run recorded for a working directory
  mcp         Start the MCP server
  version     Print the version
  help        Show this help

Use "mdpilot <command> -h" for command-specific flags.`)
}

// --- mcp ---

func mcpMain(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	instructions := fs.Bool("instructions", false, "print model instructions and exit")
	httpAddr := fs.String("http", "", "start HTTP server on address (e.g. :9090)")
	_ = fs.Parse(args)

	if *instructions {
		fmt.Print(pilotmcp.Instructions)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store := session.NewStore()
	mon := &monitor.Monitor{Store: store}
	pollers := monitor.NewManager(ctx, mon, config.DefaultPollInterval)
	defer pollers.Close()
	// Stop any live production jobs before the controller exits; the
	// status command reconciles them from disk afterwards.
	defer func() {
		for _, s := range store.List() {
			s.Runner.Terminate()
		}
	}()

	server := pilotmcp.NewServer(store, mon, pollers)

	if *httpAddr != "" {
		return serveHTTP(ctx, server, *httpAddr)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.Printf("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// --- run ---

func runMain(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	dirFlag := fs.String("dir", ".", "session working directory")
	replaceFlag := fs.Bool("replace", false, "terminate an already-running production job first")
	setFlags := multiFlag{}
	fs.Var(&setFlags, "set", "configuration override key=value (repeatable)")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load(*dirFlag)
	if err != nil {
		return err
	}
	for _, kv := range setFlags {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("-set %q: want key=value", kv)
		}
		if err := cfg.Set(key, value); err != nil {
			return err
		}
	}

	store := session.NewStore()
	s, err := store.Create(*dirFlag, "", cfg)
	if err != nil {
		return err
	}

	eng := &pipeline.Engine{
		Config:  s.Config,
		Runner:  s.Runner,
		WorkDir: s.WorkDir,
		Replace: *replaceFlag,
	}
	rep, err := eng.Run(ctx, s.ID)
	if err != nil {
		if rep != nil {
			printStages(rep)
		}
		return err
	}
	if err := store.Launch(s, rep.Job); err != nil {
		return err
	}

	printStages(rep)
	fmt.Printf("\nlaunched mdrun (pid %d), output prefix %s\n", rep.Job.PID(), rep.Job.OutputPrefix)
	fmt.Println("use \"mdpilot status\" to follow the run")
	return nil
}

func printStages(rep *pipeline.RunReport) {
	for _, st := range rep.Stages {
		mark := "ok"
		if st.Status == "fail" {
			mark = "FAIL"
		}
		if st.Detail != "" && st.Status == "pass" {
			fmt.Printf("  %-10s %s (%s)\n", st.Name, mark, st.Detail)
		} else {
			fmt.Printf("  %-10s %s\n", st.Name, mark)
		}
	}
}

// multiFlag collects repeated string flag values.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

// --- status ---

func statusMain(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	dirFlag := fs.String("dir", ".", "session working directory")
	_ = fs.Parse(args)

	// The launching process may be long gone; rebuild a session over
	// the directory and let the monitor reconcile from the on-disk
	// log and metadata.
	cfg, err := config.Load(*dirFlag)
	if err != nil {
		return err
	}
	store := session.NewStore()
	s, err := store.Create(*dirFlag, "", cfg)
	if err != nil {
		return err
	}

	mon := &monitor.Monitor{Store: store}
	rep := mon.Status(s)

	fmt.Printf("status: %s\n", rep.Status)
	if rep.PID != 0 {
		fmt.Printf("pid: %d\n", rep.PID)
	}
	if rep.ExitCode != nil {
		fmt.Printf("exit code: %d\n", *rep.ExitCode)
	}

	meta := store.ReadMeta(s)
	prefix := meta.OutputPrefix
	if prefix == "" {
		prefix = pipeline.OutputPrefix
	}
	if p, ok := mdlog.Scan(filepath.Join(s.WorkDir, prefix+".log"), 0); ok {
		fmt.Printf("step: %d", p.Step)
		if meta.ExpectedSteps > 0 {
			fmt.Printf(" / %d", meta.ExpectedSteps)
		}
		fmt.Printf("  (%.2f ps", p.TimePS)
		if p.NsPerDay > 0 {
			fmt.Printf(", %.2f ns/day", p.NsPerDay)
		}
		fmt.Println(")")
	}
	return nil
}

// --- stop ---

func stopMain(args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	dirFlag := fs.String("dir", ".", "session working directory")
	graceFlag := fs.Duration("grace", config.DefaultGracePeriod, "delay before escalating to a forceful kill")
	_ = fs.Parse(args)

	msg, err := stopProduction(*dirFlag, *graceFlag)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

// stopProduction signals the recorded production PID: SIGTERM, a
// bounded wait for the process to leave, then SIGKILL only if it is
// still there. The terminal status is then reconciled from the run
// log, so a run that reached its final step before dying is recorded
// as finished rather than failed.
func stopProduction(dir string, grace time.Duration) (string, error) {
	// No live handle from here; signal the recorded PID directly.
	meta := session.ReadMetaDir(dir)
	if meta.RunStatus != session.Running || meta.PID == 0 {
		return "nothing is running", nil
	}
	proc, err := os.FindProcess(meta.PID)
	if err != nil {
		return "nothing is running", nil
	}

	if proc.Signal(syscall.SIGTERM) == nil {
		alive := true
		deadline := time.Now().Add(grace)
		for time.Now().Before(deadline) {
			if proc.Signal(syscall.Signal(0)) != nil {
				alive = false
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
		if alive {
			_ = proc.Kill()
		}
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return "", err
	}
	store := session.NewStore()
	s, err := store.Create(dir, "", cfg)
	if err != nil {
		return "", err
	}
	mon := &monitor.Monitor{Store: store}
	if rep := mon.Status(s); !rep.Status.Terminal() {
		code := -1
		if err := store.SetStatus(s, session.Failed, &code); err != nil {
			return "", err
		}
	}
	return "stopped", nil
}
