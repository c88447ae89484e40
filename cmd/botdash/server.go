package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/botdash/internal/api"
	"github.com/kalambet/botdash/internal/backend"
	"github.com/kalambet/botdash/internal/config"
	"github.com/kalambet/botdash/internal/notify"
	"github.com/kalambet/botdash/internal/session"
	"github.com/kalambet/botdash/internal/shell"
	"github.com/kalambet/botdash/internal/storage"
	"github.com/kalambet/botdash/internal/transcript"
	"github.com/kalambet/botdash/internal/usage"
	"github.com/kalambet/botdash/internal/video"
)

const (
	pruneInterval = time.Hour
	changeLogTTL  = 24 * time.Hour
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run or control the local agent",
}

var agentStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the agent (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runAgent(withMCP)
	},
}

var agentStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopAgent()
	},
}

var agentStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	agentStartCmd.Flags().Bool("mcp", false, "also serve MCP over stdin/stdout")
	agentCmd.AddCommand(agentStartCmd)
	agentCmd.AddCommand(agentStopCmd)
	agentCmd.AddCommand(agentStatusCmd)
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "botdash.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// agent is everything the daemon runs, built over one store.
type agent struct {
	store    *storage.Store
	sessHdl  *storage.Handle
	sessions *session.Store
	client   *backend.Client
	poller   *notify.Poller
	syncer   *usage.Synchronizer
	videos   *video.Manager
	shell    *shell.Shell
	producer *storage.Handle
}

// newAgent wires the state owners. Each one gets its own store handle so
// that changes made by one are seen by the watchers of the others.
func newAgent(cfg config.Config, store *storage.Store) *agent {
	a := &agent{store: store, sessHdl: store.NewHandle(), producer: store.NewHandle()}
	a.sessions = session.NewStore(a.sessHdl, session.NavigatorFunc(func() {
		slog.Info("session ended; run `botdash login` to sign in again")
	}))
	a.client = backend.New(cfg.Backend.BaseURL, a.sessions)
	a.poller = notify.NewPoller(a.client, cfg.PollInterval())
	a.syncer = usage.NewSynchronizer(store.NewHandle(), a.client, cfg.WatchInterval())
	a.videos = video.NewManager(store.NewHandle(), videoLookup(cfg, a.client), a.client, cfg.Video.PageSize)
	a.shell = shell.New(a.sessions, a.poller, a.syncer)
	return a
}

// onChange applies a change written by another context to the in-process
// state that mirrors it.
func (a *agent) onChange(c storage.Change) {
	switch c.Key {
	case session.Key:
		sess := a.sessions.Reload()
		slog.Info("session changed elsewhere", "signed_in", !sess.IsGuest(), "role", sess.Role)
	case video.CandidatesKey, video.SelectedKey, video.InputKey:
		a.videos.Reload()
	}
}

// pruneLoop trims the change log until ctx is done.
func pruneLoop(ctx context.Context, store *storage.Store) error {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := store.PruneChanges(time.Now().Add(-changeLogTTL))
			if err != nil {
				slog.Warn("pruning change log failed", "error", err)
				continue
			}
			slog.Debug("pruned change log", "rows", n)
		}
	}
}

func runAgent(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "botdash version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	token := cfg.Agent.Token
	if token == "" {
		if token, err = config.EnsureAgentToken(); err != nil {
			return fmt.Errorf("initializing agent token: %w", err)
		}
	}
	slog.Info("agent bearer token available")

	// Refuse to start twice.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Agent.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("botdash agent is already running (PID %d)", pid)
			return fmt.Errorf("agent already running (PID %d)", pid)
		}
		printWarning("botdash agent is already running on port %d", cfg.Agent.Port)
		return fmt.Errorf("agent already running on port %d", cfg.Agent.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	a := newAgent(cfg, store)
	watcher, err := a.sessHdl.Watcher()
	if err != nil {
		return fmt.Errorf("watching storage: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Refetch everything when someone signs in.
	refresh := make(chan struct{}, 1)
	poke := func() {
		select {
		case refresh <- struct{}{}:
		default:
		}
	}
	unsub := a.sessions.Subscribe(func(sess session.Session) {
		if !sess.IsGuest() {
			poke()
		}
	})
	defer unsub()
	if !a.sessions.Read().IsGuest() {
		poke()
	}

	if err := a.poller.Start(gCtx); err != nil {
		return err
	}
	defer a.poller.Stop()
	if err := a.syncer.Start(gCtx); err != nil {
		return err
	}
	defer a.syncer.Stop()

	g.Go(func() error {
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-refresh:
				if err := a.shell.Refresh(gCtx); err != nil && gCtx.Err() == nil {
					slog.Warn("refreshing dashboard failed", "error", err)
				}
			}
		}
	})
	g.Go(func() error {
		watcher.Run(gCtx, cfg.WatchInterval(), a.onChange)
		return nil
	})
	g.Go(func() error {
		return pruneLoop(gCtx, store)
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Agent.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewAgentHandler(api.AgentDeps{
			Sessions: a.sessions,
			Poller:   a.poller,
			Usage:    a.syncer,
			Videos:   a.videos,
			Shell:    a.shell,
			Producer: a.producer,
			Token:    token,
		}),
	}
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "botdash agent listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Sessions:    a.sessions,
			Poller:      a.poller,
			Usage:       a.syncer,
			Transcripts: transcript.NewService(a.client),
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gCtx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}

func stopAgent() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("botdash agent is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop botdash agent (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to botdash agent (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}
	printStatus("Backend", "%s", cfg.Backend.BaseURL)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)

	c, err := newAPIClient()
	if err != nil {
		printStatus("Agent", "unknown (%v)", err)
		return nil
	}

	resp, err := c.get(ctx, "/health")
	if err != nil {
		printStatus("Agent", "stopped")
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Agent", "error (HTTP %d)", resp.StatusCode)
		return nil
	}
	printStatus("Agent", "running on port %d", cfg.Agent.Port)

	resp, err = c.get(ctx, "/view")
	if err != nil {
		return nil
	}
	var v shell.View
	if err := decodeJSON(resp, &v); err != nil {
		printWarning("could not read agent view: %v", err)
		return nil
	}
	renderView(v)
	return nil
}
