// Package main provides the posturectl command line entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/posturectl/internal/backend"
	"codeberg.org/mutker/posturectl/internal/config"
	"codeberg.org/mutker/posturectl/internal/dashboard"
	"codeberg.org/mutker/posturectl/internal/errors"
	"codeberg.org/mutker/posturectl/internal/journal"
	"codeberg.org/mutker/posturectl/internal/logger"
	"codeberg.org/mutker/posturectl/internal/monitor"
	"codeberg.org/mutker/posturectl/internal/pid"
	"codeberg.org/mutker/posturectl/internal/session"
	"codeberg.org/mutker/posturectl/internal/stats"
	"codeberg.org/mutker/posturectl/internal/stream"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	defaultWidth       = 100
	defaultListLimit   = 20
	metricsReadTimeout = 5 * time.Second
	shutdownTimeout    = 5 * time.Second
)

// cli holds the components shared by all subcommands.
type cli struct {
	cfg     *config.Config
	log     logger.Logger
	client  *backend.Client
	journal journal.Recorder
	stats   *stats.Service
	monitor *monitor.Monitor

	saveFrame   string
	noDashboard bool
	listLimit   int
}

func main() {
	c := &cli{}
	rootCmd := newRootCmd(c)
	err := rootCmd.Execute()
	c.close()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "posturectl",
		Short:             "Baseball posture analysis session controller",
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newHealthCmd(c))
	rootCmd.AddCommand(newSessionCmd(c, &cobra.Command{
		Use:   "upload <video>",
		Short: "Upload a video and stream its analysis",
		Args:  cobra.ExactArgs(1),
	}, func(ctx context.Context, ctrl *session.Controller, args []string) error {
		return ctrl.StartUpload(ctx, args[0])
	}))
	rootCmd.AddCommand(newSessionCmd(c, &cobra.Command{
		Use:   "camera",
		Short: "Stream a live camera analysis",
		Args:  cobra.NoArgs,
	}, func(ctx context.Context, ctrl *session.Controller, _ []string) error {
		return ctrl.StartCamera(ctx)
	}))
	rootCmd.AddCommand(newSessionCmd(c, &cobra.Command{
		Use:   "demo",
		Short: "Run a bounded synthetic session without the backend",
		Args:  cobra.NoArgs,
	}, func(ctx context.Context, ctrl *session.Controller, _ []string) error {
		return ctrl.StartDemo(ctx)
	}))
	rootCmd.AddCommand(newStatsCmd(c))
	rootCmd.AddCommand(newHistoryCmd(c))
	rootCmd.AddCommand(newJournalCmd(c))

	return rootCmd
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.WithFlags(cmd.Flags()))
	if err != nil {
		return err
	}
	c.cfg = cfg

	logger.Init(logger.Options{
		Level:     cfg.Log.Level,
		File:      cfg.Log.File,
		IsService: logger.IsService(),
	})
	c.log = logger.Default()
	c.log.Debug().Str("backend", cfg.Backend.URL).Msg("Config loaded")

	c.client = backend.New(cfg.Backend, c.log)
	c.monitor = monitor.New()

	c.journal, err = journal.NewService(journal.Config{
		DBPath:       cfg.Journal.Path,
		BatchSize:    cfg.Journal.BatchSize,
		BatchTimeout: cfg.Journal.BatchTimeout,
		Enabled:      cfg.Journal.Enabled,
	}, c.log)
	if err != nil {
		return err
	}

	c.stats = stats.New(c.client, c.log, stats.WithJournal(c.journal))
	return nil
}

func (c *cli) close() {
	if c.journal == nil {
		return
	}
	if err := c.journal.Close(); err != nil {
		c.log.Error().Err(err).Msg("Failed to close journal")
	}
}

func newHealthCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check whether the analysis backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !c.client.Healthy(cmd.Context()) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s unreachable\n", c.cfg.Backend.URL)
				return errors.New().WithData(errors.ErrBackendUnreachable, c.cfg.Backend.URL)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s reachable\n", c.cfg.Backend.URL)
			return nil
		},
	}
}

func newStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate analytics from the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.stats.Refresh(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dashboard.Stats(c.stats.Stats()))
			return nil
		},
	}
}

func newHistoryCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show analysed sessions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.stats.Refresh(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dashboard.History(c.stats.History(), c.listLimit))
			return nil
		},
	}
	cmd.Flags().IntVar(&c.listLimit, "limit", defaultListLimit, "maximum number of records to show")
	return cmd
}

func newJournalCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show sessions recorded in the local journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !c.journal.IsEnabled() {
				fmt.Fprintln(cmd.OutOrStdout(), "Journal is disabled, enable it with --journal")
				return nil
			}
			entries, err := c.journal.Recent(cmd.Context(), c.listLimit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dashboard.Journal(entries))
			return nil
		},
	}
	cmd.Flags().IntVar(&c.listLimit, "limit", defaultListLimit, "maximum number of entries to show")
	return cmd
}

type startFunc func(ctx context.Context, ctrl *session.Controller, args []string) error

func newSessionCmd(c *cli, cmd *cobra.Command, start startFunc) *cobra.Command {
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.runSession(cmd.Context(), start, args)
	}
	cmd.Flags().StringVar(&c.saveFrame, "save-frame", "", "write the last frame to this JPEG file on exit")
	cmd.Flags().BoolVar(&c.noDashboard, "no-dashboard", false, "log state changes instead of drawing the scorecard")
	return cmd
}

func (c *cli) runSession(parent context.Context, start startFunc, args []string) error {
	pidFile := pid.New("")
	if err := pidFile.Write(); err != nil {
		return err
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			c.log.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go handleSignals(ctx, cancel)

	if c.cfg.Metrics.Addr != "" {
		stop := c.serveMetrics()
		defer stop()
	}

	dialer, err := stream.NewWebSocketDialer(c.cfg.Backend.WebSocketURL(), c.cfg.Backend.Protocol, c.log)
	if err != nil {
		return err
	}

	ctrl := session.New(c.cfg.Session, c.client, dialer, c.log,
		session.WithPersister(c.stats),
		session.WithMonitor(c.monitor),
		session.WithCamera(session.DeviceCamera{Path: c.cfg.Camera.Device}),
		session.WithStartIntent(c.cfg.Backend.StartIntent),
	)

	// Aggregates are shown before the first session, as on load.
	_ = c.stats.Refresh(ctx)

	if err := start(ctx, ctrl, args); err != nil {
		ctrl.Close()
		return err
	}

	last := c.watch(ctx, ctrl)
	ctrl.Close()

	if c.saveFrame != "" && len(last.Frame) > 0 {
		if err := os.WriteFile(c.saveFrame, last.Frame, 0o600); err != nil {
			c.log.Warn().Err(err).Str("path", c.saveFrame).Msg("Failed to save frame")
		}
	}

	if last.Phase == session.PhaseCompleted {
		fmt.Println(dashboard.Stats(c.stats.Stats()))
	}
	logger.Info().Msg("Exiting...")
	return nil
}

// watch renders state updates until the session ends or ctx is cancelled,
// and returns the last state seen.
func (c *cli) watch(ctx context.Context, ctrl *session.Controller) session.State {
	width, interactive := terminalWidth()
	dash := dashboard.New(os.Stdout, c.cfg.Dashboard.RedrawRate, width, interactive)

	last := ctrl.State()
	for {
		select {
		case <-ctx.Done():
			return last
		case s := <-ctrl.Updates():
			last = s
			final := s.Phase == session.PhaseCompleted || s.Phase == session.PhaseIdle

			if c.noDashboard {
				logState(s)
			} else if _, err := dash.Draw(s, final || s.Phase == session.PhaseError); err != nil {
				c.log.Warn().Err(err).Msg("Failed to draw dashboard")
			}

			if final {
				return last
			}
		}
	}
}

func (c *cli) serveMetrics() func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.monitor.Handler())
	srv := &http.Server{
		Addr:              c.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadTimeout,
	}

	go func() {
		c.log.Info().Str("addr", srv.Addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			c.log.Warn().Err(err).Msg("Failed to stop metrics server")
		}
	}
}

func handleSignals(ctx context.Context, cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case <-sigs:
		logger.Info().Msg("Received termination signal.")
		cancel()
	case <-ctx.Done():
	}
}

func logState(s session.State) {
	ev := logger.Info().
		Str("session_id", s.SessionID).
		Stringer("phase", s.Phase).
		Str("source", string(s.Source)).
		Float64("overall_score", s.Snapshot.OverallScore)
	if s.Snapshot.Prediction != "" {
		ev = ev.Str("prediction", s.Snapshot.Prediction)
	}
	if s.Err != nil {
		ev = ev.Err(s.Err)
	}
	ev.Msg("Session state")
}

func terminalWidth() (int, bool) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return defaultWidth, false
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width <= 0 {
		return defaultWidth, true
	}
	return width, true
}
