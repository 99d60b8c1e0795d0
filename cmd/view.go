package cmd

import (
	"errors"
	"fmt"

	"github.com/Ashfaaq98/helium-console/internal/bus"
	"github.com/Ashfaaq98/helium-console/internal/caseview"
	"github.com/Ashfaaq98/helium-console/internal/ui"
	"github.com/spf13/cobra"
)

var (
	viewSource      string
	viewTheme       string
	viewDownloadDir string
)

// viewCmd opens the live case view
var viewCmd = &cobra.Command{
	Use:   "view <case>",
	Short: "Open the live view of a case",
	Long: `Open the terminal view of a Helium case.

The view follows the case event stream: collectors, collections, analyses,
active users and case metadata change as other users act on the case.

Examples:
  # Follow a case through the server event stream
  helium-console view 0b6a8b0e-...

  # Follow events relayed on Redis by a 'watch --publish' instance
  helium-console view 0b6a8b0e-... --source redis --redis redis://localhost:6379`,
	Args: cobra.ExactArgs(1),
	RunE: runView,
}

func init() {
	rootCmd.AddCommand(viewCmd)

	viewCmd.Flags().StringVar(&viewSource, "source", "api", "Event source: api (server stream) or redis (relay)")
	viewCmd.Flags().StringVar(&viewTheme, "theme", "", "Color theme: dark, light or high-contrast (default follows dark mode)")
	viewCmd.Flags().StringVar(&viewDownloadDir, "download-dir", ".", "Directory where downloads are saved")
}

func runView(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()

	if !canInitializeTUI() {
		return fmt.Errorf("terminal cannot run the case view (%s); use 'watch' or 'show' instead", getTerminalInfo())
	}

	logFile := setupFileLogger(cfg, "helium-console-view.log")
	if logFile != nil {
		defer logFile.Close()
	}
	logger := tuiLogger(cfg, "view", logFile)
	logger.Printf("Terminal: %s", getTerminalInfo())

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := newClient(cfg, tuiLogger(cfg, "api", logFile), nil)
	if err != nil {
		return err
	}

	opts := caseview.Options{
		Logger: tuiLogger(cfg, "caseview", logFile),
		Visits: st,
	}
	switch viewSource {
	case "api":
	case "redis":
		if cfg.Redis.URL == "" {
			return errors.New("--source redis needs a Redis URL (--redis or redis.url)")
		}
		b, err := bus.NewBus(cfg.Redis.URL, tuiLogger(cfg, "bus", logFile))
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer b.Close()
		opts.Subscribe = b.SubscribeCaseEvents
	default:
		return fmt.Errorf("unknown event source %q (use 'api' or 'redis')", viewSource)
	}

	theme := viewTheme
	if theme == "" {
		theme = cfg.UI.Theme
	}
	screen := ui.New(ctx, ui.Options{
		Logger:      logger,
		Preferences: st,
		Theme:       theme,
		Banner:      cfg.UI.Banner,
		DownloadDir: viewDownloadDir,
	})

	session, err := caseview.Open(ctx, client, args[0], screen, opts)
	if err != nil {
		screen.Stop()
		return err
	}
	screen.Attach(session)

	runErr := screen.Run()
	_ = session.Close()
	<-session.Done()

	if left, reason := screen.NavigatedAway(); left {
		if reason.Summary != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", reason.Summary, reason.Detail)
		}
		return fmt.Errorf("left case %s", args[0])
	}
	return runErr
}
