package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/Ashfaaq98/helium-console/internal/api"
	"github.com/Ashfaaq98/helium-console/internal/bus"
	"github.com/Ashfaaq98/helium-console/internal/caseview"
	"github.com/Ashfaaq98/helium-console/internal/helium"
	"github.com/Ashfaaq98/helium-console/internal/metrics"
	"github.com/Ashfaaq98/helium-console/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var (
	watchSource      string
	watchPublish     bool
	watchMetricsAddr string
	watchRetention   time.Duration
	watchNoRecord    bool
)

// watchCmd follows a case without the TUI
var watchCmd = &cobra.Command{
	Use:   "watch <case>",
	Short: "Follow a case headless and log its events",
	Long: `Follow the event stream of a case without the terminal UI.

Every event is printed, applied to a local view of the case and appended to
the activity log. With --publish the raw events are relayed on Redis Streams
so other consoles can follow the case with 'view --source redis'.

Examples:
  # Print events and record them in the activity log
  helium-console watch 0b6a8b0e-...

  # Relay events on Redis and expose Prometheus metrics
  helium-console watch 0b6a8b0e-... --publish --redis redis://localhost:6379 --metrics-addr :9090`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchSource, "source", "api", "Event source: api (server stream) or redis (relay)")
	watchCmd.Flags().BoolVar(&watchPublish, "publish", false, "Relay raw events on Redis Streams")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	watchCmd.Flags().DurationVar(&watchRetention, "retention", 30*24*time.Hour, "Prune activity entries older than this at startup (0 keeps everything)")
	watchCmd.Flags().BoolVar(&watchNoRecord, "no-record", false, "Do not write events to the activity log")
}

// activityRecorder is the part of the store used by the watcher.
type activityRecorder interface {
	RecordActivity(ctx context.Context, a store.Activity) (string, error)
}

// publisher is the part of the bus used by the watcher.
type publisher interface {
	PublishCaseEvent(ctx context.Context, msg bus.CaseEventMessage) error
}

// watchNotifier prints updates, records stream events and relays them.
type watchNotifier struct {
	ctx      context.Context
	out      io.Writer
	logger   *log.Logger
	activity activityRecorder
	relay    publisher

	mu     sync.Mutex
	left   bool
	reason caseview.Toast
	leave  chan struct{}
}

func newWatchNotifier(ctx context.Context, out io.Writer, logger *log.Logger, activity activityRecorder, relay publisher) *watchNotifier {
	return &watchNotifier{
		ctx:      ctx,
		out:      out,
		logger:   logger,
		activity: activity,
		relay:    relay,
		leave:    make(chan struct{}),
	}
}

// Notify implements caseview.Notifier.
func (w *watchNotifier) Notify(u caseview.Update) {
	if u.Event != nil {
		caseGUID := u.State.Case.GUID
		subject := u.Event.SubjectGUID()
		fmt.Fprintf(w.out, "%s %-24s %s\n", u.Received.Format("15:04:05"), u.Event.Category, subject)

		if w.activity != nil {
			a := store.Activity{
				CaseGUID:  caseGUID,
				Category:  u.Event.Category,
				Actor:     "stream",
				Summary:   describeEvent(u),
				Timestamp: u.Received,
			}
			if subject != "" {
				a.Details = map[string]interface{}{"subject": subject}
			}
			if _, err := w.activity.RecordActivity(w.ctx, a); err != nil {
				w.logger.Printf("failed to record %s event: %v", u.Event.Category, err)
			}
		}
		if w.relay != nil && len(u.Raw) > 0 {
			msg := bus.CaseEventMessage{
				CaseGUID:  caseGUID,
				Category:  u.Event.Category,
				RawJSON:   string(u.Raw),
				Timestamp: u.Received.UnixMilli(),
			}
			if err := w.relay.PublishCaseEvent(w.ctx, msg); err != nil {
				w.logger.Printf("failed to relay %s event: %v", u.Event.Category, err)
			}
		}
	}

	for _, e := range u.Effects {
		switch e.Kind {
		case caseview.EffectToast:
			fmt.Fprintf(w.out, "[%s] %s: %s\n", e.Toast.Severity, e.Toast.Summary, e.Toast.Detail)
			w.mu.Lock()
			if !w.left {
				w.reason = e.Toast
			}
			w.mu.Unlock()
		case caseview.EffectNavigateAway:
			w.mu.Lock()
			if !w.left {
				w.left = true
				close(w.leave)
			}
			w.mu.Unlock()
		}
	}
}

// Left is closed when the view asked to be left.
func (w *watchNotifier) Left() <-chan struct{} {
	return w.leave
}

func (w *watchNotifier) Reason() caseview.Toast {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reason
}

// describeEvent summarizes an event against the state it produced.
func describeEvent(u caseview.Update) string {
	st := u.State
	ev := u.Event
	subject := ev.SubjectGUID()
	switch {
	case ev.Category == helium.CategoryUpdateCase:
		return fmt.Sprintf("case %q updated", st.Case.Name)
	case ev.Category == helium.CategoryDeleteCase:
		return fmt.Sprintf("case %q deleted", st.Case.Name)
	case ev.Category == helium.CategorySubscribers:
		return fmt.Sprintf("%d active users", len(st.ActiveUsers))
	case subject != "":
		return ev.Category + " " + subject
	default:
		return ev.Category
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()
	logger := newLogger(cfg, "watch")
	out := cmd.OutOrStdout()

	if watchSource != "api" && watchSource != "redis" {
		return fmt.Errorf("unknown event source %q (use 'api' or 'redis')", watchSource)
	}
	if watchPublish && watchSource == "redis" {
		return errors.New("--publish cannot be combined with --source redis")
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if watchRetention > 0 {
		if n, err := st.PruneActivity(ctx, time.Now().Add(-watchRetention)); err != nil {
			logger.Printf("failed to prune activity: %v", err)
		} else if n > 0 {
			logger.Printf("Pruned %d activity entries", n)
		}
	}

	var (
		collector *metrics.Collector
		observer  api.Observer
	)
	if watchMetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector = metrics.NewCollector(reg)
		observer = collector

		srv := &http.Server{
			Addr:              watchMetricsAddr,
			Handler:           metrics.SetupMetricsRoute(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("metrics server failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Printf("Serving metrics on %s/metrics", watchMetricsAddr)
	}

	client, err := newClient(cfg, newDebugLogger(cfg, "api"), observer)
	if err != nil {
		return err
	}

	var relay bus.Bus
	if watchPublish || watchSource == "redis" {
		if cfg.Redis.URL == "" {
			return errors.New("a Redis URL is required (--redis or redis.url)")
		}
		relay, err = bus.NewBus(cfg.Redis.URL, newLogger(cfg, "bus"))
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer relay.Close()
	}

	var activity activityRecorder
	if !watchNoRecord {
		activity = st
	}
	var pub publisher
	if watchPublish {
		pub = relay
	}
	notifier := newWatchNotifier(ctx, out, logger, activity, pub)

	opts := caseview.Options{
		Logger: newLogger(cfg, "caseview"),
		Visits: st,
	}
	if collector != nil {
		opts.Metrics = collector
	}
	if watchSource == "redis" {
		opts.Subscribe = relay.SubscribeCaseEvents
	}

	session, err := caseview.Open(ctx, client, args[0], notifier, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = session.Close()
		<-session.Done()
	}()

	if err := waitSeeded(ctx, session); err == nil {
		s := session.State()
		fmt.Fprintf(out, "Watching case %s (%s): %d collectors, %d collections\n",
			s.Case.Name, s.Case.GUID, len(s.Collectors), len(s.Collections))
	}

	select {
	case <-ctx.Done():
		return nil
	case <-notifier.Left():
		if session.State().Deleted {
			fmt.Fprintln(out, "Case deleted, stopping.")
			return nil
		}
		reason := notifier.Reason()
		return fmt.Errorf("left case %s: %s: %s", args[0], reason.Summary, reason.Detail)
	case <-session.Done():
		if session.State().Deleted {
			fmt.Fprintln(out, "Case deleted, stopping.")
		}
		return nil
	}
}
