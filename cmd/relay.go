package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/Ashfaaq98/helium-console/internal/bus"
	"github.com/Ashfaaq98/helium-console/internal/helium"
	"github.com/Ashfaaq98/helium-console/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	relayGroup    string
	relayConsumer string
	relayMaxLen   int64
)

// relayCmd groups the Redis relay tools
var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Inspect and archive case events relayed on Redis",
	Long: `Case events relayed by 'watch --publish' live in one Redis stream per case
(helium:case:<guid>:events). These commands archive them through a consumer
group, report stream statistics and trim streams.`,
}

var relayArchiveCmd = &cobra.Command{
	Use:   "archive <case>",
	Short: "Archive relayed events of a case into the activity log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := GetConfig()
		b, err := openRelay(cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		consumer := relayConsumer
		if consumer == "" {
			host, _ := os.Hostname()
			consumer = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Archiving events of %s as %s/%s (Ctrl-C to stop)\n", args[0], relayGroup, consumer)

		err = b.ReadCaseEvents(ctx, args[0], relayGroup, consumer, archiveHandler(st))
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

var relayStatsCmd = &cobra.Command{
	Use:   "stats <case>",
	Short: "Print the relay stream statistics of a case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := openRelay(GetConfig())
		if err != nil {
			return err
		}
		defer b.Close()

		if err := b.HealthCheck(ctx); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
		stats, err := b.GetStats(ctx, args[0])
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(stats))
		for k := range stats {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "%-16s %v\n", k+":", stats[k])
		}
		return nil
	},
}

var relayTrimCmd = &cobra.Command{
	Use:   "trim <case>",
	Short: "Trim the relay stream of a case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openRelay(GetConfig())
		if err != nil {
			return err
		}
		defer b.Close()

		rb, ok := b.(*bus.RedisBus)
		if !ok {
			return bus.ErrDisabled
		}
		if err := rb.CleanupOldMessages(cmd.Context(), args[0], relayMaxLen); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Trimmed %s to %d entries\n", bus.StreamKey(args[0]), relayMaxLen)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.AddCommand(relayArchiveCmd, relayStatsCmd, relayTrimCmd)

	relayArchiveCmd.Flags().StringVar(&relayGroup, "group", "helium-archive", "Consumer group name")
	relayArchiveCmd.Flags().StringVar(&relayConsumer, "consumer", "", "Consumer name (default: <hostname>-<random>)")
	relayTrimCmd.Flags().Int64Var(&relayMaxLen, "max-len", bus.DefaultMaxLen, "Number of entries to keep")
}

func openRelay(cfg Config) (bus.Bus, error) {
	if cfg.Redis.URL == "" {
		return nil, errors.New("a Redis URL is required (--redis or redis.url)")
	}
	b, err := bus.NewBus(cfg.Redis.URL, newDebugLogger(cfg, "bus"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return b, nil
}

// archiveHandler stores relayed events in the activity log. Undecodable
// messages are recorded with their category only.
func archiveHandler(activity activityRecorder) func(ctx context.Context, msg bus.CaseEventMessage) error {
	return func(ctx context.Context, msg bus.CaseEventMessage) error {
		a := store.Activity{
			CaseGUID: msg.CaseGUID,
			Category: msg.Category,
			Actor:    "relay",
			Summary:  msg.Category,
			Details:  map[string]interface{}{"stream_id": msg.ID},
		}
		if msg.Timestamp > 0 {
			a.Timestamp = time.UnixMilli(msg.Timestamp)
		}
		if ev, err := helium.ParseEvent([]byte(msg.RawJSON)); err == nil {
			a.Category = ev.Category
			if subject := ev.SubjectGUID(); subject != "" {
				a.Summary = ev.Category + " " + subject
				a.Details["subject"] = subject
			}
		} else {
			a.Details["decode_error"] = err.Error()
		}
		_, err := activity.RecordActivity(ctx, a)
		return err
	}
}
