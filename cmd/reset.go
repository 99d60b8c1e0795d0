package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
)

var (
	confirmReset bool
	resetRedis   bool
	resetDB      bool
	resetFiles   bool
)

// relayKeyPattern matches every key written by the event relay.
const relayKeyPattern = "helium:case:*"

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset local preferences, visited cases, activity and relayed events",
	Long: `Reset clears the local SQLite database (preferences, banner
acknowledgement, visited cases and activity log) and the case event streams
relayed on Redis.

By default both are reset. Use --redis-only or --db-only to pick one. Redis is
skipped when no Redis URL is configured. Only relay keys (helium:case:*) are
removed, other data in the Redis database is left alone.

WARNING: This operation is irreversible.

Examples:
  # Reset both (requires confirmation)
  helium-console reset

  # Reset with automatic confirmation
  helium-console reset --yes

  # Remove the database files instead of clearing their tables
  helium-console reset --db-only --files`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().BoolVarP(&confirmReset, "yes", "y", false, "Automatically confirm reset operation")
	resetCmd.Flags().BoolVar(&resetRedis, "redis-only", false, "Reset only relayed events on Redis")
	resetCmd.Flags().BoolVar(&resetDB, "db-only", false, "Reset only the local database")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Delete the database files instead of clearing the tables")
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()
	out := cmd.OutOrStdout()

	doRedis, doDB := resetRedis, resetDB
	if !doRedis && !doDB {
		doRedis, doDB = true, true
	}
	if doRedis && cfg.Redis.URL == "" {
		if resetRedis {
			return fmt.Errorf("no Redis URL configured (--redis or redis.url)")
		}
		doRedis = false
	}

	var targets []string
	if doRedis {
		targets = append(targets, "relayed events on Redis")
	}
	if doDB {
		targets = append(targets, "local database")
	}
	fmt.Fprintf(out, "This will permanently delete: %s\n", strings.Join(targets, " and "))

	if !confirmReset && !confirm(cmd.InOrStdin(), out, "Are you sure you want to continue?") {
		fmt.Fprintln(out, "Reset operation cancelled.")
		return nil
	}

	if doRedis {
		n, err := resetRedisData(ctx, cfg.Redis.URL)
		if err != nil {
			if !doDB {
				return fmt.Errorf("failed to reset Redis data: %w", err)
			}
			fmt.Fprintf(out, "Warning: Failed to reset Redis data: %v\n", err)
		} else {
			fmt.Fprintf(out, "✓ Removed %d relay stream(s)\n", n)
		}
	}

	if doDB {
		if err := resetDatabase(ctx, cfg, resetFiles); err != nil {
			return fmt.Errorf("failed to reset database: %w", err)
		}
		fmt.Fprintln(out, "✓ Database cleared successfully")
	}

	fmt.Fprintln(out, "Reset operation completed successfully!")
	return nil
}

// resetRedisData deletes the relay streams and returns how many were removed.
func resetRedisData(ctx context.Context, redisURL string) (int, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return 0, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	removed := 0
	iter := client.Scan(ctx, 0, relayKeyPattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("failed to delete %s: %w", iter.Val(), err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan Redis keys: %w", err)
	}
	return removed, nil
}

func resetDatabase(ctx context.Context, cfg Config, removeFiles bool) error {
	if !removeFiles {
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		return st.Reset(ctx)
	}

	dbPath := resolvePathRelativeToBase(getWorkingDir(), cfg.Database.Path)
	for _, file := range []string{dbPath, dbPath + "-shm", dbPath + "-wal"} {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := os.Remove(file); err != nil {
			return fmt.Errorf("failed to remove database file %s: %w", filepath.Base(file), err)
		}
	}
	return nil
}
