package handlers

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"bireport/internal/logger"
	"bireport/internal/store"

	"github.com/spf13/cobra"
)

// NewCacheCmd creates the cache management command
func NewCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the embedding cache",
		Long:  `Inspect and clear the SQLite store that persists document embeddings between runs.`,
	}

	cacheCmd.AddCommand(newCacheStatsCmd())
	cacheCmd.AddCommand(newCacheClearCmd())
	cacheCmd.AddCommand(newCacheCleanupCmd())

	return cacheCmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics and storage information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheStats(cmd.Context())
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the cache (removes all persisted embeddings)",
		Long:  `Remove every persisted embedding. The next run recomputes all of them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			confirm, _ := cmd.Flags().GetBool("confirm")
			return runCacheClear(cmd.Context(), confirm)
		},
	}

	clearCmd.Flags().Bool("confirm", false, "Skip confirmation prompt")
	return clearCmd
}

func newCacheCleanupCmd() *cobra.Command {
	var olderThan string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove embeddings older than a given age",
		Long: `Remove persisted embeddings older than --older-than, or cache.max_age
when the flag is not set.

Examples:
  bireport cache cleanup --older-than 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheCleanup(cmd.Context(), olderThan)
		},
	}

	cmd.Flags().StringVar(&olderThan, "older-than", "", "maximum embedding age, e.g. 720h (default from cache.max_age)")
	return cmd
}

func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.NewStore(cfg.Cache.Directory)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache store: %w", err)
	}
	return st, nil
}

func runCacheStats(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Failed to close cache store", err)
		}
	}()

	stats, err := st.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get cache statistics: %w", err)
	}

	fmt.Println(titleStyle.Render("Cache statistics"))
	printField(os.Stdout, "Database", st.Path())
	printField(os.Stdout, "Embeddings", stats.Embeddings)
	printField(os.Stdout, "Reports", stats.Reports)
	printField(os.Stdout, "Size", fmt.Sprintf("%.2f MB", float64(stats.SizeBytes)/(1024*1024)))
	if !stats.LastUpdated.IsZero() {
		printField(os.Stdout, "Last updated", stats.LastUpdated.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runCacheClear(ctx context.Context, confirm bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !confirm {
		fmt.Print("This removes every cached embedding. Continue? [y/N] ")
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Println("Cancelled")
			return nil
		}
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.ClearEmbeddings(ctx); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	fmt.Println(okStyle.Render("Cache cleared"))
	return nil
}

func runCacheCleanup(ctx context.Context, olderThan string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	maxAge, err := cleanupAge(olderThan, cfg.Cache.MaxAge)
	if err != nil {
		return err
	}

	st, err := store.NewStore(cfg.Cache.Directory)
	if err != nil {
		return fmt.Errorf("failed to initialize cache store: %w", err)
	}
	defer st.Close()

	removed, err := st.CleanupOldEmbeddings(ctx, maxAge)
	if err != nil {
		return err
	}
	fmt.Println(okStyle.Render(fmt.Sprintf("Removed %d embedding(s) older than %s", removed, maxAge)))
	return nil
}

// cleanupAge resolves the flag value, falling back to the configured age.
func cleanupAge(flag, configured string) (time.Duration, error) {
	value := flag
	if value == "" {
		value = configured
	}
	if value == "" {
		return 0, fmt.Errorf("no age given: pass --older-than or set cache.max_age")
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid age %q: %w", value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("age must be positive, got %s", d)
	}
	return d, nil
}
