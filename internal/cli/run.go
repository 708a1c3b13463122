package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qepting91/redditbot/internal/bot"
	"github.com/qepting91/redditbot/internal/collector"
	"github.com/qepting91/redditbot/internal/config"
	"github.com/qepting91/redditbot/internal/dashboard"
	"github.com/qepting91/redditbot/internal/domain"
	"github.com/qepting91/redditbot/internal/handlers"
	"github.com/qepting91/redditbot/internal/ingest"
	"github.com/qepting91/redditbot/internal/storage"
	"github.com/qepting91/redditbot/internal/store"
)

// reply keys are pruned at most this often
const replyPruneEvery = time.Hour

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect and poll until stopped",
	RunE:  runAction,
}

func init() {
	f := runCmd.Flags()
	f.String("mode", "", "collector mode: api, public or mock (default COLLECTOR_MODE)")
	f.StringSlice("subreddits", nil, "subreddits to poll, added to the targets file")
	f.Duration("interval", 0, "minimum round length (default BOT_INTERVAL)")
	f.Int("limit", 0, "items fetched per feed and round (default BOT_NEW_LIMIT)")
	f.Bool("dashboard", true, "serve the archive charts while running")
}

func runAction(cmd *cobra.Command, _ []string) error {
	// 1. Setup
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)
	ctx := cmd.Context()

	// 2. Load Inputs
	in, err := loadInputs(cfg)
	if err != nil {
		return err
	}
	cfg.Subreddits = in.subreddits
	cfg.Blacklist = in.blacklist
	if len(cfg.Subreddits) == 0 {
		return fmt.Errorf("no subreddits: set SUBREDDITS or fill %s", cfg.TargetsFile)
	}

	// 3. Open Stores
	seen, err := store.OpenSeen(cfg.SeenDB)
	if err != nil {
		return fmt.Errorf("seen store: %w", err)
	}
	replies, err := store.OpenReplies(cfg.ReplyDB)
	if err != nil {
		seen.Close()
		return fmt.Errorf("reply store: %w", err)
	}
	defer replies.Close()

	// 4. Archive Writer
	archive := make(chan domain.Record, 100)
	var writerWg sync.WaitGroup
	writer := &storage.WriterService{FilePath: cfg.Archive, Logger: logger}
	writerWg.Add(1)
	go writer.Start(&writerWg, archive)
	defer func() {
		close(archive)
		writerWg.Wait()
	}()

	// 5. Run Dashboard
	if on, _ := cmd.Flags().GetBool("dashboard"); on {
		go func() {
			logger.Info("Starting Dashboard", "port", cfg.Port)
			if err := dashboard.StartServer(cfg.Archive, cfg.Port); err != nil {
				logger.Error("Dashboard failed", "err", err)
			}
		}()
	}

	// 6. Initialize Connector (Using Factory)
	dialer, err := collector.NewDialer(cfg.Mode, cfg.Primary.UserAgent)
	if err != nil {
		seen.Close()
		return err
	}
	shutdown := bot.NewShutdown(cfg.Sentinel)
	connector := bot.NewConnector(dialer, cfg.Primary, cfg.Scopes, shutdown, logger)
	if !cfg.Fallback.Empty() {
		connector.WithFallback(cfg.Fallback, notifyAdmin(cfg.Admin))
	}
	logger.Info("Collector initialized", "mode", cfg.Mode, "subreddits", len(cfg.Subreddits), "keywords", len(in.keywords))

	// 7. Register Listeners
	b := bot.New(cfg.BotConfig(), connector, seen, shutdown, logger)
	h := &handlers.Handlers{
		Keywords: in.keywords,
		MinScore: in.minScore,
		Archive:  archive,
		Replies:  replies,
		Cooldown: b.Cooldown(),
		Admin:    cfg.Admin,
		Logger:   logger,
	}
	b.WithSubmissionListener(h.Submission).
		WithCommentListener(h.Comment)
	if cfg.Mode != "public" {
		b.WithMentionListener(h.Mention).WithPMListener(h.PM)
	}

	// 8. Graceful Shutdown
	stop := shutdown.Watch(logger, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 9. Poll
	err = b.Run(ctx, pruneReplies(replies, logger))
	switch {
	case err == nil:
		logger.Info("Bot stopped", "state", b.State().String())
		return nil
	case errors.Is(err, bot.ErrFailLimit):
		return fmt.Errorf("giving up after %d failed rounds: %w", b.Round().Failures, err)
	default:
		return err
	}
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if v, _ := f.GetString("mode"); v != "" {
		cfg.Mode = v
	}
	if v, _ := f.GetStringSlice("subreddits"); len(v) > 0 {
		cfg.Subreddits = append(cfg.Subreddits, v...)
	}
	if v, _ := f.GetDuration("interval"); v > 0 {
		cfg.Interval = v
	}
	if v, _ := f.GetInt("limit"); v > 0 {
		cfg.NewLimit = v
	}
}

type inputs struct {
	subreddits []string
	minScore   map[string]int
	keywords   []string
	blacklist  []string
}

// loadInputs merges the CSV inputs with the environment lists. Missing
// files are treated as empty.
func loadInputs(cfg config.Config) (inputs, error) {
	in := inputs{minScore: map[string]int{}}

	targets, err := ingest.LoadTargets(cfg.TargetsFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return in, fmt.Errorf("targets: %w", err)
	}
	for _, t := range targets {
		if t.MinScore > 0 {
			in.minScore[strings.ToLower(t.Subreddit)] = t.MinScore
		}
	}
	in.subreddits = dedupe(append(slices.Clone(cfg.Subreddits), ingest.Subreddits(targets)...))

	in.keywords, err = ingest.LoadKeywords(cfg.KeywordsFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return in, fmt.Errorf("keywords: %w", err)
	}

	blacklist, err := ingest.LoadBlacklist(cfg.BlacklistFile)
	if err != nil {
		return in, fmt.Errorf("blacklist: %w", err)
	}
	in.blacklist = dedupe(append(slices.Clone(cfg.Blacklist), blacklist...))
	return in, nil
}

// dedupe drops case-insensitive repeats, keeping the first spelling
func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, n := range names {
		k := strings.ToLower(n)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, n)
	}
	return out
}

func notifyAdmin(admin string) bot.Notifier {
	return func(ctx context.Context, conn *bot.Connection, subject, text string) error {
		if admin == "" {
			return nil
		}
		return conn.Session.SendMessage(ctx, admin, subject, text)
	}
}

func pruneReplies(replies *store.ReplyStore, logger *slog.Logger) bot.PostRoundHook {
	var last time.Time
	return func(ctx context.Context) error {
		if time.Since(last) < replyPruneEvery {
			return nil
		}
		if err := replies.Prune(ctx, config.DefaultReplyRetain); err != nil {
			return fmt.Errorf("prune replies: %w", err)
		}
		last = time.Now()
		logger.Debug("pruned reply keys", "older_than", config.DefaultReplyRetain.String())
		return nil
	}
}
