package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qepting91/redditbot/internal/config"
	"github.com/qepting91/redditbot/internal/store"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop seen ids and reply keys past their retention",
	RunE:  pruneAction,
}

func init() {
	pruneCmd.Flags().Duration("older-than", 0, "seen retention (default BOT_SEEN_RETENTION)")
}

func pruneAction(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	retention := cfg.Retention
	if d, _ := cmd.Flags().GetDuration("older-than"); d > 0 {
		retention = d
	}
	ctx := cmd.Context()

	seen, err := store.OpenSeen(cfg.SeenDB)
	if err != nil {
		return err
	}
	defer seen.Close()

	removed, err := seen.Cleanup(ctx, retention)
	if err != nil {
		return fmt.Errorf("prune seen: %w", err)
	}
	left, err := seen.Count(ctx)
	if err != nil {
		return err
	}

	replies, err := store.OpenReplies(cfg.ReplyDB)
	if err != nil {
		return err
	}
	defer replies.Close()
	if err := replies.Prune(ctx, config.DefaultReplyRetain); err != nil {
		return fmt.Errorf("prune replies: %w", err)
	}

	logger.Info("pruned", "seen_removed", removed, "seen_left", left, "retention", retention.String())
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d seen ids older than %s, %d left\n", removed, retention.Round(time.Second), left)
	return nil
}
