// Package handlers holds the listeners the bot binary registers: keyword
// archiving for feeds, and answering or forwarding inbox items.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/qepting91/redditbot/internal/bot"
	"github.com/qepting91/redditbot/internal/domain"
)

// ReplyChecker is the duplicate-reply store
type ReplyChecker interface {
	Exists(ctx context.Context, parentID string, keys []string) (bool, error)
}

type Handlers struct {
	Keywords []string
	// per subreddit score threshold for archiving without a keyword hit
	MinScore map[string]int
	Archive  chan<- domain.Record
	Replies  ReplyChecker
	Cooldown *bot.Cooldown
	Admin    string
	Logger   *slog.Logger
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Match returns the configured keywords found in text, in keyword order.
func (h *Handlers) Match(text string) []string {
	lower := strings.ToLower(text)
	var hits []string
	for _, k := range h.Keywords {
		if strings.Contains(lower, k) && !slices.Contains(hits, k) {
			hits = append(hits, k)
		}
	}
	return hits
}

func (h *Handlers) Submission(ctx context.Context, _ *bot.Connection, item domain.Item) error {
	if item.Post == nil {
		return nil
	}
	text := item.Post.Title
	if item.Post.IsSelf {
		text += " " + item.Post.Body
	}
	hits := h.Match(text)

	threshold, ok := h.MinScore[strings.ToLower(item.Subreddit)]
	if len(hits) == 0 && (!ok || item.Post.Score < threshold) {
		return nil
	}
	return h.archive(ctx, item, item.Post.Title, item.Post.URL, hits)
}

func (h *Handlers) Comment(ctx context.Context, _ *bot.Connection, item domain.Item) error {
	if item.Comment == nil {
		return nil
	}
	hits := h.Match(item.Comment.Body)
	if len(hits) == 0 {
		return nil
	}
	return h.archive(ctx, item, item.Comment.PostTitle, item.Comment.Permalink, hits)
}

// Mention answers with the matched keywords unless the thread already
// got them. Mentions without keywords go to the admin.
func (h *Handlers) Mention(ctx context.Context, conn *bot.Connection, item domain.Item) error {
	if item.Comment == nil {
		return nil
	}
	hits := h.Match(item.Comment.Body)

	if len(hits) == 0 {
		if h.Admin == "" {
			return nil
		}
		h.logger().Debug("forwarded mention", "id", item.ID)
		subject := fmt.Sprintf("$%s /u/%s", item.ID, item.Author)
		// inbox listings do not always name the subreddit
		if item.Subreddit != "" {
			subject += " in /r/" + item.Subreddit
		}
		return conn.Session.SendMessage(ctx, h.Admin, subject, item.Comment.Body)
	}

	if h.Replies != nil {
		dup, err := h.Replies.Exists(ctx, item.Comment.ParentID, hits)
		if err != nil {
			return err
		}
		if dup {
			h.logger().Info("skipping duplicate mention", "id", item.ID, "parent", item.Comment.ParentID, "keywords", hits)
			return nil
		}
	}

	h.logger().Info("replying to mention", "id", item.ID, "author", item.Author, "keywords", hits)
	return conn.Session.Reply(ctx, item.ID, FormatAnswer(hits))
}

// PM forwards private messages to the admin, at most one per author per
// cooldown period. Distinguished senders skip the cooldown.
func (h *Handlers) PM(ctx context.Context, conn *bot.Connection, item domain.Item) error {
	if item.Message == nil || h.Admin == "" {
		return nil
	}
	if strings.EqualFold(item.Author, h.Admin) {
		return nil
	}

	msg := item.Message
	if item.Author != "" && msg.Distinguished == "" && h.Cooldown != nil && !h.Cooldown.Allow(item.Author) {
		h.logger().Debug("user is in recent msg list", "author", item.Author)
		return nil
	}

	from := "/u/" + item.Author
	if msg.Distinguished != "" {
		from += " [" + msg.Distinguished + "]"
	}
	h.logger().Debug("forwarded message", "id", item.ID)
	subject := fmt.Sprintf("#%s %s: %q", item.ID, from, msg.Subject)
	return conn.Session.SendMessage(ctx, h.Admin, subject, msg.Body)
}

func (h *Handlers) archive(ctx context.Context, item domain.Item, title, url string, hits []string) error {
	if h.Archive == nil {
		return nil
	}
	rec := domain.Record{
		ID:          item.ID,
		Kind:        item.Kind,
		Subreddit:   item.Subreddit,
		Author:      item.Author,
		Title:       title,
		URL:         url,
		CreatedUTC:  float64(item.CreatedAt.Unix()),
		KeywordsHit: hits,
	}
	select {
	case h.Archive <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FormatAnswer is the reply body for a mention
func FormatAnswer(keywords []string) string {
	var b strings.Builder
	b.WriteString("Tracked topics mentioned here:\n\n")
	for _, k := range keywords {
		fmt.Fprintf(&b, "* %s\n", k)
	}
	b.WriteString("\n^(I am a bot. Replies to this comment are not monitored.)")
	return b.String()
}
