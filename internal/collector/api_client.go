package collector

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/loganintech/go-reddit/v2/reddit"
	"github.com/qepting91/redditbot/internal/domain"
	"golang.org/x/time/rate"
)

const mentionSubject = "username mention"

// APIClient implements domain.Session on top of go-reddit
type APIClient struct {
	client  *reddit.Client
	limiter *rate.Limiter

	// last rate headers seen, used when an API error carries no reset time
	lastRate reddit.Rate
}

func NewAPIClient(creds domain.Credentials, opts ...reddit.Opt) (*APIClient, error) {
	rc := reddit.Credentials{ID: creds.ClientID, Secret: creds.ClientSecret, Username: creds.Username, Password: creds.Password}

	opts = append([]reddit.Opt{reddit.WithUserAgent(creds.UserAgent)}, opts...)
	client, err := reddit.NewClient(rc, opts...)
	if err != nil {
		return nil, err
	}

	// Rate Limit: 100 requests / min = ~1 request every 600ms
	limiter := rate.NewLimiter(rate.Every(600*time.Millisecond), 1)

	return &APIClient{client: client, limiter: limiter}, nil
}

func (ac *APIClient) wait(ctx context.Context) error {
	if err := ac.limiter.Wait(ctx); err != nil {
		return err
	}
	return nil
}

func (ac *APIClient) track(resp *reddit.Response) {
	if resp != nil && !resp.Rate.Reset.IsZero() {
		ac.lastRate = resp.Rate
	}
}

func (ac *APIClient) Me(ctx context.Context) (string, error) {
	if err := ac.wait(ctx); err != nil {
		return "", err
	}
	user, resp, err := ac.client.Account.Info(ctx)
	ac.track(resp)
	if err != nil {
		return "", translate(fmt.Errorf("account info: %w", err), ac.lastRate.Reset)
	}
	return user.Name, nil
}

func (ac *APIClient) NewSubmissions(ctx context.Context, feeds []string, limit int) ([]domain.Item, error) {
	if err := ac.wait(ctx); err != nil {
		return nil, err
	}

	posts, resp, err := ac.client.Subreddit.NewPosts(ctx, strings.Join(feeds, "+"), &reddit.ListOptions{Limit: limit})
	ac.track(resp)
	if err != nil {
		return nil, translate(fmt.Errorf("new posts: %w", err), ac.lastRate.Reset)
	}

	result := make([]domain.Item, 0, len(posts))
	for _, p := range posts {
		result = append(result, domain.Item{
			Kind:      domain.KindSubmission,
			ID:        p.FullID,
			Author:    p.Author,
			CreatedAt: stamp(p.Created),
			Subreddit: p.SubredditName,
			Post: &domain.Post{
				Title:     p.Title,
				Body:      p.Body,
				URL:       p.URL,
				Permalink: p.Permalink,
				IsSelf:    p.IsSelfPost,
				Score:     p.Score,
			},
		})
	}
	return result, nil
}

func (ac *APIClient) NewComments(ctx context.Context, feeds []string, limit int) ([]domain.Item, error) {
	if err := ac.wait(ctx); err != nil {
		return nil, err
	}

	comments, resp, err := ac.client.Subreddit.NewComments(ctx, strings.Join(feeds, "+"), &reddit.ListOptions{Limit: limit})
	ac.track(resp)
	if err != nil {
		return nil, translate(fmt.Errorf("new comments: %w", err), ac.lastRate.Reset)
	}

	result := make([]domain.Item, 0, len(comments))
	for _, c := range comments {
		result = append(result, domain.Item{
			Kind:      domain.KindComment,
			ID:        c.FullID,
			Author:    c.Author,
			CreatedAt: stamp(c.Created),
			Subreddit: c.SubredditName,
			Comment: &domain.Comment{
				Body:      c.Body,
				ParentID:  c.ParentID,
				PostID:    c.PostID,
				PostTitle: c.PostTitle,
				Permalink: c.Permalink,
			},
		})
	}
	return result, nil
}

// UnreadInbox merges unread comments and messages newest first.
func (ac *APIClient) UnreadInbox(ctx context.Context, limit int) ([]domain.Item, error) {
	if err := ac.wait(ctx); err != nil {
		return nil, err
	}

	comments, messages, resp, err := ac.client.Message.InboxUnread(ctx, &reddit.ListOptions{Limit: limit})
	ac.track(resp)
	if err != nil {
		return nil, translate(fmt.Errorf("inbox unread: %w", err), ac.lastRate.Reset)
	}

	result := make([]domain.Item, 0, len(comments)+len(messages))
	for _, m := range comments {
		result = append(result, inboxItem(m))
	}
	for _, m := range messages {
		result = append(result, inboxItem(m))
	}
	slices.SortStableFunc(result, func(a, b domain.Item) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func inboxItem(m *reddit.Message) domain.Item {
	item := domain.Item{
		ID:        m.FullID,
		Author:    m.Author,
		CreatedAt: stamp(m.Created),
	}
	if !m.IsComment {
		item.Kind = domain.KindMessage
		item.Message = &domain.Message{Subject: m.Subject, Body: m.Text}
		return item
	}

	item.Kind = domain.KindComment
	if m.Subject == mentionSubject {
		item.Kind = domain.KindMention
	}
	item.Comment = &domain.Comment{Body: m.Text, ParentID: m.ParentID, Subject: m.Subject}
	return item
}

func (ac *APIClient) MarkRead(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ac.wait(ctx); err != nil {
		return err
	}
	resp, err := ac.client.Message.Read(ctx, ids...)
	ac.track(resp)
	if err != nil {
		return translate(fmt.Errorf("mark read: %w", err), ac.lastRate.Reset)
	}
	return nil
}

func (ac *APIClient) Reply(ctx context.Context, parentID, text string) error {
	if err := ac.wait(ctx); err != nil {
		return err
	}
	_, resp, err := ac.client.Comment.Submit(ctx, parentID, text)
	ac.track(resp)
	if err != nil {
		return translate(fmt.Errorf("reply to %s: %w", parentID, err), ac.lastRate.Reset)
	}
	return nil
}

func (ac *APIClient) SendMessage(ctx context.Context, to, subject, text string) error {
	if err := ac.wait(ctx); err != nil {
		return err
	}
	resp, err := ac.client.Message.Send(ctx, &reddit.SendMessageRequest{To: to, Subject: subject, Text: text})
	ac.track(resp)
	if err != nil {
		return translate(fmt.Errorf("message %s: %w", to, err), ac.lastRate.Reset)
	}
	return nil
}

func stamp(t *reddit.Timestamp) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.Time
}
