package collector

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/qepting91/redditbot/internal/domain"
)

// MockClient implements domain.Session with synthetic feeds. Every fetch
// grows the feed by a few items, so repeated rounds look like a live
// subreddit.
type MockClient struct {
	mu       sync.Mutex
	seq      int
	latency  time.Duration
	posts    []domain.Item
	comments []domain.Item
	inbox    []domain.Item
	Sent     []string
}

func NewMockClient() *MockClient {
	return &MockClient{latency: 200 * time.Millisecond}
}

func (mc *MockClient) Me(context.Context) (string, error) { return "mock_bot", nil }

func (mc *MockClient) NewSubmissions(ctx context.Context, feeds []string, limit int) ([]domain.Item, error) {
	mc.simulate(ctx)
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for range rand.Intn(3) {
		sub := pick(feeds)
		id := mc.next()
		mc.posts = append(mc.posts, domain.Item{
			Kind:      domain.KindSubmission,
			ID:        "t3_" + id,
			Author:    "simulated_user",
			CreatedAt: time.Now().UTC(),
			Subreddit: sub,
			Post: &domain.Post{
				Title: fmt.Sprintf("[%s] Simulated Threat Intel Report #%s: Zero-Day Found", sub, id),
				URL:   "http://localhost/mock-url",
				Score: rand.Intn(500),
			},
		})
	}
	return newest(mc.posts, limit), nil
}

func (mc *MockClient) NewComments(ctx context.Context, feeds []string, limit int) ([]domain.Item, error) {
	mc.simulate(ctx)
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for range rand.Intn(4) {
		id := mc.next()
		mc.comments = append(mc.comments, domain.Item{
			Kind:      domain.KindComment,
			ID:        "t1_" + id,
			Author:    fmt.Sprintf("commenter_%d", rand.Intn(20)),
			CreatedAt: time.Now().UTC(),
			Subreddit: pick(feeds),
			Comment:   &domain.Comment{Body: "simulated comment about a zero-day " + id, ParentID: "t3_mock"},
		})
	}
	return newest(mc.comments, limit), nil
}

func (mc *MockClient) UnreadInbox(ctx context.Context, limit int) ([]domain.Item, error) {
	mc.simulate(ctx)
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if rand.Intn(4) == 0 {
		id := mc.next()
		mc.inbox = append(mc.inbox, domain.Item{
			Kind:      domain.KindMessage,
			ID:        "t4_" + id,
			Author:    "curious_user",
			CreatedAt: time.Now().UTC(),
			Message:   &domain.Message{Subject: "question", Body: "what is this bot?"},
		})
	}
	if rand.Intn(4) == 0 {
		id := mc.next()
		mc.inbox = append(mc.inbox, domain.Item{
			Kind:      domain.KindMention,
			ID:        "t1_" + id,
			Author:    "mentioning_user",
			CreatedAt: time.Now().UTC(),
			Comment:   &domain.Comment{Body: "u/mock_bot zero-day?", ParentID: "t3_mock", Subject: mentionSubject},
		})
	}
	return newest(mc.inbox, limit), nil
}

func (mc *MockClient) MarkRead(_ context.Context, ids ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.inbox = slices.DeleteFunc(mc.inbox, func(it domain.Item) bool {
		return slices.Contains(ids, it.ID)
	})
	return nil
}

func (mc *MockClient) Reply(_ context.Context, parentID, text string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.Sent = append(mc.Sent, "reply "+parentID+": "+text)
	return nil
}

func (mc *MockClient) SendMessage(_ context.Context, to, subject, text string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.Sent = append(mc.Sent, "pm "+to+" "+subject+": "+text)
	return nil
}

// Simulate network latency
func (mc *MockClient) simulate(ctx context.Context) {
	select {
	case <-time.After(mc.latency):
	case <-ctx.Done():
	}
}

func (mc *MockClient) next() string {
	mc.seq++
	return fmt.Sprintf("mock%d", mc.seq)
}

func pick(feeds []string) string {
	if len(feeds) == 0 {
		return "mock"
	}
	return feeds[rand.Intn(len(feeds))]
}

func newest(items []domain.Item, limit int) []domain.Item {
	out := slices.Clone(items)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MockDialer always succeeds with a full grant
type MockDialer struct {
	Client *MockClient
}

func (d *MockDialer) Dial(context.Context, domain.Credentials) (domain.Session, domain.Grant, error) {
	if d.Client == nil {
		d.Client = NewMockClient()
	}
	return d.Client, domain.Grant{Scopes: []string{"*"}, Expiry: time.Now().Add(time.Hour)}, nil
}

func (d *MockDialer) Refresh(context.Context, domain.Credentials) (domain.Grant, error) {
	return domain.Grant{Scopes: []string{"*"}, Expiry: time.Now().Add(time.Hour)}, nil
}
