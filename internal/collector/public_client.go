package collector

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/qepting91/redditbot/internal/domain"
	"golang.org/x/time/rate"
)

var errReadOnly = errors.New("public mode is read only")

// PublicClient reads the anonymous JSON listings. It has no inbox and
// cannot write.
type PublicClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
	baseURL    string
}

type redditJSONResponse struct {
	Data struct {
		Children []struct {
			Kind string `json:"kind"`
			Data struct {
				Name       string  `json:"name"`
				Title      string  `json:"title"`
				Body       string  `json:"body"`
				SelfText   string  `json:"selftext"`
				IsSelf     bool    `json:"is_self"`
				Subreddit  string  `json:"subreddit"`
				Author     string  `json:"author"`
				URL        string  `json:"url"`
				Permalink  string  `json:"permalink"`
				ParentID   string  `json:"parent_id"`
				LinkID     string  `json:"link_id"`
				LinkTitle  string  `json:"link_title"`
				Score      int     `json:"score"`
				CreatedUTC float64 `json:"created_utc"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func NewPublicClient(userAgent string) (*PublicClient, error) {
	if userAgent == "" {
		return nil, fmt.Errorf("REDDIT_USER_AGENT is required for public mode")
	}
	return &PublicClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Public JSON Limit: 1 req / 2 seconds (Stricter)
		limiter:   rate.NewLimiter(rate.Every(2*time.Second), 1),
		userAgent: userAgent,
		baseURL:   "https://www.reddit.com",
	}, nil
}

func (pc *PublicClient) Me(context.Context) (string, error) { return "", nil }

func (pc *PublicClient) NewSubmissions(ctx context.Context, feeds []string, limit int) ([]domain.Item, error) {
	return pc.listing(ctx, fmt.Sprintf("/r/%s/new.json?limit=%d", strings.Join(feeds, "+"), limit))
}

func (pc *PublicClient) NewComments(ctx context.Context, feeds []string, limit int) ([]domain.Item, error) {
	return pc.listing(ctx, fmt.Sprintf("/r/%s/comments.json?limit=%d", strings.Join(feeds, "+"), limit))
}

func (pc *PublicClient) UnreadInbox(context.Context, int) ([]domain.Item, error) { return nil, nil }

func (pc *PublicClient) MarkRead(context.Context, ...string) error { return nil }

func (pc *PublicClient) Reply(context.Context, string, string) error { return errReadOnly }

func (pc *PublicClient) SendMessage(context.Context, string, string, string) error {
	return errReadOnly
}

func (pc *PublicClient) listing(ctx context.Context, path string) ([]domain.Item, error) {
	if err := pc.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pc.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", pc.userAgent)

	resp, err := pc.httpClient.Do(req)
	if err != nil {
		return nil, domain.Transient(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("reddit public access status: %d", resp.StatusCode)
		if e := fromStatus(resp.StatusCode, err, resetHeader(resp)); e != nil {
			return nil, e
		}
		return nil, err
	}

	var rResp redditJSONResponse
	if err := json.NewDecoder(resp.Body).Decode(&rResp); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}

	var items []domain.Item
	for _, child := range rResp.Data.Children {
		d := child.Data
		item := domain.Item{
			ID:        d.Name,
			Author:    d.Author,
			CreatedAt: time.Unix(int64(d.CreatedUTC), 0).UTC(),
			Subreddit: d.Subreddit,
		}
		switch child.Kind {
		case "t1":
			item.Kind = domain.KindComment
			item.Comment = &domain.Comment{
				Body:      d.Body,
				ParentID:  d.ParentID,
				PostID:    d.LinkID,
				PostTitle: d.LinkTitle,
				Permalink: d.Permalink,
			}
		case "t3":
			item.Kind = domain.KindSubmission
			item.Post = &domain.Post{
				Title:     d.Title,
				Body:      d.SelfText,
				URL:       d.URL,
				Permalink: d.Permalink,
				IsSelf:    d.IsSelf,
				Score:     d.Score,
			}
		default:
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// x-ratelimit-reset is the number of seconds until the window resets
func resetHeader(resp *http.Response) time.Time {
	var secs int
	if _, err := fmt.Sscanf(resp.Header.Get("X-Ratelimit-Reset"), "%d", &secs); err != nil {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(secs) * time.Second)
}

// PublicDialer hands out anonymous read only sessions
type PublicDialer struct {
	UserAgent string
	BaseURL   string
}

func (d *PublicDialer) Dial(ctx context.Context, creds domain.Credentials) (domain.Session, domain.Grant, error) {
	ua := cmp.Or(creds.UserAgent, d.UserAgent)
	pc, err := NewPublicClient(ua)
	if err != nil {
		return nil, domain.Grant{}, err
	}
	if d.BaseURL != "" {
		pc.baseURL = d.BaseURL
	}
	return pc, domain.Grant{Scopes: []string{"read"}}, nil
}

func (d *PublicDialer) Refresh(context.Context, domain.Credentials) (domain.Grant, error) {
	return domain.Grant{Scopes: []string{"read"}}, nil
}
