package domain

import (
	"context"
	"time"
)

// Kind tags the variant carried by an Item
type Kind string

const (
	KindSubmission Kind = "submission"
	KindComment    Kind = "comment"
	KindMention    Kind = "mention"
	KindMessage    Kind = "message"
)

// Item is one unit of remote content. The dispatcher only reads the
// common projection (ID, Author, CreatedAt); listeners read the payload
// matching Kind.
type Item struct {
	Kind      Kind
	ID        string // fullname, e.g. t3_abc123
	Author    string
	CreatedAt time.Time
	Subreddit string

	Post    *Post
	Comment *Comment
	Message *Message
}

type Post struct {
	Title     string
	Body      string
	URL       string
	Permalink string
	IsSelf    bool
	Score     int
}

// Comment is used for feed comments and for inbox comments (mentions,
// replies).
type Comment struct {
	Body      string
	ParentID  string
	PostID    string
	PostTitle string
	Permalink string
	Subject   string
}

type Message struct {
	Subject       string
	Body          string
	Distinguished string
}

// Record is the clean data structure written to the archive
type Record struct {
	ID          string   `json:"id"`
	Kind        Kind     `json:"kind"`
	Subreddit   string   `json:"subreddit"`
	Author      string   `json:"author"`
	Title       string   `json:"title,omitempty"`
	URL         string   `json:"url,omitempty"`
	CreatedUTC  float64  `json:"created_utc"`
	KeywordsHit []string `json:"keywords_hit,omitempty"`
}

// Credentials identify one script-type app plus the account it acts as
type Credentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string
}

func (c Credentials) Empty() bool {
	return c.ClientID == "" && c.Username == ""
}

// Grant describes the token backing a session
type Grant struct {
	Scopes []string
	Expiry time.Time
}

// Session defines the remote operations the bot needs
type Session interface {
	Me(ctx context.Context) (string, error)
	NewSubmissions(ctx context.Context, feeds []string, limit int) ([]Item, error)
	NewComments(ctx context.Context, feeds []string, limit int) ([]Item, error)
	UnreadInbox(ctx context.Context, limit int) ([]Item, error)
	MarkRead(ctx context.Context, ids ...string) error
	Reply(ctx context.Context, parentID, text string) error
	SendMessage(ctx context.Context, to, subject, text string) error
}

// Dialer opens sessions and renews their grants
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Session, Grant, error)
	Refresh(ctx context.Context, creds Credentials) (Grant, error)
}

// Target is one polled subreddit
type Target struct {
	Subreddit string
	MinScore  int
}
