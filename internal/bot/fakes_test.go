package bot

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/qepting91/redditbot/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func item(kind domain.Kind, id, author string) domain.Item {
	return domain.Item{Kind: kind, ID: id, Author: author}
}

// memSeen is an in-memory SeenStore
type memSeen struct {
	mu      sync.Mutex
	ids     map[string]bool
	checked []string
	cleaned int
	closed  bool
	err     error
}

func newMemSeen() *memSeen { return &memSeen{ids: map[string]bool{}} }

func (m *memSeen) IsSeen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	m.checked = append(m.checked, id)
	if m.ids[id] {
		return true, nil
	}
	m.ids[id] = true
	return false, nil
}

func (m *memSeen) Cleanup(context.Context, time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleaned++
	return 0, nil
}

func (m *memSeen) Close() error {
	m.closed = true
	return nil
}

// fakeSession serves scripted rounds. Each fetch pops the next response
// for its feed; an exhausted script returns an empty listing.
type fakeSession struct {
	mu          sync.Mutex
	self        string
	meErr       error
	submissions []fetch
	comments    []fetch
	inbox       []fetch
	markedRead  [][]string
	replies     []string
	messages    []string
	onFetch     func(kind domain.Kind)
}

type fetch struct {
	items []domain.Item
	err   error
}

func pop(q *[]fetch) fetch {
	if len(*q) == 0 {
		return fetch{}
	}
	f := (*q)[0]
	*q = (*q)[1:]
	return f
}

func (f *fakeSession) Me(context.Context) (string, error) { return f.self, f.meErr }

func (f *fakeSession) NewSubmissions(context.Context, []string, int) ([]domain.Item, error) {
	f.mu.Lock()
	r := pop(&f.submissions)
	f.mu.Unlock()
	if f.onFetch != nil {
		f.onFetch(domain.KindSubmission)
	}
	return slices.Clone(r.items), r.err
}

func (f *fakeSession) NewComments(context.Context, []string, int) ([]domain.Item, error) {
	f.mu.Lock()
	r := pop(&f.comments)
	f.mu.Unlock()
	if f.onFetch != nil {
		f.onFetch(domain.KindComment)
	}
	return slices.Clone(r.items), r.err
}

func (f *fakeSession) UnreadInbox(context.Context, int) ([]domain.Item, error) {
	f.mu.Lock()
	r := pop(&f.inbox)
	f.mu.Unlock()
	return slices.Clone(r.items), r.err
}

func (f *fakeSession) MarkRead(_ context.Context, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedRead = append(f.markedRead, ids)
	return nil
}

func (f *fakeSession) Reply(_ context.Context, parentID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, parentID+":"+text)
	return nil
}

func (f *fakeSession) SendMessage(_ context.Context, to, subject, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, to+":"+subject)
	return nil
}

// fakeDialer returns scripted dial results, then its session forever
type fakeDialer struct {
	session    *fakeSession
	dialErrs   []error
	refreshErr error
	grant      domain.Grant
	dials      []domain.Credentials
	refreshes  int
}

func (d *fakeDialer) Dial(_ context.Context, creds domain.Credentials) (domain.Session, domain.Grant, error) {
	d.dials = append(d.dials, creds)
	if len(d.dialErrs) > 0 {
		err := d.dialErrs[0]
		d.dialErrs = d.dialErrs[1:]
		if err != nil {
			return nil, domain.Grant{}, err
		}
	}
	grant := d.grant
	if grant.Scopes == nil {
		grant.Scopes = []string{"*"}
	}
	return d.session, grant, nil
}

func (d *fakeDialer) Refresh(context.Context, domain.Credentials) (domain.Grant, error) {
	d.refreshes++
	if d.refreshErr != nil {
		return domain.Grant{}, d.refreshErr
	}
	return domain.Grant{Scopes: []string{"*"}, Expiry: time.Now().Add(time.Hour)}, nil
}

// fastShutdown has a millisecond tick so sleeps in tests stay short
func fastShutdown() *Shutdown {
	s := NewShutdown("")
	s.tick = time.Millisecond
	return s
}
