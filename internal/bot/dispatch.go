package bot

import (
	"context"
	"iter"
	"strings"

	"github.com/qepting91/redditbot/internal/domain"
)

// Listener handles one new item. Errors end the round.
type Listener func(ctx context.Context, conn *Connection, item domain.Item) error

// SeenChecker is the check-and-set half of the seen store
type SeenChecker interface {
	IsSeen(ctx context.Context, id string) (bool, error)
}

// Dispatcher hands unseen items to a listener. Feeds are newest first,
// so the first seen item marks the boundary of the previous round.
type Dispatcher struct {
	seen      SeenChecker
	blacklist map[string]struct{}
}

func NewDispatcher(seen SeenChecker, blacklist []string) *Dispatcher {
	bl := make(map[string]struct{}, len(blacklist))
	for _, name := range blacklist {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			bl[name] = struct{}{}
		}
	}
	return &Dispatcher{seen: seen, blacklist: bl}
}

// Run consumes items until the first already seen one and returns the
// number of listener calls. A shutdown request does not cut a batch short;
// the scheduler only checks it between fetches.
func (d *Dispatcher) Run(ctx context.Context, conn *Connection, items iter.Seq[domain.Item], listener Listener) (int, error) {
	delivered := 0
	for item := range items {
		seen, err := d.seen.IsSeen(ctx, item.ID)
		if err != nil {
			return delivered, err
		}
		if seen {
			return delivered, nil
		}

		if d.skip(conn, item.Author) {
			continue
		}
		if err := listener(ctx, conn, item); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

func (d *Dispatcher) skip(conn *Connection, author string) bool {
	if conn != nil && conn.Self != "" && strings.EqualFold(author, conn.Self) {
		return true
	}
	_, ok := d.blacklist[strings.ToLower(author)]
	return ok
}
