// Package visibility decides who may read an entry.
package visibility

import (
	"context"

	"github.com/deemkeen/socialdistro/domain"
)

// FriendGraph answers questions about ACCEPTED follow edges.
type FriendGraph interface {
	Follows(ctx context.Context, followerId, followingId string) (bool, error)
	AreFriends(ctx context.Context, a, b string) (bool, error)
}

// Mode distinguishes fetching one entry by id from enumerating a feed.
type Mode int

const (
	Direct Mode = iota
	Listing
)

// Evaluator is a pure function of the current follow state.
type Evaluator struct {
	graph FriendGraph
}

func NewEvaluator(graph FriendGraph) *Evaluator {
	return &Evaluator{graph: graph}
}

// CanView reports whether requester may read entry. A nil requester is
// anonymous.
//
// PUBLIC entries are readable by anyone. UNLISTED entries are readable by
// any authenticated identity on direct fetch, but only show up in listings
// for the author and the author's followers. FRIENDS entries need a mutual
// follow. Tombstoned entries are never readable.
func (ev *Evaluator) CanView(ctx context.Context, requester *domain.Author, entry *domain.Entry, mode Mode) (bool, error) {
	if entry.IsDeleted {
		return false, nil
	}
	if entry.Visibility == domain.VisibilityPublic {
		return true, nil
	}
	if requester == nil {
		return false, nil
	}
	if requester.Id == entry.AuthorId {
		return true, nil
	}

	switch entry.Visibility {
	case domain.VisibilityUnlisted:
		if mode == Direct {
			return true, nil
		}
		return ev.graph.Follows(ctx, requester.Id, entry.AuthorId)
	case domain.VisibilityFriends:
		return ev.graph.AreFriends(ctx, requester.Id, entry.AuthorId)
	}
	return false, nil
}

// Filter keeps the entries requester may see in listing mode.
func (ev *Evaluator) Filter(ctx context.Context, requester *domain.Author, entries []domain.Entry) ([]domain.Entry, error) {
	visible := make([]domain.Entry, 0, len(entries))
	for i := range entries {
		ok, err := ev.CanView(ctx, requester, &entries[i], Listing)
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, entries[i])
		}
	}
	return visible, nil
}

// CanInteract covers likes and comments: an authenticated requester may
// interact with an entry it may read directly.
func (ev *Evaluator) CanInteract(ctx context.Context, requester *domain.Author, entry *domain.Entry) (bool, error) {
	if requester == nil {
		return false, nil
	}
	return ev.CanView(ctx, requester, entry, Direct)
}
