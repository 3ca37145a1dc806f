package federation

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/socialdistro/db"
	"github.com/deemkeen/socialdistro/domain"
)

const backfillLimit = 20

// Enqueuer accepts one push for later delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, inboxURI, host string, body []byte) error
}

// Federator turns local actions into queued pushes. It never fails the
// action that triggered it: problems are logged and dropped.
type Federator struct {
	store  *db.DB
	queue  Enqueuer
	logger *log.Logger
}

func NewFederator(store *db.DB, queue Enqueuer, logger *log.Logger) *Federator {
	return &Federator{store: store, queue: queue, logger: logger.WithPrefix("outbox")}
}

// Follow sends a follow request to the target's inbox.
func (f *Federator) Follow(ctx context.Context, follower, target *domain.Author) {
	if target.IsLocal {
		return
	}
	f.send(ctx, NewFollow(follower, target), []domain.Author{*target}, "")
}

// Entry pushes a created, updated or deleted entry to the author's remote
// followers. FRIENDS entries only go to friends. A delete goes to every
// accepted follower so that no copy survives.
func (f *Federator) Entry(ctx context.Context, e *domain.Entry) {
	if e.Author == nil || !e.Author.IsLocal {
		return
	}
	targets, err := f.audience(ctx, e)
	if err != nil {
		f.logger.Error("failed to resolve entry audience", "entry", e.Id, "err", err)
		return
	}
	obj := NewEntryObject(e)
	act := EntryActivity{envelope: envelope{Actor: obj.Author}, Entry: obj}
	f.send(ctx, act, targets, "")
}

// Updated pushes an edited entry. When the edit made it FRIENDS-only, the
// followers that fell out of its audience are sent a tombstone so their copy
// goes away.
func (f *Federator) Updated(ctx context.Context, e *domain.Entry, previous domain.Visibility) {
	f.Entry(ctx, e)
	if e.Author == nil || !e.Author.IsLocal || e.IsDeleted {
		return
	}
	if previous == domain.VisibilityFriends || e.Visibility != domain.VisibilityFriends {
		return
	}

	before, err := f.audience(ctx, &domain.Entry{AuthorId: e.AuthorId, Visibility: previous})
	if err != nil {
		f.logger.Error("failed to resolve previous audience", "entry", e.Id, "err", err)
		return
	}
	after, err := f.audience(ctx, e)
	if err != nil {
		f.logger.Error("failed to resolve entry audience", "entry", e.Id, "err", err)
		return
	}
	kept := make(map[string]bool, len(after))
	for _, a := range after {
		kept[a.Id] = true
	}
	var dropped []domain.Author
	for _, a := range before {
		if !kept[a.Id] {
			dropped = append(dropped, a)
		}
	}
	if len(dropped) == 0 {
		return
	}

	tombstone := *e
	tombstone.IsDeleted = true
	tombstone.Title, tombstone.Description, tombstone.Content = "", "", ""
	obj := NewEntryObject(&tombstone)
	f.send(ctx, EntryActivity{envelope: envelope{Actor: obj.Author}, Entry: obj}, dropped, "")
	f.logger.Info("withdrew entry from former audience", "entry", e.Id, "followers", len(dropped))
}

// Accepted pushes author's newest entries to a remote follower whose
// request was just accepted. The follower's node treats the first push as
// the acceptance.
func (f *Federator) Accepted(ctx context.Context, author, follower *domain.Author) {
	if !author.IsLocal || follower.IsLocal {
		return
	}
	entries, err := f.store.ReadEntriesByAuthor(ctx, author.Id)
	if err != nil {
		f.logger.Error("failed to read entries for new follower", "author", author.Id, "err", err)
		return
	}
	mutual, err := f.store.Follows(ctx, author.Id, follower.Id)
	if err != nil {
		f.logger.Error("failed to check friendship", "author", author.Id, "follower", follower.Id, "err", err)
		return
	}

	sent := 0
	for i := range entries {
		if sent == backfillLimit {
			break
		}
		e := &entries[i]
		if e.Visibility == domain.VisibilityFriends && !mutual {
			continue
		}
		obj := NewEntryObject(e)
		f.send(ctx, EntryActivity{envelope: envelope{Actor: obj.Author}, Entry: obj}, []domain.Author{*follower}, "")
		sent++
	}
	f.logger.Info("backfilled new follower", "author", author.Id, "follower", follower.Id, "entries", sent)
}

// Like forwards a like on entry. excludeHost is the node the like came
// from, if any.
func (f *Federator) Like(ctx context.Context, like *domain.Like, entry *domain.Entry, excludeHost string) {
	if like.Author == nil {
		return
	}
	f.interaction(ctx, NewLike(like.Author, like.Id, like.ObjectId, like.Published), entry, excludeHost)
}

// Comment forwards a comment on entry. excludeHost is the node the comment
// came from, if any.
func (f *Federator) Comment(ctx context.Context, c *domain.Comment, entry *domain.Entry, excludeHost string) {
	if c.Author == nil {
		return
	}
	act := NewComment(c.Author, c.Id, c.EntryId, c.Comment, c.ContentType, c.Published)
	f.interaction(ctx, act, entry, excludeHost)
}

// interaction routes a like or comment: a remote entry's origin is told
// directly, a local entry's remote audience gets a copy.
func (f *Federator) interaction(ctx context.Context, act Activity, entry *domain.Entry, excludeHost string) {
	if entry.Author == nil {
		return
	}
	var targets []domain.Author
	if entry.Author.IsLocal {
		audience, err := f.audience(ctx, entry)
		if err != nil {
			f.logger.Error("failed to resolve entry audience", "entry", entry.Id, "err", err)
			return
		}
		targets = audience
	} else {
		targets = []domain.Author{*entry.Author}
	}
	f.send(ctx, act, targets, excludeHost)
}

// audience lists the remote accepted followers of the entry's author that
// may receive it.
func (f *Federator) audience(ctx context.Context, e *domain.Entry) ([]domain.Author, error) {
	followers, err := f.store.ReadFollowers(ctx, e.AuthorId, domain.FollowAccepted)
	if err != nil {
		return nil, err
	}
	var targets []domain.Author
	for _, follower := range followers {
		if follower.IsLocal {
			continue
		}
		if e.Visibility == domain.VisibilityFriends && !e.IsDeleted {
			mutual, err := f.store.Follows(ctx, e.AuthorId, follower.Id)
			if err != nil {
				return nil, err
			}
			if !mutual {
				continue
			}
		}
		targets = append(targets, follower)
	}
	return targets, nil
}

func (f *Federator) send(ctx context.Context, act Activity, targets []domain.Author, excludeHost string) {
	if len(targets) == 0 {
		return
	}
	body, err := EncodeActivity(act)
	if err != nil {
		f.logger.Error("failed to encode activity", "type", act.Kind(), "err", err)
		return
	}

	seen := map[string]bool{}
	for i := range targets {
		target := &targets[i]
		if target.IsLocal {
			continue
		}
		if excludeHost != "" && domain.SameHost(target.Host, excludeHost) {
			continue
		}
		inbox := target.Inbox()
		if seen[inbox] {
			continue
		}
		seen[inbox] = true
		if err := f.queue.Enqueue(ctx, inbox, target.Host, body); err != nil {
			f.logger.Error("failed to enqueue delivery", "type", act.Kind(), "inbox", inbox, "err", err)
			continue
		}
		f.logger.Debug("queued delivery", "type", act.Kind(), "inbox", inbox)
	}
}
