package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/socialdistro/db"
	"github.com/deemkeen/socialdistro/domain"
	"github.com/deemkeen/socialdistro/visibility"
	"github.com/google/uuid"
)

// EntryPublisher is told about every PUBLIC entry that becomes visible here.
type EntryPublisher interface {
	Broadcast(ctx context.Context, payload []byte)
}

// Outcome is the result of an accepted inbox payload. Created is false when
// the payload was a redelivery of something already applied.
type Outcome struct {
	Created bool
	Object  any
}

// Processor applies inbox payloads to the store.
type Processor struct {
	self      string
	store     *db.DB
	eval      *visibility.Evaluator
	federator *Federator
	publisher EntryPublisher
	logger    *log.Logger
}

func NewProcessor(self string, store *db.DB, eval *visibility.Evaluator, federator *Federator, publisher EntryPublisher, logger *log.Logger) *Processor {
	return &Processor{
		self:      domain.NormalizeHost(self),
		store:     store,
		eval:      eval,
		federator: federator,
		publisher: publisher,
		logger:    logger.WithPrefix("inbox"),
	}
}

// Receive authenticates, validates and applies one payload posted to
// owner's inbox.
func (p *Processor) Receive(ctx context.Context, caller *Caller, owner *domain.Author, body []byte) (Outcome, error) {
	if caller == nil {
		return Outcome{}, fmt.Errorf("%w: inbox requires credentials", domain.ErrAuthentication)
	}

	act, err := DecodeActivity(body)
	if err != nil {
		return Outcome{}, err
	}
	return p.apply(ctx, caller, owner, act, body)
}

// Submit applies an activity a local author performs through the API, with
// the same rules as an inbox delivery.
func (p *Processor) Submit(ctx context.Context, author, owner *domain.Author, act Activity) (Outcome, error) {
	body, err := EncodeActivity(act)
	if err != nil {
		return Outcome{}, err
	}
	return p.apply(ctx, &Caller{Author: author}, owner, act, body)
}

func (p *Processor) apply(ctx context.Context, caller *Caller, owner *domain.Author, act Activity, body []byte) (Outcome, error) {
	actor, err := p.authorize(caller, act.ActorObject())
	if err != nil {
		p.logger.Warn("rejected activity", "type", act.Kind(), "actor", act.ActorObject().Id, "err", err)
		return Outcome{}, err
	}

	var out Outcome
	switch a := act.(type) {
	case FollowActivity:
		out, err = p.follow(ctx, caller, actor, owner, a)
	case LikeActivity:
		out, err = p.like(ctx, caller, actor, a)
	case CommentActivity:
		out, err = p.comment(ctx, caller, actor, a)
	case EntryActivity:
		out, err = p.entry(ctx, caller, actor, owner, a)
	default:
		err = fmt.Errorf("%w: unsupported activity %T", domain.ErrValidation, act)
	}
	if err != nil {
		p.logger.Info("activity not applied", "type", act.Kind(), "actor", actor.Id, "err", err)
		return Outcome{}, err
	}

	p.record(ctx, act, owner, body)
	p.logger.Debug("applied activity", "type", act.Kind(), "actor", actor.Id, "created", out.Created)
	return out, nil
}

// authorize checks the claimed actor against the caller. A node may only
// speak for authors on its own host, a local author only for itself.
func (p *Processor) authorize(caller *Caller, claimed AuthorObject) (*domain.Author, error) {
	if caller.Author != nil {
		if !sameAuthor(claimed.Id, caller.Author.Id) {
			return nil, fmt.Errorf("%w: actor %s is not the authenticated author", domain.ErrForbidden, claimed.Id)
		}
		return caller.Author, nil
	}

	actor, err := claimed.ToAuthor()
	if err != nil {
		return nil, err
	}
	if !domain.SameHost(actor.Host, caller.Node.Host) {
		return nil, fmt.Errorf("%w: node %s cannot act for %s", domain.ErrForbidden, caller.Node.Host, actor.Id)
	}
	return actor, nil
}

// materialize stores the stub of a remote actor once its activity has passed
// every check.
func (p *Processor) materialize(ctx context.Context, caller *Caller, actor *domain.Author) error {
	if caller.Node == nil {
		return nil
	}
	return p.store.UpsertRemoteAuthor(ctx, actor)
}

func (p *Processor) follow(ctx context.Context, caller *Caller, actor, owner *domain.Author, a FollowActivity) (Outcome, error) {
	if !sameAuthor(a.Object.Id, owner.Id) {
		return Outcome{}, fmt.Errorf("%w: follow object %s is not the inbox owner", domain.ErrValidation, a.Object.Id)
	}
	if !owner.IsLocal && caller.Author == nil {
		return Outcome{}, fmt.Errorf("%w: %s is not hosted here", domain.ErrValidation, owner.Id)
	}
	if err := p.materialize(ctx, caller, actor); err != nil {
		return Outcome{}, err
	}

	opened, err := p.store.RequestFollow(ctx, actor.Id, owner.Id)
	if err != nil {
		return Outcome{}, err
	}
	if !owner.IsLocal && opened {
		p.federator.Follow(ctx, actor, owner)
	}

	f, err := p.store.ReadFollow(ctx, actor.Id, owner.Id)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Created: opened, Object: NewFollowObject(actor, owner, f.Status)}, nil
}

func (p *Processor) like(ctx context.Context, caller *Caller, actor *domain.Author, a LikeActivity) (Outcome, error) {
	entry, kind, objectId, err := p.likeTarget(ctx, a.Object)
	if err != nil {
		return Outcome{}, err
	}
	if err := p.requireInteract(ctx, actor, entry); err != nil {
		return Outcome{}, err
	}

	like := &domain.Like{
		Id:         a.Id,
		AuthorId:   actor.Id,
		ObjectId:   objectId,
		ObjectKind: kind,
		Published:  a.Published,
		Author:     actor,
	}
	if like.Id == "" {
		if !actor.IsLocal {
			return Outcome{}, fmt.Errorf("%w: like id is required", domain.ErrValidation)
		}
		like.Id = domain.LikeID(p.self, actor.Serial, uuid.New().String())
	}
	if err := p.materialize(ctx, caller, actor); err != nil {
		return Outcome{}, err
	}

	err = p.store.CreateLike(ctx, like)
	if errors.Is(err, domain.ErrConflictSkipped) {
		existing, rerr := p.store.ReadLike(ctx, actor.Id, objectId)
		if rerr != nil {
			return Outcome{}, rerr
		}
		return Outcome{Created: false, Object: NewLikeObject(existing)}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	p.federator.Like(ctx, like, entry, originHost(caller))
	return Outcome{Created: true, Object: NewLikeObject(like)}, nil
}

// likeTarget resolves a liked object to the entry it belongs to and the
// stored id of the object itself.
func (p *Processor) likeTarget(ctx context.Context, objectId string) (*domain.Entry, domain.LikeTarget, string, error) {
	entry, err := p.store.ReadEntryById(ctx, domain.CanonicalEntryID(objectId))
	if err == nil {
		return entry, domain.LikeEntry, entry.Id, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, "", "", err
	}

	comment, err := p.store.ReadCommentById(ctx, objectId)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, "", "", fmt.Errorf("%w: %s", domain.ErrNotFound, objectId)
	}
	if err != nil {
		return nil, "", "", err
	}
	entry, err = p.store.ReadEntryById(ctx, comment.EntryId)
	if err != nil {
		return nil, "", "", err
	}
	return entry, domain.LikeComment, comment.Id, nil
}

func (p *Processor) comment(ctx context.Context, caller *Caller, actor *domain.Author, a CommentActivity) (Outcome, error) {
	entry, err := p.store.ReadEntryById(ctx, domain.CanonicalEntryID(a.Entry))
	if errors.Is(err, domain.ErrNotFound) {
		return Outcome{}, fmt.Errorf("%w: entry %s", domain.ErrNotFound, a.Entry)
	}
	if err != nil {
		return Outcome{}, err
	}
	if err := p.requireInteract(ctx, actor, entry); err != nil {
		return Outcome{}, err
	}

	if a.Comment == "" {
		return Outcome{}, fmt.Errorf("%w: comment text is required", domain.ErrValidation)
	}
	if a.ContentType == "" {
		a.ContentType = domain.ContentTypePlain
	}

	c := &domain.Comment{
		Id:          a.Id,
		AuthorId:    actor.Id,
		EntryId:     entry.Id,
		Comment:     a.Comment,
		ContentType: a.ContentType,
		Published:   a.Published,
		Author:      actor,
	}
	if c.Id == "" {
		if !actor.IsLocal {
			return Outcome{}, fmt.Errorf("%w: comment id is required", domain.ErrValidation)
		}
		c.Serial = uuid.New().String()
		c.Id = domain.CommentID(p.self, actor.Serial, c.Serial)
	} else {
		c.Serial = domain.LastSegment(c.Id)
	}
	if err := p.materialize(ctx, caller, actor); err != nil {
		return Outcome{}, err
	}

	err = p.store.CreateComment(ctx, c)
	if errors.Is(err, domain.ErrConflictSkipped) {
		existing, rerr := p.store.ReadCommentById(ctx, c.Id)
		if rerr != nil {
			return Outcome{}, rerr
		}
		return Outcome{Created: false, Object: NewCommentObject(existing)}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	p.federator.Comment(ctx, c, entry, originHost(caller))
	return Outcome{Created: true, Object: NewCommentObject(c)}, nil
}

func (p *Processor) requireInteract(ctx context.Context, actor *domain.Author, entry *domain.Entry) error {
	ok, err := p.eval.CanInteract(ctx, actor, entry)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s may not see %s", domain.ErrForbidden, actor.Id, entry.Id)
	}
	return nil
}

// entry materializes a pushed entry. The inbox owner has to follow the
// author; the first push on a REQUESTED edge means the origin node accepted
// it.
func (p *Processor) entry(ctx context.Context, caller *Caller, actor, owner *domain.Author, a EntryActivity) (Outcome, error) {
	if caller.Node == nil {
		return Outcome{}, fmt.Errorf("%w: entries are pushed by their origin node", domain.ErrForbidden)
	}
	if !owner.IsLocal {
		return Outcome{}, fmt.Errorf("%w: %s is not hosted here", domain.ErrValidation, owner.Id)
	}

	e, err := a.Entry.ToEntry(actor)
	if err != nil {
		return Outcome{}, err
	}

	if err := p.acceptedByPush(ctx, owner, actor); err != nil {
		return Outcome{}, err
	}
	if err := p.materialize(ctx, caller, actor); err != nil {
		return Outcome{}, err
	}

	created, err := p.store.ApplyRemoteEntry(ctx, e)
	if err != nil {
		return Outcome{}, err
	}

	if e.Visibility == domain.VisibilityPublic && !e.IsDeleted && p.publisher != nil {
		if payload, err := json.Marshal(NewEntryObject(e)); err == nil {
			p.publisher.Broadcast(ctx, payload)
		}
	}
	return Outcome{Created: created, Object: map[string]string{"type": "entry", "id": e.Id}}, nil
}

func (p *Processor) acceptedByPush(ctx context.Context, owner, author *domain.Author) error {
	f, err := p.store.ReadFollow(ctx, owner.Id, author.Id)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: %s does not follow %s", domain.ErrForbidden, owner.Id, author.Id)
	}
	if err != nil {
		return err
	}
	switch f.Status {
	case domain.FollowAccepted:
		return nil
	case domain.FollowRequested:
		p.logger.Info("follow accepted by origin", "follower", owner.Id, "following", author.Id)
		return p.store.SetFollowStatus(ctx, owner.Id, author.Id, domain.FollowAccepted)
	}
	return fmt.Errorf("%w: follow from %s to %s is %s", domain.ErrForbidden, owner.Id, author.Id, f.Status)
}

func (p *Processor) record(ctx context.Context, act Activity, owner *domain.Author, body []byte) {
	entry := &domain.Activity{
		Id:           uuid.New(),
		ActivityType: act.Kind(),
		ActorURI:     act.ActorObject().Id,
		ObjectURI:    act.ObjectRef(),
		OwnerId:      owner.Id,
		RawJSON:      string(body),
		CreatedAt:    time.Now().UTC(),
	}
	if err := p.store.CreateActivity(ctx, entry); err != nil {
		p.logger.Warn("failed to record activity", "err", err)
	}
}

func originHost(caller *Caller) string {
	if caller.Node != nil {
		return caller.Node.Host
	}
	return ""
}

func sameAuthor(a, b string) bool {
	ha, sa, errA := domain.ParseAuthorID(a)
	hb, sb, errB := domain.ParseAuthorID(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return domain.SameHost(ha, hb) && sa == sb
}
