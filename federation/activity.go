package federation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/socialdistro/domain"
)

// Activity is one inbox payload. The concrete types below are the only
// implementations.
type Activity interface {
	Kind() string
	ActorObject() AuthorObject
	// ObjectRef is the id of whatever the activity acts on, for the inbox log.
	ObjectRef() string
	sealed()
}

type envelope struct {
	Actor   AuthorObject
	Summary string
}

func (e envelope) ActorObject() AuthorObject { return e.Actor }
func (envelope) sealed()                     {}

type FollowActivity struct {
	envelope
	Object AuthorObject
}

func (FollowActivity) Kind() string        { return "follow" }
func (a FollowActivity) ObjectRef() string { return a.Object.Id }

type LikeActivity struct {
	envelope
	Id        string
	Object    string
	Published time.Time
}

func (LikeActivity) Kind() string        { return "like" }
func (a LikeActivity) ObjectRef() string { return a.Object }

type CommentActivity struct {
	envelope
	Id          string
	Entry       string
	Comment     string
	ContentType string
	Published   time.Time
}

func (CommentActivity) Kind() string        { return "comment" }
func (a CommentActivity) ObjectRef() string { return a.Entry }

// EntryActivity creates, updates or (with visibility DELETED) deletes an
// entry on the receiving node.
type EntryActivity struct {
	envelope
	Entry EntryObject
}

func (EntryActivity) Kind() string        { return "entry" }
func (a EntryActivity) ObjectRef() string { return a.Entry.Id }

// NewFollow builds the follow a local author sends to target.
func NewFollow(follower, target *domain.Author) FollowActivity {
	obj := NewFollowObject(follower, target, domain.FollowRequested)
	return FollowActivity{envelope: envelope{Actor: obj.Actor, Summary: obj.Summary}, Object: obj.Object}
}

func NewLike(actor *domain.Author, id, object string, published time.Time) LikeActivity {
	return LikeActivity{envelope: envelope{Actor: NewAuthorObject(actor)}, Id: id, Object: object, Published: published}
}

func NewComment(actor *domain.Author, id, entryId, text, contentType string, published time.Time) CommentActivity {
	return CommentActivity{
		envelope:    envelope{Actor: NewAuthorObject(actor)},
		Id:          id,
		Entry:       entryId,
		Comment:     text,
		ContentType: contentType,
		Published:   published,
	}
}

// wireActivity is the union of everything peers send. Both the
// {type, actor, object, summary} envelope and the flat form, where the
// object's fields sit next to "type" and the actor is called "author", are
// accepted.
type wireActivity struct {
	Type        string          `json:"type"`
	Summary     string          `json:"summary,omitempty"`
	Actor       *AuthorObject   `json:"actor,omitempty"`
	Author      *AuthorObject   `json:"author,omitempty"`
	Object      json.RawMessage `json:"object,omitempty"`
	Id          string          `json:"id,omitempty"`
	Entry       string          `json:"entry,omitempty"`
	Comment     string          `json:"comment,omitempty"`
	ContentType string          `json:"contentType,omitempty"`
	Published   string          `json:"published,omitempty"`

	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content,omitempty"`
	Visibility  string `json:"visibility,omitempty"`
}

// nestedObject is an object given as a JSON object rather than an id.
type nestedObject struct {
	Type        string `json:"type"`
	Id          string `json:"id"`
	Object      string `json:"object"`
	Entry       string `json:"entry"`
	Comment     string `json:"comment"`
	ContentType string `json:"contentType"`
	Published   string `json:"published"`
}

// DecodeActivity parses and validates an inbox payload.
func DecodeActivity(body []byte) (Activity, error) {
	var w wireActivity
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	env := envelope{Summary: w.Summary}
	switch {
	case w.Actor != nil && w.Actor.Id != "":
		env.Actor = *w.Actor
	case w.Author != nil && w.Author.Id != "":
		env.Actor = *w.Author
	default:
		return nil, fmt.Errorf("%w: actor is required", domain.ErrValidation)
	}

	switch strings.ToLower(w.Type) {
	case "follow":
		var target AuthorObject
		if err := json.Unmarshal(w.Object, &target); err != nil || target.Id == "" {
			return nil, fmt.Errorf("%w: follow needs an author object", domain.ErrValidation)
		}
		return FollowActivity{envelope: env, Object: target}, nil

	case "like":
		like := LikeActivity{envelope: env, Id: w.Id}
		published := w.Published
		if id, ok := objectID(w.Object); ok {
			like.Object = id
		} else if nested, ok := nested(w.Object); ok {
			like.Object = firstNonEmpty(nested.Object, nested.Id)
			like.Id = firstNonEmpty(like.Id, nestedIDIfDistinct(nested))
			published = firstNonEmpty(published, nested.Published)
		}
		if like.Object == "" {
			return nil, fmt.Errorf("%w: like needs an object", domain.ErrValidation)
		}
		t, err := ParseTime(published)
		if err != nil {
			return nil, err
		}
		like.Published = t
		return like, nil

	case "comment":
		c := CommentActivity{envelope: env, Id: w.Id, Entry: w.Entry, Comment: w.Comment, ContentType: w.ContentType}
		published := w.Published
		if id, ok := objectID(w.Object); ok {
			c.Entry = firstNonEmpty(c.Entry, id)
		} else if n, ok := nested(w.Object); ok {
			c.Id = firstNonEmpty(c.Id, n.Id)
			c.Entry = firstNonEmpty(c.Entry, n.Entry)
			c.Comment = firstNonEmpty(c.Comment, n.Comment)
			c.ContentType = firstNonEmpty(c.ContentType, n.ContentType)
			published = firstNonEmpty(published, n.Published)
		}
		if c.Entry == "" {
			return nil, fmt.Errorf("%w: comment needs an entry", domain.ErrValidation)
		}
		if c.Comment == "" {
			return nil, fmt.Errorf("%w: comment text is required", domain.ErrValidation)
		}
		if c.ContentType == "" {
			c.ContentType = domain.ContentTypePlain
		}
		t, err := ParseTime(published)
		if err != nil {
			return nil, err
		}
		c.Published = t
		return c, nil

	case "entry":
		var obj EntryObject
		if len(w.Object) > 0 && w.Object[0] == '{' {
			if err := json.Unmarshal(w.Object, &obj); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
			}
		} else {
			obj = EntryObject{
				Type:        "entry",
				Id:          w.Id,
				Title:       w.Title,
				Description: w.Description,
				ContentType: w.ContentType,
				Content:     w.Content,
				Visibility:  w.Visibility,
				Published:   w.Published,
				Author:      env.Actor,
			}
		}
		if obj.Id == "" {
			return nil, fmt.Errorf("%w: entry id is required", domain.ErrValidation)
		}
		if obj.Author.Id != "" && obj.Author.Id != env.Actor.Id {
			return nil, fmt.Errorf("%w: entry author differs from actor", domain.ErrValidation)
		}
		return EntryActivity{envelope: env, Entry: obj}, nil
	}
	return nil, fmt.Errorf("%w: unsupported type %q", domain.ErrValidation, w.Type)
}

// EncodeActivity renders the canonical envelope sent to peers.
func EncodeActivity(a Activity) ([]byte, error) {
	w := wireActivity{Type: a.Kind()}
	actor := a.ActorObject()
	w.Actor = &actor

	var object any
	switch act := a.(type) {
	case FollowActivity:
		w.Summary = act.Summary
		object = act.Object
	case LikeActivity:
		w.Id = act.Id
		w.Published = FormatTime(act.Published)
		object = act.Object
	case CommentActivity:
		w.Id = act.Id
		w.Entry = act.Entry
		w.Comment = act.Comment
		w.ContentType = act.ContentType
		w.Published = FormatTime(act.Published)
		object = act.Entry
	case EntryActivity:
		object = act.Entry
	default:
		return nil, fmt.Errorf("unknown activity %T", a)
	}

	raw, err := json.Marshal(object)
	if err != nil {
		return nil, err
	}
	w.Object = raw
	return json.Marshal(w)
}

func objectID(raw json.RawMessage) (string, bool) {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return "", false
	}
	return s, s != ""
}

func nested(raw json.RawMessage) (nestedObject, bool) {
	var n nestedObject
	if len(raw) == 0 || raw[0] != '{' || json.Unmarshal(raw, &n) != nil {
		return n, false
	}
	return n, true
}

// A nested like either carries the target in "object" and its own id in
// "id", or only the target in "id".
func nestedIDIfDistinct(n nestedObject) string {
	if n.Object != "" {
		return n.Id
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
