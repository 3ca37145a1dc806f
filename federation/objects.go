package federation

import (
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/socialdistro/domain"
)

// AuthorObject is the wire form of an author.
type AuthorObject struct {
	Type         string `json:"type"`
	Id           string `json:"id"`
	Host         string `json:"host"`
	DisplayName  string `json:"displayName"`
	Github       string `json:"github,omitempty"`
	ProfileImage string `json:"profileImage,omitempty"`
	Web          string `json:"web,omitempty"`
	Followers    *int   `json:"followers,omitempty"`
	Following    *int   `json:"following,omitempty"`
	Friends      *int   `json:"friends,omitempty"`
}

// Summary carries the size of a nested collection.
type Summary struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// EntryObject is the wire form of an entry.
type EntryObject struct {
	Type        string       `json:"type"`
	Id          string       `json:"id"`
	Web         string       `json:"web,omitempty"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	ContentType string       `json:"contentType"`
	Content     string       `json:"content"`
	Author      AuthorObject `json:"author"`
	Visibility  string       `json:"visibility"`
	Published   string       `json:"published"`
	Comments    *Summary     `json:"comments,omitempty"`
	Likes       *Summary     `json:"likes,omitempty"`
}

type CommentObject struct {
	Type        string       `json:"type"`
	Id          string       `json:"id"`
	Author      AuthorObject `json:"author"`
	Comment     string       `json:"comment"`
	ContentType string       `json:"contentType"`
	Published   string       `json:"published"`
	Entry       string       `json:"entry"`
}

type LikeObject struct {
	Type      string       `json:"type"`
	Id        string       `json:"id"`
	Author    AuthorObject `json:"author"`
	Object    string       `json:"object"`
	Published string       `json:"published"`
}

type FollowObject struct {
	Type    string       `json:"type"`
	Summary string       `json:"summary"`
	Actor   AuthorObject `json:"actor"`
	Object  AuthorObject `json:"object"`
	Status  string       `json:"status,omitempty"`
}

func NewAuthorObject(a *domain.Author) AuthorObject {
	return AuthorObject{
		Type:         "author",
		Id:           a.Id,
		Host:         domain.NormalizeHost(a.Host),
		DisplayName:  a.DisplayName,
		Github:       a.Github,
		ProfileImage: a.ProfileImage,
		Web:          a.Web(),
	}
}

// WithCounts attaches relationship counters for detail views.
func (o AuthorObject) WithCounts(c domain.AuthorCounts) AuthorObject {
	o.Followers, o.Following, o.Friends = &c.Followers, &c.Following, &c.Friends
	return o
}

// ToAuthor turns a payload author into a remote stub. The host is taken from
// the id when the payload does not carry one.
func (o AuthorObject) ToAuthor() (*domain.Author, error) {
	if o.Id == "" {
		return nil, fmt.Errorf("%w: author id is required", domain.ErrValidation)
	}
	host, serial, err := domain.ParseAuthorID(o.Id)
	if err != nil {
		return nil, err
	}
	if o.Host != "" && !domain.SameHost(o.Host, host) {
		return nil, fmt.Errorf("%w: author host %s does not match id %s", domain.ErrValidation, o.Host, o.Id)
	}
	return &domain.Author{
		Id:           domain.AuthorID(host, serial),
		Host:         host,
		Serial:       serial,
		DisplayName:  o.DisplayName,
		Github:       o.Github,
		ProfileImage: o.ProfileImage,
	}, nil
}

func NewEntryObject(e *domain.Entry) EntryObject {
	obj := EntryObject{
		Type:        "entry",
		Id:          e.Id,
		Title:       e.Title,
		Description: e.Description,
		ContentType: e.ContentType,
		Content:     e.Content,
		Visibility:  string(e.Visibility),
		Published:   FormatTime(e.Published),
	}
	if e.Author != nil {
		obj.Author = NewAuthorObject(e.Author)
		obj.Web = fmt.Sprintf("%sentries/%s", e.Author.Web(), e.Serial)
	}
	if e.IsDeleted {
		obj.Visibility = string(domain.VisibilityDeleted)
	}
	return obj
}

// ToEntry validates a pushed entry against its author and returns the row to
// materialize.
func (o EntryObject) ToEntry(author *domain.Author) (*domain.Entry, error) {
	if o.Id == "" {
		return nil, fmt.Errorf("%w: entry id is required", domain.ErrValidation)
	}
	ref, err := domain.ParseEntryID(o.Id)
	if err != nil {
		return nil, err
	}
	if !domain.SameHost(ref.Host, author.Host) || ref.AuthorSerial != author.Serial {
		return nil, fmt.Errorf("%w: entry %s does not belong to %s", domain.ErrForbidden, o.Id, author.Id)
	}

	visibility := domain.Visibility(strings.ToUpper(o.Visibility))
	if visibility == "" {
		visibility = domain.VisibilityPublic
	}
	deleted := visibility == domain.VisibilityDeleted
	if !deleted && !visibility.Valid() {
		return nil, fmt.Errorf("%w: invalid visibility %q", domain.ErrValidation, o.Visibility)
	}

	contentType := o.ContentType
	if contentType == "" {
		contentType = domain.ContentTypePlain
	}
	if !deleted {
		if err := domain.ValidateContent(contentType, o.Content); err != nil {
			return nil, err
		}
	}

	published, err := ParseTime(o.Published)
	if err != nil {
		return nil, err
	}
	return &domain.Entry{
		Id:          domain.EntryID(ref.Host, ref.AuthorSerial, ref.EntrySerial),
		Serial:      ref.EntrySerial,
		AuthorId:    author.Id,
		Title:       o.Title,
		Description: o.Description,
		ContentType: contentType,
		Content:     o.Content,
		Visibility:  visibility,
		Published:   published,
		IsDeleted:   deleted,
		Author:      author,
	}, nil
}

func NewCommentObject(c *domain.Comment) CommentObject {
	obj := CommentObject{
		Type:        "comment",
		Id:          c.Id,
		Comment:     c.Comment,
		ContentType: c.ContentType,
		Published:   FormatTime(c.Published),
		Entry:       c.EntryId,
	}
	if c.Author != nil {
		obj.Author = NewAuthorObject(c.Author)
	}
	return obj
}

func NewLikeObject(l *domain.Like) LikeObject {
	obj := LikeObject{
		Type:      "like",
		Id:        l.Id,
		Object:    l.ObjectId,
		Published: FormatTime(l.Published),
	}
	if l.Author != nil {
		obj.Author = NewAuthorObject(l.Author)
	}
	return obj
}

func NewFollowObject(follower, following *domain.Author, status domain.FollowStatus) FollowObject {
	return FollowObject{
		Type:    "follow",
		Summary: fmt.Sprintf("%s wants to follow %s", follower.Name(), following.Name()),
		Actor:   NewAuthorObject(follower),
		Object:  NewAuthorObject(following),
		Status:  string(status),
	}
}

func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime accepts RFC 3339 with or without fractional seconds. An empty
// value yields the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: bad timestamp %q", domain.ErrValidation, s)
}
