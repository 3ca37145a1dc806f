package federation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/deemkeen/socialdistro/domain"
)

func encode(t *testing.T, act Activity) []byte {
	t.Helper()
	body, err := EncodeActivity(act)
	if err != nil {
		t.Fatalf("EncodeActivity failed: %v", err)
	}
	return body
}

func likeFrom(actor *domain.Author, id, object string) LikeActivity {
	return NewLike(actor, id, object, time.Time{})
}

type recordingPublisher struct{ payloads [][]byte }

func (p *recordingPublisher) Broadcast(_ context.Context, payload []byte) {
	p.payloads = append(p.payloads, payload)
}

func TestReceiveLikeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.node(t, remoteHost)
	alice := env.localAuthor(t, "alice")
	e := env.entry(t, alice, "e1", domain.VisibilityPublic)
	bob := &domain.Author{Id: domain.AuthorID(remoteHost, "bob"), Host: remoteHost, Serial: "bob", DisplayName: "Bob"}

	body := encode(t, likeFrom(bob, domain.LikeID(remoteHost, "bob", "l1"), e.Id))
	caller := &Caller{Node: n}

	out, err := env.processor.Receive(ctx, caller, alice, body)
	if err != nil {
		t.Fatalf("first Receive failed: %v", err)
	}
	if !out.Created {
		t.Error("first like should be created")
	}

	out, err = env.processor.Receive(ctx, caller, alice, body)
	if err != nil {
		t.Fatalf("second Receive failed: %v", err)
	}
	if out.Created {
		t.Error("redelivered like should not be created")
	}
	if obj, ok := out.Object.(LikeObject); !ok || obj.Id != domain.LikeID(remoteHost, "bob", "l1") {
		t.Errorf("unexpected outcome object: %+v", out.Object)
	}

	count, err := env.store.CountLikes(ctx, e.Id)
	if err != nil {
		t.Fatalf("CountLikes failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 like, got %d", count)
	}

	stub, err := env.store.ReadAuthorById(ctx, bob.Id)
	if err != nil {
		t.Fatalf("actor stub not stored: %v", err)
	}
	if stub.IsLocal || stub.DisplayName != "Bob" {
		t.Errorf("unexpected stub: %+v", stub)
	}

	acts, err := env.store.ReadRecentActivities(ctx, 10)
	if err != nil {
		t.Fatalf("ReadRecentActivities failed: %v", err)
	}
	if len(acts) != 2 || acts[0].ActivityType != "like" {
		t.Errorf("expected 2 logged likes, got %+v", acts)
	}
}

func TestReceiveRejectsForeignActor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.node(t, remoteHost)
	alice := env.localAuthor(t, "alice")
	e := env.entry(t, alice, "e1", domain.VisibilityPublic)

	carol := &domain.Author{Id: domain.AuthorID("http://node3:8000/", "carol"), Host: "http://node3:8000/", Serial: "carol"}
	body := encode(t, likeFrom(carol, domain.LikeID("http://node3:8000/", "carol", "l1"), e.Id))

	_, err := env.processor.Receive(ctx, &Caller{Node: n}, alice, body)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if count, _ := env.store.CountLikes(ctx, e.Id); count != 0 {
		t.Errorf("rejected like was stored")
	}
	if _, err := env.store.ReadAuthorById(ctx, carol.Id); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("rejected actor was stored: %v", err)
	}
}

func TestReceiveAuthorImpersonation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.localAuthor(t, "alice")
	mallory := env.localAuthor(t, "mallory")
	e := env.entry(t, alice, "e1", domain.VisibilityPublic)

	body := encode(t, likeFrom(alice, "", e.Id))
	if _, err := env.processor.Receive(ctx, &Caller{Author: mallory}, alice, body); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestReceiveRequiresCaller(t *testing.T) {
	env := newTestEnv(t)
	alice := env.localAuthor(t, "alice")
	e := env.entry(t, alice, "e1", domain.VisibilityPublic)

	body := encode(t, likeFrom(alice, "", e.Id))
	if _, err := env.processor.Receive(context.Background(), nil, alice, body); !errors.Is(err, domain.ErrAuthentication) {
		t.Errorf("expected ErrAuthentication, got %v", err)
	}
}

func TestReceiveLocalLikeGetsId(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.localAuthor(t, "alice")
	e := env.entry(t, alice, "e1", domain.VisibilityPublic)

	out, err := env.processor.Receive(ctx, &Caller{Author: alice}, alice, encode(t, likeFrom(alice, "", e.Id)))
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	obj := out.Object.(LikeObject)
	if _, _, err := domain.ParseAuthorID(obj.Author.Id); err != nil || obj.Id == "" {
		t.Errorf("unexpected like object: %+v", obj)
	}
}

func TestReceiveLikeNeedsVisibleTarget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.node(t, remoteHost)
	alice := env.localAuthor(t, "alice")
	friendsOnly := env.entry(t, alice, "secret", domain.VisibilityFriends)
	bob := &domain.Author{Id: domain.AuthorID(remoteHost, "bob"), Host: remoteHost, Serial: "bob"}
	caller := &Caller{Node: n}

	_, err := env.processor.Receive(ctx, caller, alice, encode(t, likeFrom(bob, domain.LikeID(remoteHost, "bob", "1"), friendsOnly.Id)))
	if !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("friends-only entry: expected ErrForbidden, got %v", err)
	}

	missing := domain.EntryID(selfHost, alice.Serial, "nope")
	_, err = env.processor.Receive(ctx, caller, alice, encode(t, likeFrom(bob, domain.LikeID(remoteHost, "bob", "2"), missing)))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing entry: expected ErrNotFound, got %v", err)
	}

	public := env.entry(t, alice, "open", domain.VisibilityPublic)
	_, err = env.processor.Receive(ctx, caller, alice, encode(t, likeFrom(bob, "", public.Id)))
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("remote like without id: expected ErrValidation, got %v", err)
	}
}

func TestReceiveCommentLike(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.localAuthor(t, "alice")
	e := env.entry(t, alice, "e1", domain.VisibilityPublic)

	out, err := env.processor.Submit(ctx, alice, alice, NewComment(alice, "", e.Id, "first", "", time.Time{}))
	if err != nil {
		t.Fatalf("comment Submit failed: %v", err)
	}
	c := out.Object.(CommentObject)

	out, err = env.processor.Submit(ctx, alice, alice, likeFrom(alice, "", c.Id))
	if err != nil {
		t.Fatalf("like Submit failed: %v", err)
	}
	if !out.Created {
		t.Error("comment like should be created")
	}
	likes, err := env.store.ReadLikesByObject(ctx, c.Id, 1, 10)
	if err != nil {
		t.Fatalf("ReadLikesByObject failed: %v", err)
	}
	if len(likes) != 1 || likes[0].ObjectKind != domain.LikeComment {
		t.Errorf("unexpected likes: %+v", likes)
	}
}

func TestReceiveDuplicateComment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.node(t, remoteHost)
	alice := env.localAuthor(t, "alice")
	e := env.entry(t, alice, "e1", domain.VisibilityPublic)
	bob := &domain.Author{Id: domain.AuthorID(remoteHost, "bob"), Host: remoteHost, Serial: "bob"}

	comment := CommentActivity{
		envelope: envelope{Actor: NewAuthorObject(bob)},
		Id:       domain.CommentID(remoteHost, "bob", "c1"),
		Entry:    e.Id,
		Comment:  "hello",
	}
	body := encode(t, comment)
	for i, wantCreated := range []bool{true, false} {
		out, err := env.processor.Receive(ctx, &Caller{Node: n}, alice, body)
		if err != nil {
			t.Fatalf("Receive %d failed: %v", i, err)
		}
		if out.Created != wantCreated {
			t.Errorf("Receive %d: Created = %v, want %v", i, out.Created, wantCreated)
		}
	}
	if count, _ := env.store.CountComments(ctx, e.Id); count != 1 {
		t.Errorf("expected 1 comment, got %d", count)
	}
	stored, err := env.store.ReadCommentById(ctx, comment.Id)
	if err != nil {
		t.Fatalf("ReadCommentById failed: %v", err)
	}
	if stored.ContentType != domain.ContentTypePlain {
		t.Errorf("content type = %q", stored.ContentType)
	}
}

func TestReceiveFollow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.node(t, remoteHost)
	alice := env.localAuthor(t, "alice")
	bob := &domain.Author{Id: domain.AuthorID(remoteHost, "bob"), Host: remoteHost, Serial: "bob"}

	follow := FollowActivity{envelope: envelope{Actor: NewAuthorObject(bob)}, Object: NewAuthorObject(alice)}
	body := encode(t, follow)
	caller := &Caller{Node: n}

	out, err := env.processor.Receive(ctx, caller, alice, body)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if !out.Created || out.Object.(FollowObject).Status != string(domain.FollowRequested) {
		t.Errorf("unexpected first outcome: %+v", out)
	}

	out, err = env.processor.Receive(ctx, caller, alice, body)
	if err != nil || out.Created {
		t.Errorf("repeat follow: %+v, %v", out, err)
	}

	if err := env.store.SetFollowStatus(ctx, bob.Id, alice.Id, domain.FollowDenied); err != nil {
		t.Fatalf("SetFollowStatus failed: %v", err)
	}
	out, err = env.processor.Receive(ctx, caller, alice, body)
	if err != nil || !out.Created {
		t.Errorf("follow after deny should reopen: %+v, %v", out, err)
	}

	wrongTarget := FollowActivity{envelope: envelope{Actor: NewAuthorObject(bob)}, Object: AuthorObject{Id: domain.AuthorID(selfHost, "someone")}}
	if _, err := env.processor.Receive(ctx, caller, alice, encode(t, wrongTarget)); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("follow to another author: expected ErrValidation, got %v", err)
	}
	if len(env.queue.inboxes()) != 0 {
		t.Errorf("follow to local author must not be pushed: %v", env.queue.inboxes())
	}
}

func TestLocalFollowOfRemoteAuthorIsPushed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.node(t, remoteHost)
	alice := env.localAuthor(t, "alice")
	bob := env.remoteAuthor(t, remoteHost, "bob")

	follow := FollowActivity{envelope: envelope{Actor: NewAuthorObject(alice)}, Object: NewAuthorObject(bob)}
	out, err := env.processor.Receive(ctx, &Caller{Author: alice}, bob, encode(t, follow))
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if !out.Created {
		t.Error("follow should be created")
	}
	if got := env.queue.inboxes(); len(got) != 1 || got[0] != bob.Inbox() {
		t.Errorf("expected push to %s, got %v", bob.Inbox(), got)
	}

	// A node cannot relay follows to authors it does not host.
	carl := env.remoteAuthor(t, remoteHost, "carl")
	relay := FollowActivity{envelope: envelope{Actor: NewAuthorObject(carl)}, Object: NewAuthorObject(bob)}
	if _, err := env.processor.Receive(ctx, &Caller{Node: n}, bob, encode(t, relay)); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestReceiveEntryPush(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.node(t, remoteHost)
	alice := env.localAuthor(t, "alice")
	bob := env.remoteAuthor(t, remoteHost, "bob")
	publisher := &recordingPublisher{}
	env.processor.publisher = publisher

	entryID := domain.EntryID(remoteHost, "bob", "9")
	push := func(visibility, content string) EntryActivity {
		return EntryActivity{
			envelope: envelope{Actor: NewAuthorObject(bob)},
			Entry: EntryObject{
				Type: "entry", Id: entryID, Title: "t", ContentType: domain.ContentTypePlain,
				Content: content, Visibility: visibility, Author: NewAuthorObject(bob),
			},
		}
	}
	caller := &Caller{Node: n}

	if _, err := env.processor.Receive(ctx, caller, alice, encode(t, push("PUBLIC", "v1"))); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("push without follow: expected ErrForbidden, got %v", err)
	}

	if _, err := env.store.RequestFollow(ctx, alice.Id, bob.Id); err != nil {
		t.Fatalf("RequestFollow failed: %v", err)
	}
	out, err := env.processor.Receive(ctx, caller, alice, encode(t, push("PUBLIC", "v1")))
	if err != nil {
		t.Fatalf("first push failed: %v", err)
	}
	if !out.Created {
		t.Error("first push should create the entry")
	}
	f, err := env.store.ReadFollow(ctx, alice.Id, bob.Id)
	if err != nil || f.Status != domain.FollowAccepted {
		t.Errorf("follow should be accepted by the push: %+v, %v", f, err)
	}
	if len(publisher.payloads) != 1 {
		t.Errorf("expected one broadcast, got %d", len(publisher.payloads))
	}

	out, err = env.processor.Receive(ctx, caller, alice, encode(t, push("FRIENDS", "v2")))
	if err != nil || out.Created {
		t.Fatalf("update push: %+v, %v", out, err)
	}
	stored, _ := env.store.ReadEntryById(ctx, entryID)
	if stored.Content != "v2" || stored.Visibility != domain.VisibilityFriends {
		t.Errorf("entry not updated: %+v", stored)
	}
	if len(publisher.payloads) != 1 {
		t.Errorf("friends-only update must not be broadcast")
	}

	if _, err := env.processor.Receive(ctx, caller, alice, encode(t, push("DELETED", ""))); err != nil {
		t.Fatalf("delete push failed: %v", err)
	}
	if _, err := env.processor.Receive(ctx, caller, alice, encode(t, push("PUBLIC", "v3"))); err != nil {
		t.Fatalf("push after delete failed: %v", err)
	}
	stored, _ = env.store.ReadEntryById(ctx, entryID)
	if !stored.IsDeleted || stored.Content != "v2" {
		t.Errorf("tombstone should survive later pushes: %+v", stored)
	}

	if _, err := env.processor.Receive(ctx, &Caller{Author: alice}, alice, encode(t, push("PUBLIC", "x"))); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("entry from an author caller: expected ErrForbidden, got %v", err)
	}
}

func TestReceiveEntryAfterDeny(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.node(t, remoteHost)
	alice := env.localAuthor(t, "alice")
	bob := env.remoteAuthor(t, remoteHost, "bob")
	if _, err := env.store.RequestFollow(ctx, alice.Id, bob.Id); err != nil {
		t.Fatal(err)
	}
	if err := env.store.SetFollowStatus(ctx, alice.Id, bob.Id, domain.FollowDenied); err != nil {
		t.Fatal(err)
	}

	push := EntryActivity{
		envelope: envelope{Actor: NewAuthorObject(bob)},
		Entry:    EntryObject{Id: domain.EntryID(remoteHost, "bob", "1"), Content: "x", Visibility: "PUBLIC"},
	}
	if _, err := env.processor.Receive(ctx, &Caller{Node: n}, alice, encode(t, push)); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestReceiveForwardsInteractionsExceptToOrigin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n2 := env.node(t, remoteHost)
	env.node(t, "http://node3:8000/")
	alice := env.localAuthor(t, "alice")
	e := env.entry(t, alice, "e1", domain.VisibilityPublic)

	bob := env.remoteAuthor(t, remoteHost, "bob")
	carol := env.remoteAuthor(t, "http://node3:8000/", "carol")
	env.accept(t, bob, alice)
	env.accept(t, carol, alice)

	body := encode(t, likeFrom(bob, domain.LikeID(remoteHost, "bob", "l1"), e.Id))
	if _, err := env.processor.Receive(ctx, &Caller{Node: n2}, alice, body); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	got := env.queue.inboxes()
	if len(got) != 1 || got[0] != carol.Inbox() {
		t.Errorf("expected forward to %s only, got %v", carol.Inbox(), got)
	}
}

func TestReceiveCanonicalizesRemoteIds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.node(t, remoteHost)
	alice := env.localAuthor(t, "alice")
	bob := env.remoteAuthor(t, remoteHost, "bob")
	if _, err := env.store.RequestFollow(ctx, alice.Id, bob.Id); err != nil {
		t.Fatalf("RequestFollow failed: %v", err)
	}

	// Same author and entry, spelled without the api/ segment.
	loose := AuthorObject{Type: "author", Id: "http://node2:8000/authors/bob/", Host: remoteHost, DisplayName: "bob"}
	push := EntryActivity{
		envelope: envelope{Actor: loose},
		Entry: EntryObject{
			Type: "entry", Id: "http://node2:8000/authors/bob/entries/9", Title: "t",
			ContentType: domain.ContentTypePlain, Content: "hi", Visibility: "PUBLIC", Author: loose,
		},
	}
	out, err := env.processor.Receive(ctx, &Caller{Node: n}, alice, encode(t, push))
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if !out.Created {
		t.Error("push should create the entry")
	}

	f, err := env.store.ReadFollow(ctx, alice.Id, bob.Id)
	if err != nil || f.Status != domain.FollowAccepted {
		t.Errorf("follow should be accepted by the push: %+v, %v", f, err)
	}
	if _, err := env.store.ReadAuthorById(ctx, loose.Id); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("non-canonical author row was stored: %v", err)
	}
	stored, err := env.store.ReadEntryById(ctx, domain.EntryID(remoteHost, "bob", "9"))
	if err != nil {
		t.Fatalf("entry not stored under its canonical id: %v", err)
	}
	if stored.AuthorId != bob.Id {
		t.Errorf("entry author = %s, want %s", stored.AuthorId, bob.Id)
	}

	// A like whose actor id drops the trailing slash lands on the same row.
	e := env.entry(t, alice, "e1", domain.VisibilityPublic)
	like := NewLike(&domain.Author{Id: strings.TrimSuffix(bob.Id, "/"), Host: remoteHost}, domain.LikeID(remoteHost, "bob", "l1"), e.Id, time.Time{})
	if _, err := env.processor.Receive(ctx, &Caller{Node: n}, alice, encode(t, like)); err != nil {
		t.Fatalf("like failed: %v", err)
	}
	if _, err := env.store.ReadLike(ctx, bob.Id, e.Id); err != nil {
		t.Errorf("like not stored for the canonical author: %v", err)
	}
}

func TestRejectedActivityStoresNoActor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n := env.node(t, remoteHost)
	alice := env.localAuthor(t, "alice")
	friendsOnly := env.entry(t, alice, "f1", domain.VisibilityFriends)
	public := env.entry(t, alice, "p1", domain.VisibilityPublic)
	dave := &domain.Author{Id: domain.AuthorID(remoteHost, "dave"), Host: remoteHost, Serial: "dave"}

	tests := []struct {
		name    string
		act     Activity
		wantErr error
	}{
		{"like on friends entry", likeFrom(dave, domain.LikeID(remoteHost, "dave", "1"), friendsOnly.Id), domain.ErrForbidden},
		{"like without id", likeFrom(dave, "", public.Id), domain.ErrValidation},
		{"comment on missing entry", NewComment(dave, domain.CommentID(remoteHost, "dave", "c1"), domain.EntryID(selfHost, alice.Serial, "nope"), "hi", "", time.Time{}), domain.ErrNotFound},
		{"comment without id", NewComment(dave, "", public.Id, "hi", "", time.Time{}), domain.ErrValidation},
		{"entry push without follow", EntryActivity{
			envelope: envelope{Actor: NewAuthorObject(dave)},
			Entry:    EntryObject{Type: "entry", Id: domain.EntryID(remoteHost, "dave", "1"), Content: "x", Visibility: "PUBLIC", Author: NewAuthorObject(dave)},
		}, domain.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.processor.Receive(ctx, &Caller{Node: n}, alice, encode(t, tt.act))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}
			if _, err := env.store.ReadAuthorById(ctx, dave.Id); !errors.Is(err, domain.ErrNotFound) {
				t.Errorf("rejected actor was stored: %v", err)
			}
		})
	}
}
