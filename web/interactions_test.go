package web

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/deemkeen/socialdistro/domain"
	"github.com/deemkeen/socialdistro/federation"
)

type likePageBody struct {
	Count int                     `json:"count"`
	Src   []federation.LikeObject `json:"src"`
}

type commentPageBody struct {
	Count int                        `json:"count"`
	Src   []federation.CommentObject `json:"src"`
}

func TestLikeEntry(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.author(t, "alice")
	ts.author(t, "bob")
	ts.node(t, "http://node2:8000/", "node2")
	e := ts.createEntry(t, alice, "likeable", domain.VisibilityPublic)
	likes := entryPath(e) + "/likes/"

	expectStatus(t, ts.do(t, http.MethodPost, likes, "", nil), http.StatusUnauthorized)
	expectStatus(t, ts.do(t, http.MethodPost, likes, "node2", nil), http.StatusForbidden)

	w := ts.do(t, http.MethodPost, likes, "bob", nil)
	expectStatus(t, w, http.StatusCreated)
	like := decode[federation.LikeObject](t, w)
	if like.Object != e.Id || like.Id == "" {
		t.Errorf("Unexpected like: %+v", like)
	}
	expectStatus(t, ts.do(t, http.MethodPost, likes, "bob", nil), http.StatusOK)

	w = ts.do(t, http.MethodGet, likes, "", nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode[likePageBody](t, w); got.Count != 1 || len(got.Src) != 1 {
		t.Errorf("Expected one like, got count %d", got.Count)
	}

	w = ts.do(t, http.MethodGet, "/api/entries/"+url.PathEscape(e.Id)+"/likes", "", nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode[likePageBody](t, w); got.Count != 1 {
		t.Errorf("Expected one like by fqid, got %d", got.Count)
	}

	w = ts.do(t, http.MethodGet, entryPath(e), "", nil)
	if got := decode[federation.EntryObject](t, w); got.Likes == nil || got.Likes.Count != 1 {
		t.Errorf("Expected likes summary of 1, got %+v", got.Likes)
	}

	expectStatus(t, ts.do(t, http.MethodPost, authorPath(alice)+"entries/missing/likes/", "bob", nil), http.StatusNotFound)
}

func TestInteractionsNeedVisibility(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.author(t, "alice")
	ts.author(t, "bob")
	e := ts.createEntry(t, alice, "secret", domain.VisibilityFriends)

	expectStatus(t, ts.do(t, http.MethodPost, entryPath(e)+"/likes/", "bob", nil), http.StatusForbidden)
	expectStatus(t, ts.do(t, http.MethodPost, entryPath(e)+"/comments/", "bob", map[string]string{"comment": "hi"}), http.StatusForbidden)
	expectStatus(t, ts.do(t, http.MethodGet, entryPath(e)+"/likes/", "bob", nil), http.StatusNotFound)
	expectStatus(t, ts.do(t, http.MethodGet, entryPath(e)+"/comments/", "bob", nil), http.StatusNotFound)

	expectStatus(t, ts.do(t, http.MethodPost, entryPath(e)+"/likes/", "alice", nil), http.StatusCreated)
}

func TestCommentsAndCommentLikes(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.author(t, "alice")
	ts.author(t, "bob")
	e := ts.createEntry(t, alice, "discuss", domain.VisibilityPublic)
	comments := entryPath(e) + "/comments/"

	expectStatus(t, ts.do(t, http.MethodPost, comments, "bob", map[string]string{"comment": ""}), http.StatusBadRequest)

	w := ts.do(t, http.MethodPost, comments, "bob", map[string]string{"comment": "nice **post**", "contentType": domain.ContentTypeMarkdown})
	expectStatus(t, w, http.StatusCreated)
	comment := decode[federation.CommentObject](t, w)
	if comment.Entry != e.Id || comment.ContentType != domain.ContentTypeMarkdown || comment.Comment != "nice **post**" {
		t.Errorf("Unexpected comment: %+v", comment)
	}

	w = ts.do(t, http.MethodPost, comments, "alice", map[string]string{"comment": "thanks"})
	expectStatus(t, w, http.StatusCreated)
	if got := decode[federation.CommentObject](t, w); got.ContentType != domain.ContentTypePlain {
		t.Errorf("Expected plain default, got %s", got.ContentType)
	}

	w = ts.do(t, http.MethodGet, comments+"?size=1", "", nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode[commentPageBody](t, w); got.Count != 2 || len(got.Src) != 1 {
		t.Errorf("Expected 2 comments with one on the page, got %d/%d", got.Count, len(got.Src))
	}

	w = ts.do(t, http.MethodGet, "/api/entries/"+url.PathEscape(e.Id)+"/comments", "", nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode[commentPageBody](t, w); got.Count != 2 {
		t.Errorf("Expected 2 comments by fqid, got %d", got.Count)
	}

	serial := domain.LastSegment(comment.Id)
	for _, ref := range []string{serial, url.PathEscape(comment.Id)} {
		commentLikes := comments + ref + "/likes/"
		w = ts.do(t, http.MethodPost, commentLikes, "alice", nil)
		if w.Code != http.StatusCreated && w.Code != http.StatusOK {
			t.Fatalf("Liking comment via %s failed: %d %s", ref, w.Code, w.Body.String())
		}
		w = ts.do(t, http.MethodGet, commentLikes, "", nil)
		expectStatus(t, w, http.StatusOK)
		if got := decode[likePageBody](t, w); got.Count != 1 || got.Src[0].Object != comment.Id {
			t.Errorf("Expected one like on the comment, got %+v", got)
		}
	}

	expectStatus(t, ts.do(t, http.MethodGet, comments+"missing/likes/", "", nil), http.StatusNotFound)

	other := ts.createEntry(t, alice, "other", domain.VisibilityPublic)
	expectStatus(t, ts.do(t, http.MethodGet, entryPath(other)+"/comments/"+serial+"/likes/", "", nil), http.StatusNotFound)
}

// localPath turns an id minted by this node back into its request path.
func localPath(id string) string {
	return "/" + strings.TrimPrefix(id, testHost)
}

func TestCommentedAndLikedAPIs(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.author(t, "alice")
	bob := ts.author(t, "bob")
	ts.author(t, "carol")
	ts.node(t, "http://node2:8000/", "node2")
	ts.befriend(t, alice, bob)
	public := ts.createEntry(t, alice, "open", domain.VisibilityPublic)
	friends := ts.createEntry(t, alice, "close", domain.VisibilityFriends)

	w := ts.do(t, http.MethodPost, entryPath(public)+"/comments/", "bob", map[string]string{"comment": "open reply"})
	expectStatus(t, w, http.StatusCreated)
	openComment := decode[federation.CommentObject](t, w)
	w = ts.do(t, http.MethodPost, entryPath(friends)+"/comments/", "bob", map[string]string{"comment": "close reply"})
	expectStatus(t, w, http.StatusCreated)
	closeComment := decode[federation.CommentObject](t, w)

	w = ts.do(t, http.MethodPost, entryPath(public)+"/likes/", "bob", nil)
	expectStatus(t, w, http.StatusCreated)
	openLike := decode[federation.LikeObject](t, w)
	w = ts.do(t, http.MethodPost, entryPath(friends)+"/comments/"+domain.LastSegment(closeComment.Id)+"/likes/", "bob", nil)
	expectStatus(t, w, http.StatusCreated)
	closeLike := decode[federation.LikeObject](t, w)

	lists := []struct {
		name         string
		user         string
		wantComments int
		wantLikes    int
	}{
		{"anonymous", "", 1, 1},
		{"stranger", "carol", 1, 1},
		{"node", "node2", 1, 1},
		{"friend", "alice", 2, 2},
		{"self", "bob", 2, 2},
	}
	for _, tt := range lists {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodGet, authorPath(bob)+"commented/", tt.user, nil)
			expectStatus(t, w, http.StatusOK)
			if got := decode[commentPageBody](t, w); got.Count != tt.wantComments || len(got.Src) != tt.wantComments {
				t.Errorf("Expected %d comments, got %d/%d", tt.wantComments, got.Count, len(got.Src))
			}
			w = ts.do(t, http.MethodGet, authorPath(bob)+"liked/", tt.user, nil)
			expectStatus(t, w, http.StatusOK)
			if got := decode[likePageBody](t, w); got.Count != tt.wantLikes || len(got.Src) != tt.wantLikes {
				t.Errorf("Expected %d likes, got %d/%d", tt.wantLikes, got.Count, len(got.Src))
			}
		})
	}

	// Minted ids dereference at their own paths.
	w = ts.do(t, http.MethodGet, localPath(openComment.Id), "", nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode[federation.CommentObject](t, w); got.Id != openComment.Id || got.Comment != "open reply" {
		t.Errorf("Unexpected comment: %+v", got)
	}
	w = ts.do(t, http.MethodGet, localPath(openLike.Id), "", nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode[federation.LikeObject](t, w); got.Id != openLike.Id || got.Object != public.Id {
		t.Errorf("Unexpected like: %+v", got)
	}
	expectStatus(t, ts.do(t, http.MethodGet, localPath(closeComment.Id), "carol", nil), http.StatusNotFound)
	expectStatus(t, ts.do(t, http.MethodGet, localPath(closeComment.Id), "alice", nil), http.StatusOK)
	expectStatus(t, ts.do(t, http.MethodGet, localPath(closeLike.Id), "", nil), http.StatusNotFound)
	expectStatus(t, ts.do(t, http.MethodGet, localPath(closeLike.Id), "alice", nil), http.StatusOK)

	expectStatus(t, ts.do(t, http.MethodGet, "/api/commented/"+url.PathEscape(openComment.Id), "", nil), http.StatusOK)
	expectStatus(t, ts.do(t, http.MethodGet, "/api/liked/"+url.PathEscape(openLike.Id)+"/", "", nil), http.StatusOK)
	expectStatus(t, ts.do(t, http.MethodGet, "/api/liked/"+url.PathEscape(closeLike.Id), "carol", nil), http.StatusNotFound)
	expectStatus(t, ts.do(t, http.MethodGet, authorPath(bob)+"commented/missing", "", nil), http.StatusNotFound)
	expectStatus(t, ts.do(t, http.MethodGet, "/api/liked/"+url.PathEscape(testHost+"api/authors/bob/liked/nope"), "", nil), http.StatusNotFound)
}
