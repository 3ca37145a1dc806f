package federation

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/deemkeen/socialdistro/domain"
)

const bobJSON = `{"type":"author","id":"http://node2:8000/api/authors/bob/","host":"http://node2:8000/","displayName":"Bob"}`

func TestDecodeActivityEnvelope(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind string
		ref  string
	}{
		{
			name: "follow",
			body: `{"type":"follow","summary":"Bob wants to follow Alice","actor":` + bobJSON + `,"object":{"type":"author","id":"http://node1:8000/api/authors/alice/"}}`,
			kind: "follow",
			ref:  "http://node1:8000/api/authors/alice/",
		},
		{
			name: "like with object id",
			body: `{"type":"like","id":"http://node2:8000/api/authors/bob/liked/1","actor":` + bobJSON + `,"object":"http://node1:8000/api/authors/alice/entries/e1"}`,
			kind: "like",
			ref:  "http://node1:8000/api/authors/alice/entries/e1",
		},
		{
			name: "like flat with author",
			body: `{"type":"Like","id":"http://node2:8000/api/authors/bob/liked/1","author":` + bobJSON + `,"object":"http://node1:8000/api/authors/alice/entries/e1","published":"2026-01-01T00:00:00Z"}`,
			kind: "like",
			ref:  "http://node1:8000/api/authors/alice/entries/e1",
		},
		{
			name: "like nested object",
			body: `{"type":"like","actor":` + bobJSON + `,"object":{"type":"like","id":"http://node2:8000/api/authors/bob/liked/1","object":"http://node1:8000/api/authors/alice/entries/e1"}}`,
			kind: "like",
			ref:  "http://node1:8000/api/authors/alice/entries/e1",
		},
		{
			name: "comment flat",
			body: `{"type":"comment","id":"http://node2:8000/api/authors/bob/commented/c1","author":` + bobJSON + `,"comment":"hi","entry":"http://node1:8000/api/authors/alice/entries/e1"}`,
			kind: "comment",
			ref:  "http://node1:8000/api/authors/alice/entries/e1",
		},
		{
			name: "entry envelope",
			body: `{"type":"entry","actor":` + bobJSON + `,"object":{"type":"entry","id":"http://node2:8000/api/authors/bob/entries/9","contentType":"text/plain","content":"x","visibility":"PUBLIC"}}`,
			kind: "entry",
			ref:  "http://node2:8000/api/authors/bob/entries/9",
		},
		{
			name: "entry flat",
			body: `{"type":"entry","id":"http://node2:8000/api/authors/bob/entries/9","title":"t","contentType":"text/plain","content":"x","visibility":"FRIENDS","author":` + bobJSON + `}`,
			kind: "entry",
			ref:  "http://node2:8000/api/authors/bob/entries/9",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act, err := DecodeActivity([]byte(tt.body))
			if err != nil {
				t.Fatalf("DecodeActivity failed: %v", err)
			}
			if act.Kind() != tt.kind {
				t.Errorf("Kind() = %q, want %q", act.Kind(), tt.kind)
			}
			if act.ObjectRef() != tt.ref {
				t.Errorf("ObjectRef() = %q, want %q", act.ObjectRef(), tt.ref)
			}
			if act.ActorObject().Id != "http://node2:8000/api/authors/bob/" {
				t.Errorf("actor = %q", act.ActorObject().Id)
			}
		})
	}
}

func TestDecodeActivityRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `nope`},
		{"unknown type", `{"type":"poke","actor":` + bobJSON + `}`},
		{"missing actor", `{"type":"like","object":"http://node1:8000/api/authors/alice/entries/e1"}`},
		{"like without object", `{"type":"like","actor":` + bobJSON + `}`},
		{"comment without text", `{"type":"comment","actor":` + bobJSON + `,"entry":"http://node1:8000/api/authors/alice/entries/e1"}`},
		{"follow without object", `{"type":"follow","actor":` + bobJSON + `}`},
		{"entry without id", `{"type":"entry","actor":` + bobJSON + `,"object":{"type":"entry"}}`},
		{"entry author differs", `{"type":"entry","actor":` + bobJSON + `,"object":{"id":"http://node2:8000/api/authors/carl/entries/1","author":{"id":"http://node2:8000/api/authors/carl/"}}}`},
		{"bad timestamp", `{"type":"like","actor":` + bobJSON + `,"object":"http://x/api/authors/a/entries/b","published":"yesterday"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeActivity([]byte(tt.body)); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestEncodeDecodeKeepsFields(t *testing.T) {
	published := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	var bob AuthorObject
	if err := json.Unmarshal([]byte(bobJSON), &bob); err != nil {
		t.Fatal(err)
	}

	comment := CommentActivity{
		envelope:    envelope{Actor: bob},
		Id:          "http://node2:8000/api/authors/bob/commented/c1",
		Entry:       "http://node1:8000/api/authors/alice/entries/e1",
		Comment:     "**nice**",
		ContentType: domain.ContentTypeMarkdown,
		Published:   published,
	}
	body, err := EncodeActivity(comment)
	if err != nil {
		t.Fatalf("EncodeActivity failed: %v", err)
	}
	decoded, err := DecodeActivity(body)
	if err != nil {
		t.Fatalf("DecodeActivity failed: %v", err)
	}
	got, ok := decoded.(CommentActivity)
	if !ok {
		t.Fatalf("decoded %T, want CommentActivity", decoded)
	}
	if got.Id != comment.Id || got.Entry != comment.Entry || got.Comment != comment.Comment || got.ContentType != comment.ContentType || !got.Published.Equal(published) {
		t.Errorf("decoded = %+v", got)
	}

	entry := EntryActivity{
		envelope: envelope{Actor: bob},
		Entry: EntryObject{
			Type: "entry", Id: "http://node2:8000/api/authors/bob/entries/9", ContentType: domain.ContentTypePNG,
			Content: "iVBORw0KGgoAAAA", Visibility: "PUBLIC", Author: bob,
		},
	}
	body, err = EncodeActivity(entry)
	if err != nil {
		t.Fatalf("EncodeActivity failed: %v", err)
	}
	decoded, err = DecodeActivity(body)
	if err != nil {
		t.Fatalf("DecodeActivity failed: %v", err)
	}
	ge := decoded.(EntryActivity)
	if ge.Entry.Id != entry.Entry.Id || ge.Entry.ContentType != domain.ContentTypePNG || ge.Entry.Content != entry.Entry.Content {
		t.Errorf("entry decoded = %+v", ge.Entry)
	}
}

func TestEntryObjectToEntry(t *testing.T) {
	bob := &domain.Author{Id: "http://node2:8000/api/authors/bob/", Host: "http://node2:8000/", Serial: "bob"}

	ok := EntryObject{Id: "http://node2:8000/api/authors/bob/entries/9", Visibility: "unlisted", Content: "x"}
	e, err := ok.ToEntry(bob)
	if err != nil {
		t.Fatalf("ToEntry failed: %v", err)
	}
	if e.Serial != "9" || e.Visibility != domain.VisibilityUnlisted || e.ContentType != domain.ContentTypePlain {
		t.Errorf("unexpected entry: %+v", e)
	}

	deleted := EntryObject{Id: "http://node2:8000/api/authors/bob/entries/9", Visibility: "DELETED"}
	e, err = deleted.ToEntry(bob)
	if err != nil || !e.IsDeleted {
		t.Errorf("delete ToEntry = %+v, %v", e, err)
	}

	foreign := EntryObject{Id: "http://node3:8000/api/authors/bob/entries/9", Visibility: "PUBLIC"}
	if _, err := foreign.ToEntry(bob); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("foreign host: %v", err)
	}

	badVisibility := EntryObject{Id: "http://node2:8000/api/authors/bob/entries/9", Visibility: "SECRET"}
	if _, err := badVisibility.ToEntry(bob); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("bad visibility: %v", err)
	}

	badImage := EntryObject{Id: "http://node2:8000/api/authors/bob/entries/9", ContentType: domain.ContentTypeJPEG, Content: "hello"}
	if _, err := badImage.ToEntry(bob); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("bad image: %v", err)
	}
}
