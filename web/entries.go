package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/deemkeen/socialdistro/domain"
	"github.com/deemkeen/socialdistro/federation"
	"github.com/deemkeen/socialdistro/visibility"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type entryRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	ContentType *string `json:"contentType"`
	Content     *string `json:"content"`
	Visibility  *string `json:"visibility"`
}

// apply copies the supplied fields onto e and validates the result.
func (r entryRequest) apply(e *domain.Entry) error {
	if r.Title != nil {
		e.Title = strings.TrimSpace(*r.Title)
	}
	if r.Description != nil {
		e.Description = *r.Description
	}
	if r.ContentType != nil {
		e.ContentType = *r.ContentType
	}
	if r.Content != nil {
		e.Content = *r.Content
	}
	if r.Visibility != nil {
		e.Visibility = domain.Visibility(strings.ToUpper(*r.Visibility))
	}

	if e.ContentType == "" {
		e.ContentType = domain.ContentTypePlain
	}
	if e.Visibility == "" {
		e.Visibility = domain.VisibilityPublic
	}
	if e.Title == "" {
		return fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if !e.Visibility.Valid() {
		return fmt.Errorf("%w: invalid visibility %q", domain.ErrValidation, e.Visibility)
	}
	return domain.ValidateContent(e.ContentType, e.Content)
}

func (s *Server) entryObject(ctx context.Context, e *domain.Entry) (federation.EntryObject, error) {
	obj := federation.NewEntryObject(e)
	comments, err := s.store.CountComments(ctx, e.Id)
	if err != nil {
		return obj, err
	}
	likes, err := s.store.CountLikes(ctx, e.Id)
	if err != nil {
		return obj, err
	}
	obj.Comments = &federation.Summary{Type: "comments", Count: comments}
	obj.Likes = &federation.Summary{Type: "likes", Count: likes}
	return obj, nil
}

func (s *Server) entryPage(ctx context.Context, entries []domain.Entry, pageNumber, size, total int) (page[federation.EntryObject], error) {
	p := page[federation.EntryObject]{Type: "entries", PageNumber: pageNumber, Size: size, Count: total, Src: make([]federation.EntryObject, 0, len(entries))}
	for i := range entries {
		obj, err := s.entryObject(ctx, &entries[i])
		if err != nil {
			return p, err
		}
		p.Src = append(p.Src, obj)
	}
	return p, nil
}

// visibleEntry loads the entry addressed by :serial and :entry and hides it
// from callers who may not read it. :serial may be an encoded remote author
// id, for entries materialized from other nodes.
func (s *Server) visibleEntry(c *gin.Context) (*domain.Entry, error) {
	owner, err := s.anyAuthor(c.Request.Context(), c.Param("serial"))
	if err != nil {
		return nil, err
	}
	e, err := s.store.ReadEntryByAuthorSerial(c.Request.Context(), owner.Id, c.Param("entry"))
	if err != nil {
		return nil, err
	}
	return s.checkVisible(c, e)
}

func (s *Server) checkVisible(c *gin.Context, e *domain.Entry) (*domain.Entry, error) {
	ok, err := s.eval.CanView(c.Request.Context(), viewer(c), e, visibility.Direct)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: entry %s", domain.ErrNotFound, e.Id)
	}
	return e, nil
}

// ownEntry loads a live entry for a write by its owner.
func (s *Server) ownEntry(c *gin.Context) (*domain.Entry, error) {
	owner, err := s.localAuthor(c)
	if err != nil {
		return nil, err
	}
	if _, err := requireOwner(c, owner); err != nil {
		return nil, err
	}
	return s.store.ReadEntryByAuthorSerial(c.Request.Context(), owner.Id, c.Param("entry"))
}

func (s *Server) publish(ctx context.Context, e *domain.Entry) {
	if s.hub == nil || e.Visibility != domain.VisibilityPublic || e.IsDeleted {
		return
	}
	payload, err := json.Marshal(federation.NewEntryObject(e))
	if err != nil {
		s.logger.Warn("failed to encode entry for stream", "entry", e.Id, "err", err)
		return
	}
	s.hub.Broadcast(ctx, payload)
}

func (s *Server) handleListEntries(c *gin.Context) {
	ctx := c.Request.Context()
	owner, err := s.localAuthor(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	pageNumber, size, err := parsePage(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	entries, err := s.store.ReadEntriesByAuthor(ctx, owner.Id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	visible, err := s.eval.Filter(ctx, viewer(c), entries)
	if err != nil {
		s.respondError(c, err)
		return
	}
	p, err := s.entryPage(ctx, window(visible, pageNumber, size), pageNumber, size, len(visible))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleCreateEntry(c *gin.Context) {
	ctx := c.Request.Context()
	owner, err := s.localAuthor(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if _, err := requireOwner(c, owner); err != nil {
		s.respondError(c, err)
		return
	}

	var req entryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	serial := uuid.New().String()
	e := &domain.Entry{
		Id:       domain.EntryID(s.self, owner.Serial, serial),
		Serial:   serial,
		AuthorId: owner.Id,
		Author:   owner,
	}
	if err := req.apply(e); err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.store.CreateEntry(ctx, e); err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Info("created entry", "entry", e.Id, "visibility", e.Visibility)

	s.federator.Entry(ctx, e)
	s.publish(ctx, e)

	obj, err := s.entryObject(ctx, e)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, obj)
}

func (s *Server) handleGetEntry(c *gin.Context) {
	e, err := s.visibleEntry(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	obj, err := s.entryObject(c.Request.Context(), e)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, obj)
}

func (s *Server) handleUpdateEntry(c *gin.Context) {
	ctx := c.Request.Context()
	e, err := s.ownEntry(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if e.IsDeleted {
		s.respondError(c, fmt.Errorf("%w: entry %s was deleted", domain.ErrNotFound, e.Id))
		return
	}

	var req entryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	previous := e.Visibility
	if err := req.apply(e); err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.store.UpdateEntry(ctx, e); err != nil {
		s.respondError(c, err)
		return
	}
	s.federator.Updated(ctx, e, previous)

	obj, err := s.entryObject(ctx, e)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, obj)
}

// handleDeleteEntry tombstones the entry and pushes the delete to every
// remote follower.
func (s *Server) handleDeleteEntry(c *gin.Context) {
	ctx := c.Request.Context()
	e, err := s.ownEntry(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if e.IsDeleted {
		c.Status(http.StatusNoContent)
		return
	}
	if err := s.store.TombstoneEntry(ctx, e.Id); err != nil {
		s.respondError(c, err)
		return
	}
	e.IsDeleted = true
	s.logger.Info("deleted entry", "entry", e.Id)
	s.federator.Entry(ctx, e)
	c.Status(http.StatusNoContent)
}

// handleEntriesByFQID serves the global public listing at /api/entries/ and
// direct fetches of /api/entries/{fqid} and its /likes, /comments and /image
// subresources.
func (s *Server) handleEntriesByFQID(c *gin.Context) {
	ref := strings.Trim(c.Param("fqid"), "/")
	if ref == "" {
		s.listPublicEntries(c)
		return
	}

	var sub string
	for _, suffix := range []string{"/likes", "/comments", "/image"} {
		if strings.HasSuffix(ref, suffix) {
			ref, sub = strings.TrimSuffix(ref, suffix), suffix
			break
		}
	}

	e, err := s.store.ReadEntryById(c.Request.Context(), domain.CanonicalEntryID(ref))
	if errors.Is(err, domain.ErrNotFound) {
		s.respondError(c, fmt.Errorf("%w: entry %s", domain.ErrNotFound, ref))
		return
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	if e, err = s.checkVisible(c, e); err != nil {
		s.respondError(c, err)
		return
	}

	switch sub {
	case "/likes":
		s.respondLikes(c, e.Id)
	case "/comments":
		s.respondComments(c, e)
	case "/image":
		s.respondImage(c, e)
	default:
		obj, err := s.entryObject(c.Request.Context(), e)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, obj)
	}
}

func (s *Server) listPublicEntries(c *gin.Context) {
	ctx := c.Request.Context()
	pageNumber, size, err := parsePage(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	entries, err := s.store.ReadPublicEntries(ctx, pageNumber, size)
	if err != nil {
		s.respondError(c, err)
		return
	}
	total, err := s.store.CountPublicEntries(ctx)
	if err != nil {
		s.respondError(c, err)
		return
	}
	p, err := s.entryPage(ctx, entries, pageNumber, size, total)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// handleGetEntryImage serves an image entry as binary.
func (s *Server) handleGetEntryImage(c *gin.Context) {
	e, err := s.visibleEntry(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.respondImage(c, e)
}

func (s *Server) respondImage(c *gin.Context, e *domain.Entry) {
	data, mime, err := e.Image()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, mime, data)
}
