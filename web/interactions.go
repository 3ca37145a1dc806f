package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/deemkeen/socialdistro/db"
	"github.com/deemkeen/socialdistro/domain"
	"github.com/deemkeen/socialdistro/federation"
	"github.com/deemkeen/socialdistro/middleware"
	"github.com/gin-gonic/gin"
)

func (s *Server) respondLikes(c *gin.Context, objectId string) {
	ctx := c.Request.Context()
	pageNumber, size, err := parsePage(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	likes, err := s.store.ReadLikesByObject(ctx, objectId, pageNumber, size)
	if err != nil {
		s.respondError(c, err)
		return
	}
	total, err := s.store.CountLikes(ctx, objectId)
	if err != nil {
		s.respondError(c, err)
		return
	}
	p := page[federation.LikeObject]{Type: "likes", Id: objectId + "/likes", PageNumber: pageNumber, Size: size, Count: total, Src: make([]federation.LikeObject, 0, len(likes))}
	for i := range likes {
		p.Src = append(p.Src, federation.NewLikeObject(&likes[i]))
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) respondComments(c *gin.Context, e *domain.Entry) {
	ctx := c.Request.Context()
	pageNumber, size, err := parsePage(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	comments, err := s.store.ReadCommentsByEntry(ctx, e.Id, pageNumber, size)
	if err != nil {
		s.respondError(c, err)
		return
	}
	total, err := s.store.CountComments(ctx, e.Id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	p := page[federation.CommentObject]{Type: "comments", Id: e.Id + "/comments", PageNumber: pageNumber, Size: size, Count: total, Src: make([]federation.CommentObject, 0, len(comments))}
	for i := range comments {
		p.Src = append(p.Src, federation.NewCommentObject(&comments[i]))
	}
	c.JSON(http.StatusOK, p)
}

// targetEntry loads the entry a local author wants to interact with.
// Whether they may is decided by the processor.
func (s *Server) targetEntry(c *gin.Context) (*domain.Entry, error) {
	owner, err := s.anyAuthor(c.Request.Context(), c.Param("serial"))
	if err != nil {
		return nil, err
	}
	return s.store.ReadEntryByAuthorSerial(c.Request.Context(), owner.Id, c.Param("entry"))
}

// entryComment resolves :comment, a serial or a comment id, within e.
func (s *Server) entryComment(c *gin.Context, e *domain.Entry) (*domain.Comment, error) {
	ref := c.Param("comment")
	var (
		comment *domain.Comment
		err     error
	)
	if strings.Contains(ref, "://") {
		comment, err = s.store.ReadCommentById(c.Request.Context(), ref)
	} else {
		comment, err = s.store.ReadCommentBySerial(c.Request.Context(), e.Id, ref)
	}
	if err == nil && comment.EntryId != e.Id {
		err = domain.ErrNotFound
	}
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: comment %s", domain.ErrNotFound, ref)
	}
	return comment, err
}

// submit runs a local author's activity through the inbox rules and writes
// the outcome.
func (s *Server) submit(c *gin.Context, author, owner *domain.Author, act federation.Activity) {
	out, err := s.processor.Submit(c.Request.Context(), author, owner, act)
	if err != nil {
		s.respondError(c, err)
		return
	}
	status := http.StatusOK
	if out.Created {
		status = http.StatusCreated
	}
	c.JSON(status, out.Object)
}

func (s *Server) handleListEntryLikes(c *gin.Context) {
	e, err := s.visibleEntry(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.respondLikes(c, e.Id)
}

func (s *Server) handleLikeEntry(c *gin.Context) {
	author, err := requireAuthor(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	e, err := s.targetEntry(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.submit(c, author, e.Author, federation.NewLike(author, "", e.Id, time.Now().UTC()))
}

func (s *Server) handleListComments(c *gin.Context) {
	e, err := s.visibleEntry(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.respondComments(c, e)
}

type commentRequest struct {
	Comment     string `json:"comment"`
	ContentType string `json:"contentType"`
}

func (s *Server) handleCreateComment(c *gin.Context) {
	author, err := requireAuthor(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	e, err := s.targetEntry(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	act := federation.NewComment(author, "", e.Id, req.Comment, req.ContentType, time.Now().UTC())
	s.submit(c, author, e.Author, act)
}

func (s *Server) handleListCommentLikes(c *gin.Context) {
	e, err := s.visibleEntry(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	comment, err := s.entryComment(c, e)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.respondLikes(c, comment.Id)
}

func (s *Server) handleLikeComment(c *gin.Context) {
	author, err := requireAuthor(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	e, err := s.targetEntry(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	comment, err := s.entryComment(c, e)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.submit(c, author, e.Author, federation.NewLike(author, "", comment.Id, time.Now().UTC()))
}

// reader describes the caller to the by-author listings.
func reader(c *gin.Context) db.Reader {
	caller := middleware.Caller(c)
	switch {
	case caller == nil:
		return db.Reader{}
	case caller.Author != nil:
		return db.Reader{AuthorId: caller.Author.Id, Authenticated: true}
	}
	return db.Reader{Authenticated: true}
}

// handleListCommented lists the comments an author made, limited to entries
// the caller may read.
func (s *Server) handleListCommented(c *gin.Context) {
	ctx := c.Request.Context()
	a, err := s.anyAuthor(ctx, c.Param("serial"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	pageNumber, size, err := parsePage(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	r := reader(c)
	comments, err := s.store.ReadCommentsByAuthor(ctx, a.Id, r, pageNumber, size)
	if err != nil {
		s.respondError(c, err)
		return
	}
	total, err := s.store.CountCommentsByAuthor(ctx, a.Id, r)
	if err != nil {
		s.respondError(c, err)
		return
	}
	p := page[federation.CommentObject]{Type: "comments", Id: a.Id + "commented", PageNumber: pageNumber, Size: size, Count: total, Src: make([]federation.CommentObject, 0, len(comments))}
	for i := range comments {
		p.Src = append(p.Src, federation.NewCommentObject(&comments[i]))
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleGetCommented(c *gin.Context) {
	a, err := s.anyAuthor(c.Request.Context(), c.Param("serial"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.respondComment(c, domain.CommentID(a.Host, a.Serial, c.Param("comment")))
}

func (s *Server) handleCommentedByFQID(c *gin.Context) {
	s.respondComment(c, strings.Trim(c.Param("fqid"), "/"))
}

// respondComment serves one comment if the caller may read its entry.
func (s *Server) respondComment(c *gin.Context, id string) {
	comment, err := s.store.ReadCommentById(c.Request.Context(), id)
	if err == nil {
		err = s.entryReadable(c, comment.EntryId)
	}
	if errors.Is(err, domain.ErrNotFound) {
		err = fmt.Errorf("%w: comment %s", domain.ErrNotFound, id)
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, federation.NewCommentObject(comment))
}

// handleListLiked lists what an author liked, limited to entries (and
// comments on entries) the caller may read.
func (s *Server) handleListLiked(c *gin.Context) {
	ctx := c.Request.Context()
	a, err := s.anyAuthor(ctx, c.Param("serial"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	pageNumber, size, err := parsePage(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	r := reader(c)
	likes, err := s.store.ReadLikesByAuthor(ctx, a.Id, r, pageNumber, size)
	if err != nil {
		s.respondError(c, err)
		return
	}
	total, err := s.store.CountLikesByAuthor(ctx, a.Id, r)
	if err != nil {
		s.respondError(c, err)
		return
	}
	p := page[federation.LikeObject]{Type: "likes", Id: a.Id + "liked", PageNumber: pageNumber, Size: size, Count: total, Src: make([]federation.LikeObject, 0, len(likes))}
	for i := range likes {
		p.Src = append(p.Src, federation.NewLikeObject(&likes[i]))
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleGetLiked(c *gin.Context) {
	a, err := s.anyAuthor(c.Request.Context(), c.Param("serial"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.respondLike(c, domain.LikeID(a.Host, a.Serial, c.Param("like")))
}

func (s *Server) handleLikedByFQID(c *gin.Context) {
	s.respondLike(c, strings.Trim(c.Param("fqid"), "/"))
}

// respondLike serves one like if the caller may read the entry it lands on.
func (s *Server) respondLike(c *gin.Context, id string) {
	ctx := c.Request.Context()
	like, err := s.store.ReadLikeById(ctx, id)
	if err == nil {
		entryId := like.ObjectId
		if like.ObjectKind == domain.LikeComment {
			var comment *domain.Comment
			if comment, err = s.store.ReadCommentById(ctx, like.ObjectId); err == nil {
				entryId = comment.EntryId
			}
		}
		if err == nil {
			err = s.entryReadable(c, entryId)
		}
	}
	if errors.Is(err, domain.ErrNotFound) {
		err = fmt.Errorf("%w: like %s", domain.ErrNotFound, id)
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, federation.NewLikeObject(like))
}

// entryReadable hides interactions on entries the caller may not fetch.
func (s *Server) entryReadable(c *gin.Context, entryId string) error {
	e, err := s.store.ReadEntryById(c.Request.Context(), entryId)
	if err != nil {
		return err
	}
	_, err = s.checkVisible(c, e)
	return err
}
