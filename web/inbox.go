package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/deemkeen/socialdistro/domain"
	"github.com/deemkeen/socialdistro/middleware"
	"github.com/gin-gonic/gin"
)

// handleInbox accepts federated activities. :serial is a local author, or
// the percent-encoded id of a remote author when a local author follows it.
func (s *Server) handleInbox(c *gin.Context) {
	ctx := c.Request.Context()
	owner, err := s.inboxOwner(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.respondError(c, err)
		return
	}

	out, err := s.processor.Receive(ctx, middleware.Caller(c), owner, body)
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

// inboxOwner resolves :serial. A local author addressing a remote author
// this node has never seen gets a stub built from the id.
func (s *Server) inboxOwner(c *gin.Context) (*domain.Author, error) {
	ctx := c.Request.Context()
	ref := c.Param("serial")
	owner, err := s.anyAuthor(ctx, ref)
	if !errors.Is(err, domain.ErrNotFound) || !strings.Contains(ref, "://") || middleware.Author(c) == nil {
		return owner, err
	}

	host, serial, perr := domain.ParseAuthorID(ref)
	if perr != nil {
		return nil, perr
	}
	if domain.SameHost(host, s.self) {
		return nil, err
	}
	stub := &domain.Author{Id: domain.AuthorID(host, serial), Host: host, Serial: serial}
	if err := s.store.UpsertRemoteAuthor(ctx, stub); err != nil {
		return nil, fmt.Errorf("store stub %s: %w", stub.Id, err)
	}
	return s.store.ReadAuthorById(ctx, stub.Id)
}
