package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleStream is the home stream of the authenticated local author.
func (s *Server) handleStream(c *gin.Context) {
	ctx := c.Request.Context()
	author, err := requireAuthor(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	pageNumber, size, err := parsePage(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	entries, err := s.store.ReadStream(ctx, author.Id, pageNumber, size)
	if err != nil {
		s.respondError(c, err)
		return
	}
	total, err := s.store.CountStream(ctx, author.Id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	p, err := s.entryPage(ctx, entries, pageNumber, size, total)
	if err != nil {
		s.respondError(c, err)
		return
	}
	p.Type = "stream"
	c.JSON(http.StatusOK, p)
}

// handleLiveStream pushes PUBLIC entries as server-sent events until the
// client goes away.
func (s *Server) handleLiveStream(c *gin.Context) {
	client := s.hub.Register()
	defer s.hub.Unregister(client)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-client.Send:
			if !ok {
				return
			}
			c.SSEvent("entry", string(payload))
			c.Writer.Flush()
		}
	}
}
