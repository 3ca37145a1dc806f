package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/socialdistro/domain"
	"github.com/deemkeen/socialdistro/util"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"
)

const feedItems = 20

// GetRSS renders the newest PUBLIC entries of a local author as RSS 2.0.
func (s *Server) GetRSS(ctx context.Context, author *domain.Author) (string, error) {
	entries, err := s.store.ReadPublicEntriesByAuthor(ctx, author.Id, feedItems)
	if err != nil {
		return "", err
	}

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s - %s", util.Name, author.Name()),
		Link:        &feeds.Link{Href: author.Web()},
		Description: fmt.Sprintf("Public entries of %s", author.Name()),
		Author:      &feeds.Author{Name: author.Name()},
		Created:     time.Now(),
	}
	for _, e := range entries {
		item := &feeds.Item{
			Id:          e.Id,
			Title:       e.Title,
			Link:        &feeds.Link{Href: fmt.Sprintf("%sentries/%s", author.Web(), e.Serial)},
			Description: e.Description,
			Author:      &feeds.Author{Name: author.Name()},
			Created:     e.Published,
			Updated:     e.UpdatedAt,
		}
		switch e.ContentType {
		case domain.ContentTypeMarkdown:
			item.Content = util.MarkdownLinksToHTML(e.Content)
		case domain.ContentTypePlain:
			item.Content = e.Content
		}
		feed.Items = append(feed.Items, item)
	}
	return feed.ToRss()
}

func (s *Server) handleFeed(c *gin.Context) {
	author, err := s.localAuthor(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	rss, err := s.GetRSS(c.Request.Context(), author)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", []byte(rss))
}
