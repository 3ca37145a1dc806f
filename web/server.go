package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/socialdistro/db"
	"github.com/deemkeen/socialdistro/domain"
	"github.com/deemkeen/socialdistro/federation"
	"github.com/deemkeen/socialdistro/middleware"
	"github.com/deemkeen/socialdistro/stream"
	"github.com/deemkeen/socialdistro/visibility"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	maxInboxBytes = 1 << 20
	maxPageSize   = 100
)

// Options wires the server to the rest of the node.
type Options struct {
	Self      string
	Store     *db.DB
	Registry  *federation.Registry
	Evaluator *visibility.Evaluator
	Federator *federation.Federator
	Processor *federation.Processor
	Hub       *stream.Hub
	Logger    *log.Logger

	// InboxRate and InboxBurst bound inbox posts per client IP.
	InboxRate  rate.Limit
	InboxBurst int
}

type Server struct {
	self      string
	store     *db.DB
	registry  *federation.Registry
	eval      *visibility.Evaluator
	federator *federation.Federator
	processor *federation.Processor
	hub       *stream.Hub
	limiter   *RateLimiter
	logger    *log.Logger
}

func NewServer(opts Options) *Server {
	if opts.InboxRate == 0 {
		opts.InboxRate = rate.Limit(20)
	}
	if opts.InboxBurst == 0 {
		opts.InboxBurst = 40
	}
	return &Server{
		self:      domain.NormalizeHost(opts.Self),
		store:     opts.Store,
		registry:  opts.Registry,
		eval:      opts.Evaluator,
		federator: opts.Federator,
		processor: opts.Processor,
		hub:       opts.Hub,
		limiter:   NewRateLimiter(opts.InboxRate, opts.InboxBurst),
		logger:    opts.Logger.WithPrefix("web"),
	}
}

// Router builds the gin engine. Path parameters may carry percent-encoded
// FQIDs, so routing happens on the raw path.
func (s *Server) Router() *gin.Engine {
	g := gin.Default()
	g.UseRawPath = true
	g.UnescapePathValues = true
	g.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/stream/live"})))
	g.Use(middleware.AuthMiddleware(s.registry, s.logger))

	api := g.Group("/api")
	api.GET("/authors/", s.handleListAuthors)
	api.GET("/authors/:serial/", s.handleGetAuthor)
	api.PUT("/authors/:serial/", s.handleUpdateAuthor)

	api.POST("/authors/:serial/inbox/", RateLimitMiddleware(s.limiter), middleware.RequireCaller(), MaxBytesMiddleware(maxInboxBytes), s.handleInbox)

	api.GET("/authors/:serial/followers/", s.handleListFollowers)
	api.GET("/authors/:serial/followers/:other/", s.handleGetFollower)
	api.PUT("/authors/:serial/followers/:other/", s.handleAcceptFollower)
	api.DELETE("/authors/:serial/followers/:other/", s.handleRemoveFollower)
	api.GET("/authors/:serial/following/", s.handleListFollowing)
	api.DELETE("/authors/:serial/following/:other/", s.handleUnfollow)
	api.GET("/authors/:serial/friends/", s.handleListFriends)
	api.GET("/authors/:serial/follow-requests/", s.handleFollowRequests)

	api.GET("/authors/:serial/entries/", s.handleListEntries)
	api.POST("/authors/:serial/entries/", s.handleCreateEntry)
	api.GET("/authors/:serial/entries/:entry", s.handleGetEntry)
	api.PUT("/authors/:serial/entries/:entry", s.handleUpdateEntry)
	api.DELETE("/authors/:serial/entries/:entry", s.handleDeleteEntry)
	api.GET("/authors/:serial/entries/:entry/image", s.handleGetEntryImage)

	api.GET("/authors/:serial/entries/:entry/likes/", s.handleListEntryLikes)
	api.POST("/authors/:serial/entries/:entry/likes/", s.handleLikeEntry)
	api.GET("/authors/:serial/entries/:entry/comments/", s.handleListComments)
	api.POST("/authors/:serial/entries/:entry/comments/", s.handleCreateComment)
	api.GET("/authors/:serial/entries/:entry/comments/:comment/likes/", s.handleListCommentLikes)
	api.POST("/authors/:serial/entries/:entry/comments/:comment/likes/", s.handleLikeComment)

	api.GET("/authors/:serial/commented/", s.handleListCommented)
	api.GET("/authors/:serial/commented/:comment", s.handleGetCommented)
	api.GET("/authors/:serial/liked/", s.handleListLiked)
	api.GET("/authors/:serial/liked/:like", s.handleGetLiked)

	api.GET("/entries/*fqid", s.handleEntriesByFQID)
	api.GET("/commented/*fqid", s.handleCommentedByFQID)
	api.GET("/liked/*fqid", s.handleLikedByFQID)

	api.GET("/stream/", s.handleStream)
	api.GET("/stream/live", s.handleLiveStream)

	g.GET("/authors/:serial/feed", s.handleFeed)
	return g
}

// ListenAndServe serves until ctx is done, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go s.limiter.Cleanup(ctx, 5*time.Minute)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr, "node", s.self)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// page is the paginated list shape shared by entries, comments and likes.
type page[T any] struct {
	Type       string `json:"type"`
	Id         string `json:"id,omitempty"`
	PageNumber int    `json:"page_number"`
	Size       int    `json:"size"`
	Count      int    `json:"count"`
	Src        []T    `json:"src"`
}

func parsePage(c *gin.Context) (int, int, error) {
	pageNumber, size := 1, 10
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, errors.Join(domain.ErrValidation, errors.New("page must be a positive integer"))
		}
		pageNumber = n
	}
	if v := c.Query("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, errors.Join(domain.ErrValidation, errors.New("size must be a positive integer"))
		}
		size = min(n, maxPageSize)
	}
	return pageNumber, size, nil
}

// window returns the slice of items on the given page.
func window[T any](items []T, pageNumber, size int) []T {
	start := (pageNumber - 1) * size
	if start >= len(items) {
		return []T{}
	}
	return items[start:min(start+size, len(items))]
}

// viewer is the identity visibility is evaluated for. A peer node is
// authenticated but is nobody's follower or friend.
func viewer(c *gin.Context) *domain.Author {
	caller := middleware.Caller(c)
	switch {
	case caller == nil:
		return nil
	case caller.Author != nil:
		return caller.Author
	}
	return &domain.Author{Host: caller.Node.Host}
}

// requireAuthor returns the authenticated local author.
func requireAuthor(c *gin.Context) (*domain.Author, error) {
	caller := middleware.Caller(c)
	if caller == nil {
		return nil, domain.ErrAuthentication
	}
	if caller.Author == nil {
		return nil, errors.Join(domain.ErrForbidden, errors.New("only local authors may do this"))
	}
	return caller.Author, nil
}

func requireOwner(c *gin.Context, owner *domain.Author) (*domain.Author, error) {
	author, err := requireAuthor(c)
	if err != nil {
		return nil, err
	}
	if author.Id != owner.Id {
		return nil, errors.Join(domain.ErrForbidden, errors.New("not the owner"))
	}
	return author, nil
}
