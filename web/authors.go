package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/deemkeen/socialdistro/domain"
	"github.com/deemkeen/socialdistro/federation"
	"github.com/deemkeen/socialdistro/middleware"
	"github.com/gin-gonic/gin"
)

// localAuthor resolves the :serial path parameter to a local author.
func (s *Server) localAuthor(c *gin.Context) (*domain.Author, error) {
	a, err := s.store.ReadLocalAuthorBySerial(c.Request.Context(), c.Param("serial"))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: author %s", domain.ErrNotFound, c.Param("serial"))
	}
	return a, err
}

// anyAuthor accepts a local serial or a fully-qualified author id.
func (s *Server) anyAuthor(ctx context.Context, ref string) (*domain.Author, error) {
	var (
		a   *domain.Author
		err error
	)
	if strings.Contains(ref, "://") {
		a, err = s.store.ReadAuthorById(ctx, domain.CanonicalAuthorID(ref))
	} else {
		a, err = s.store.ReadLocalAuthorBySerial(ctx, ref)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: author %s", domain.ErrNotFound, ref)
	}
	return a, err
}

func (s *Server) authorDetail(ctx context.Context, a *domain.Author) (federation.AuthorObject, error) {
	counts, err := s.store.CountRelations(ctx, a.Id)
	if err != nil {
		return federation.AuthorObject{}, err
	}
	return federation.NewAuthorObject(a).WithCounts(counts), nil
}

func authorObjects(authors []domain.Author) []federation.AuthorObject {
	objs := make([]federation.AuthorObject, 0, len(authors))
	for i := range authors {
		objs = append(objs, federation.NewAuthorObject(&authors[i]))
	}
	return objs
}

func (s *Server) handleListAuthors(c *gin.Context) {
	pageNumber, size, err := parsePage(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	authors, err := s.store.ReadLocalAuthors(c.Request.Context(), pageNumber, size)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"type": "authors", "authors": authorObjects(authors)})
}

func (s *Server) handleGetAuthor(c *gin.Context) {
	a, err := s.localAuthor(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	obj, err := s.authorDetail(c.Request.Context(), a)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, obj)
}

type profileRequest struct {
	DisplayName  *string `json:"displayName"`
	Github       *string `json:"github"`
	ProfileImage *string `json:"profileImage"`
}

func (s *Server) handleUpdateAuthor(c *gin.Context) {
	a, err := s.localAuthor(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if _, err := requireOwner(c, a); err != nil {
		s.respondError(c, err)
		return
	}

	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	if req.DisplayName != nil {
		a.DisplayName = strings.TrimSpace(*req.DisplayName)
	}
	if req.Github != nil {
		a.Github = *req.Github
	}
	if req.ProfileImage != nil {
		a.ProfileImage = *req.ProfileImage
	}
	if err := s.store.UpdateLocalAuthorProfile(c.Request.Context(), a); err != nil {
		s.respondError(c, err)
		return
	}
	obj, err := s.authorDetail(c.Request.Context(), a)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, obj)
}

func (s *Server) handleListFollowers(c *gin.Context) {
	a, err := s.localAuthor(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	followers, err := s.store.ReadFollowers(c.Request.Context(), a.Id, domain.FollowAccepted)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"type": "followers", "followers": authorObjects(followers)})
}

func (s *Server) handleListFollowing(c *gin.Context) {
	a, err := s.localAuthor(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	following, err := s.store.ReadFollowing(c.Request.Context(), a.Id, domain.FollowAccepted)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"type": "following", "following": authorObjects(following)})
}

func (s *Server) handleListFriends(c *gin.Context) {
	a, err := s.localAuthor(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	friends, err := s.store.ReadFriends(c.Request.Context(), a.Id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"type": "friends", "friends": authorObjects(friends)})
}

// handleFollowRequests lists pending requests. Only the owner sees them.
func (s *Server) handleFollowRequests(c *gin.Context) {
	a, err := s.localAuthor(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if _, err := requireOwner(c, a); err != nil {
		s.respondError(c, err)
		return
	}
	pending, err := s.store.ReadFollowers(c.Request.Context(), a.Id, domain.FollowRequested)
	if err != nil {
		s.respondError(c, err)
		return
	}
	requests := make([]federation.FollowObject, 0, len(pending))
	for i := range pending {
		requests = append(requests, federation.NewFollowObject(&pending[i], a, domain.FollowRequested))
	}
	c.JSON(http.StatusOK, gin.H{"type": "follow-requests", "requests": requests})
}

// handleGetFollower answers whether :other is an accepted follower.
func (s *Server) handleGetFollower(c *gin.Context) {
	ctx := c.Request.Context()
	a, err := s.localAuthor(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	other, err := s.anyAuthor(ctx, c.Param("other"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	ok, err := s.store.Follows(ctx, other.Id, a.Id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if !ok {
		s.respondError(c, fmt.Errorf("%w: %s does not follow %s", domain.ErrNotFound, other.Id, a.Id))
		return
	}
	c.JSON(http.StatusOK, federation.NewAuthorObject(other))
}

// handleAcceptFollower accepts a follow request. Accepting twice is fine.
func (s *Server) handleAcceptFollower(c *gin.Context) {
	ctx := c.Request.Context()
	a, err := s.localAuthor(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if _, err := requireOwner(c, a); err != nil {
		s.respondError(c, err)
		return
	}
	other, err := s.anyAuthor(ctx, c.Param("other"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	f, err := s.store.ReadFollow(ctx, other.Id, a.Id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	if f.Status != domain.FollowAccepted {
		if err := s.store.SetFollowStatus(ctx, other.Id, a.Id, domain.FollowAccepted); err != nil {
			s.respondError(c, err)
			return
		}
		s.logger.Info("accepted follower", "author", a.Id, "follower", other.Id)
		s.federator.Accepted(ctx, a, other)
	}
	c.JSON(http.StatusOK, federation.NewFollowObject(other, a, domain.FollowAccepted))
}

// handleRemoveFollower lets the owner deny a request or drop a follower, and
// lets the follower (or its node) unfollow. Missing edges are not an error.
func (s *Server) handleRemoveFollower(c *gin.Context) {
	ctx := c.Request.Context()
	a, err := s.localAuthor(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	caller := middleware.Caller(c)
	if caller == nil {
		s.respondError(c, domain.ErrAuthentication)
		return
	}

	otherRef := c.Param("other")
	otherId := domain.CanonicalAuthorID(otherRef)
	other, err := s.anyAuthor(ctx, otherRef)
	switch {
	case err == nil:
		otherId = other.Id
	case errors.Is(err, domain.ErrNotFound) && strings.Contains(otherRef, "://"):
	case errors.Is(err, domain.ErrNotFound):
		c.Status(http.StatusNoContent)
		return
	default:
		s.respondError(c, err)
		return
	}

	switch {
	case caller.Author != nil && caller.Author.Id == a.Id:
		err = s.removeAsOwner(ctx, a.Id, otherId)
	case caller.Author != nil && caller.Author.Id == otherId:
		err = s.store.DeleteFollow(ctx, otherId, a.Id)
	case caller.Node != nil && ownedByNode(otherId, caller.Node.Host):
		err = s.store.DeleteFollow(ctx, otherId, a.Id)
	default:
		err = fmt.Errorf("%w: only %s or the follower may remove this edge", domain.ErrForbidden, a.Id)
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// removeAsOwner denies a pending request and drops an accepted one.
func (s *Server) removeAsOwner(ctx context.Context, ownerId, followerId string) error {
	f, err := s.store.ReadFollow(ctx, followerId, ownerId)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	switch f.Status {
	case domain.FollowRequested:
		return s.store.SetFollowStatus(ctx, followerId, ownerId, domain.FollowDenied)
	case domain.FollowAccepted:
		return s.store.DeleteFollow(ctx, followerId, ownerId)
	}
	return nil
}

func ownedByNode(authorId, host string) bool {
	h, _, err := domain.ParseAuthorID(authorId)
	return err == nil && domain.SameHost(h, host)
}

// handleUnfollow drops the owner's edge to :other. The other side is not
// told; its pushes are refused from then on.
func (s *Server) handleUnfollow(c *gin.Context) {
	ctx := c.Request.Context()
	a, err := s.localAuthor(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if _, err := requireOwner(c, a); err != nil {
		s.respondError(c, err)
		return
	}
	other, err := s.anyAuthor(ctx, c.Param("other"))
	if errors.Is(err, domain.ErrNotFound) {
		c.Status(http.StatusNoContent)
		return
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.store.DeleteFollow(ctx, a.Id, other.Id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
