package federation

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/socialdistro/db"
	"github.com/deemkeen/socialdistro/domain"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// HashCost is the bcrypt cost for stored passwords.
var HashCost = bcrypt.DefaultCost

// Caller is the authenticated identity behind a request: either a peer node
// or a local author. A nil *Caller is anonymous.
type Caller struct {
	Node   *domain.RemoteNode
	Author *domain.Author
}

// Registry is the operator-managed list of peers and the credential store
// for local authors.
type Registry struct {
	self   string
	store  *db.DB
	logger *log.Logger
}

func NewRegistry(self string, store *db.DB, logger *log.Logger) *Registry {
	return &Registry{self: domain.NormalizeHost(self), store: store, logger: logger.WithPrefix("registry")}
}

// ResolveOutgoing returns the credentials to present to host. Unknown or
// inactive peers are unreachable.
func (r *Registry) ResolveOutgoing(ctx context.Context, host string) (*domain.RemoteNode, error) {
	node, err := r.store.ReadRemoteNode(ctx, host)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: no node registered for %s", domain.ErrRemoteUnreachable, host)
	}
	if err != nil {
		return nil, err
	}
	if !node.IsActive {
		return nil, fmt.Errorf("%w: node %s is inactive", domain.ErrRemoteUnreachable, host)
	}
	return node, nil
}

// AuthenticateIncoming checks the basic-auth pair presented on behalf of host.
func (r *Registry) AuthenticateIncoming(ctx context.Context, host, username, password string) bool {
	node, err := r.store.ReadRemoteNode(ctx, host)
	if err != nil || !node.IsActive || node.IncomingUsername != username {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(node.IncomingPasswordHash), []byte(password)) == nil
}

// Identify maps a basic-auth pair to a caller. Node credentials are tried
// first, then local authors.
func (r *Registry) Identify(ctx context.Context, username, password string) (*Caller, error) {
	node, err := r.store.ReadRemoteNodeByIncomingUsername(ctx, username)
	switch {
	case err == nil:
		if node.IsActive && r.AuthenticateIncoming(ctx, node.Host, username, password) {
			return &Caller{Node: node}, nil
		}
		return nil, fmt.Errorf("%w: bad node credentials for %s", domain.ErrAuthentication, username)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	author, err := r.store.ReadAuthorByUsername(ctx, username)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user %s", domain.ErrAuthentication, username)
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(author.PasswordHash), []byte(password)) != nil {
		return nil, fmt.Errorf("%w: bad password for %s", domain.ErrAuthentication, username)
	}
	return &Caller{Author: author}, nil
}

// RegisterNode creates or replaces a peer. The incoming password is stored
// hashed, the outgoing one in clear since it has to be presented.
func (r *Registry) RegisterNode(ctx context.Context, host, outgoingUser, outgoingPass, incomingUser, incomingPass string) (*domain.RemoteNode, error) {
	if _, err := domain.HostOf(host); err != nil {
		return nil, err
	}
	if incomingUser == "" || incomingPass == "" {
		return nil, fmt.Errorf("%w: incoming credentials are required", domain.ErrValidation)
	}
	if domain.SameHost(host, r.self) {
		return nil, fmt.Errorf("%w: %s is this node", domain.ErrValidation, host)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(incomingPass), HashCost)
	if err != nil {
		return nil, err
	}
	node := &domain.RemoteNode{
		Host:                 host,
		OutgoingUsername:     outgoingUser,
		OutgoingPassword:     outgoingPass,
		IncomingUsername:     incomingUser,
		IncomingPasswordHash: string(hash),
		IsActive:             true,
	}
	if err := r.store.UpsertRemoteNode(ctx, node); err != nil {
		return nil, err
	}
	r.logger.Info("registered node", "host", node.Host)
	return node, nil
}

// RegisterAuthor creates a local author with a fresh serial.
func (r *Registry) RegisterAuthor(ctx context.Context, username, password, displayName, github string) (*domain.Author, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", domain.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), HashCost)
	if err != nil {
		return nil, err
	}
	serial := uuid.New().String()
	author := &domain.Author{
		Id:           domain.AuthorID(r.self, serial),
		Host:         r.self,
		Serial:       serial,
		DisplayName:  displayName,
		Github:       github,
		Username:     username,
		PasswordHash: string(hash),
	}
	if author.DisplayName == "" {
		author.DisplayName = username
	}
	if err := r.store.CreateLocalAuthor(ctx, author); err != nil {
		return nil, err
	}
	r.logger.Info("registered author", "username", username, "id", author.Id)
	return author, nil
}
