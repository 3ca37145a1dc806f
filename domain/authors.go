package domain

import (
	"fmt"
	"time"
)

// Author is either a locally registered account or a remote stub mirrored
// from another node. Id is the fully-qualified author URL and never changes.
type Author struct {
	Id           string
	Host         string
	Serial       string
	DisplayName  string
	Github       string
	ProfileImage string
	// Local-only login fields, empty for remote stubs.
	Username     string
	PasswordHash string
	IsLocal      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AuthorCounts holds the relationship counters served with an author.
type AuthorCounts struct {
	Followers int
	Following int
	Friends   int
}

// Web returns the profile page URL for the author on its origin node.
func (a *Author) Web() string {
	return fmt.Sprintf("%sauthors/%s/", NormalizeHost(a.Host), a.Serial)
}

// Inbox returns the federation ingress URL of the author on its origin node.
func (a *Author) Inbox() string {
	return fmt.Sprintf("%sapi/authors/%s/inbox/", NormalizeHost(a.Host), a.Serial)
}

// Name falls back to the serial when no display name was supplied.
func (a *Author) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Serial
}
