package domain

import (
	"time"

	"github.com/google/uuid"
)

type FollowStatus string

const (
	FollowRequested FollowStatus = "REQUESTED"
	FollowAccepted  FollowStatus = "ACCEPTED"
	FollowDenied    FollowStatus = "DENIED"
)

// Follow is a directed edge follower -> following. A pair of accepted
// edges in both directions makes the two authors friends.
type Follow struct {
	Id          uuid.UUID
	FollowerId  string
	FollowingId string
	Status      FollowStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type LikeTarget string

const (
	LikeEntry   LikeTarget = "entry"
	LikeComment LikeTarget = "comment"
)

// Like is unique per (author, object).
type Like struct {
	Id         string
	AuthorId   string
	ObjectId   string
	ObjectKind LikeTarget
	Published  time.Time

	Author *Author
}

// RemoteNode holds the operator-managed credentials for one peer.
// Outgoing credentials are presented to the peer, the incoming pair is what
// the peer presents to us.
type RemoteNode struct {
	Host                 string
	OutgoingUsername     string
	OutgoingPassword     string
	IncomingUsername     string
	IncomingPasswordHash string
	IsActive             bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Activity is the inbox log record of an accepted payload.
type Activity struct {
	Id           uuid.UUID
	ActivityType string
	ActorURI     string
	ObjectURI    string
	OwnerId      string
	RawJSON      string
	CreatedAt    time.Time
}

// DeliveryQueueItem is one pending outbound push.
type DeliveryQueueItem struct {
	Id           uuid.UUID
	InboxURI     string
	Host         string
	ActivityJSON string
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}
