package domain

import (
	"time"

	"github.com/google/uuid"
)

// PageCursor positions keyset pagination ordered by (CreatedAt, ID) descending.
// Rows strictly after the cursor in that order belong to the next page.
type PageCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// TransferDirection selects transfers leaving or entering an account.
type TransferDirection string

const (
	DirectionSent     TransferDirection = "SENT"
	DirectionReceived TransferDirection = "RECEIVED"
)

type PageInfo struct {
	HasNextPage     bool    `json:"hasNextPage"`
	HasPreviousPage bool    `json:"hasPreviousPage"`
	StartCursor     *string `json:"startCursor"`
	EndCursor       *string `json:"endCursor"`
}

type Edge[T any] struct {
	Cursor string `json:"cursor"`
	Node   T      `json:"node"`
}

// Connection is one page of a cursor-paginated list.
type Connection[T any] struct {
	Edges    []Edge[T] `json:"edges"`
	PageInfo PageInfo  `json:"pageInfo"`
}
