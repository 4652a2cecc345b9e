package service

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/fundsgate/internal/domain"
	"github.com/punchamoorthee/fundsgate/internal/globalid"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageInput selects one page of a newest-first list. A zero First means
// DefaultPageSize; an empty After starts from the newest row.
type PageInput struct {
	First int
	After string
}

func (p PageInput) parse() (int, *domain.PageCursor, error) {
	size := p.First
	if size == 0 {
		size = DefaultPageSize
	}
	if size < 1 || size > MaxPageSize {
		return 0, nil, domain.Validation("first", "first must be between 1 and 100")
	}
	if strings.TrimSpace(p.After) == "" {
		return size, nil, nil
	}
	c, err := globalid.DecodeCursor("after", p.After)
	if err != nil {
		return 0, nil, err
	}
	return size, &c, nil
}

// connection turns size+1 fetched rows into one page. key reports the
// pagination position of a row.
func connection[R, V any](rows []R, size int, after *domain.PageCursor, key func(R) (time.Time, uuid.UUID), view func(R) V) *domain.Connection[V] {
	hasNext := len(rows) > size
	if hasNext {
		rows = rows[:size]
	}
	conn := &domain.Connection[V]{
		Edges:    make([]domain.Edge[V], 0, len(rows)),
		PageInfo: domain.PageInfo{HasNextPage: hasNext, HasPreviousPage: after != nil},
	}
	for _, r := range rows {
		createdAt, id := key(r)
		conn.Edges = append(conn.Edges, domain.Edge[V]{
			Cursor: globalid.EncodeCursor(domain.PageCursor{CreatedAt: createdAt, ID: id}),
			Node:   view(r),
		})
	}
	if n := len(conn.Edges); n > 0 {
		start, end := conn.Edges[0].Cursor, conn.Edges[n-1].Cursor
		conn.PageInfo.StartCursor, conn.PageInfo.EndCursor = &start, &end
	}
	return conn
}
