package store

import (
	"fmt"
	"strings"

	"github.com/punchamoorthee/fundsgate/internal/domain"
)

// keyset builds the WHERE / ORDER BY / LIMIT tail of a newest-first page
// query over (created_at, id).
type keyset struct {
	conds []string
	args  []any
}

// where adds a condition whose single %d verb becomes the next placeholder.
func (k *keyset) where(cond string, arg any) {
	k.args = append(k.args, arg)
	k.conds = append(k.conds, fmt.Sprintf(cond, len(k.args)))
}

func (k *keyset) after(c *domain.PageCursor) {
	if c == nil {
		return
	}
	k.args = append(k.args, c.CreatedAt, c.ID)
	n := len(k.args)
	k.conds = append(k.conds, fmt.Sprintf("(created_at, id) < ($%d::timestamptz, $%d::uuid)", n-1, n))
}

func (k *keyset) sql(limit int) string {
	var b strings.Builder
	if len(k.conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(k.conds, " AND "))
	}
	k.args = append(k.args, limit)
	fmt.Fprintf(&b, " ORDER BY created_at DESC, id DESC LIMIT $%d", len(k.args))
	return b.String()
}
