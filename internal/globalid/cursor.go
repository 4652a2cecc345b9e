package globalid

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/fundsgate/internal/domain"
)

// EncodeCursor returns base64url("<unix micros>:<id>").
func EncodeCursor(c domain.PageCursor) string {
	raw := strconv.FormatInt(c.CreatedAt.UnixMicro(), 10) + ":" + c.ID.String()
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor produced by EncodeCursor. field names the
// input in validation errors.
func DecodeCursor(field, cursor string) (domain.PageCursor, error) {
	raw, err := base64.URLEncoding.DecodeString(strings.TrimSpace(cursor))
	if err != nil {
		return domain.PageCursor{}, domain.Validation(field, "Invalid cursor encoding")
	}
	ts, id, ok := strings.Cut(string(raw), ":")
	if !ok || ts == "" || id == "" {
		return domain.PageCursor{}, domain.Validation(field, "Invalid cursor format")
	}
	micros, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return domain.PageCursor{}, domain.Validation(field, "Invalid cursor format")
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return domain.PageCursor{}, domain.Validation(field, "Invalid cursor format")
	}
	return domain.PageCursor{CreatedAt: time.UnixMicro(micros).UTC(), ID: parsed}, nil
}
