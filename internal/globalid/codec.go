// Package globalid encodes internal ids as opaque, typed external ids.
package globalid

import (
	"encoding/base64"
	"strings"

	"github.com/google/uuid"

	"github.com/punchamoorthee/fundsgate/internal/domain"
)

const (
	TypeAccount     = "Account"
	TypeTransaction = "Transaction"
)

// Encode returns base64url("<typ>:<id>").
func Encode(typ string, id uuid.UUID) string {
	return base64.URLEncoding.EncodeToString([]byte(typ + ":" + id.String()))
}

// Decode splits a global id into its type and raw id.
func Decode(globalID string) (typ, id string, err error) {
	raw, decErr := base64.URLEncoding.DecodeString(strings.TrimSpace(globalID))
	if decErr != nil {
		return "", "", domain.Validation("", "Invalid global id encoding")
	}
	s := string(raw)
	sep := strings.IndexByte(s, ':')
	if sep <= 0 || sep == len(s)-1 {
		return "", "", domain.Validation("", "Invalid global id format")
	}
	return s[:sep], s[sep+1:], nil
}

// DecodeAs decodes globalID and requires it to be of type typ with a uuid id.
// field names the input in validation errors.
func DecodeAs(typ, field, globalID string) (uuid.UUID, error) {
	if strings.TrimSpace(globalID) == "" {
		return uuid.Nil, domain.Validation(field, typ+" id is required")
	}
	gotType, raw, err := Decode(globalID)
	if err != nil {
		de, _ := domain.AsError(err)
		return uuid.Nil, domain.Validation(field, de.Message)
	}
	if gotType != typ {
		return uuid.Nil, domain.Validation(field, "Expected "+typ+" global id")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.Validation(field, "Invalid "+typ+" id")
	}
	return id, nil
}
