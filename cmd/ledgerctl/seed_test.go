package main

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/fundsgate/internal/domain"
)

func TestSeedAccountsContinueAfterOffset(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	accounts := seedAccounts(40, 25, decimal.RequireFromString("10"), now)
	if len(accounts) != 25 {
		t.Fatalf("accounts = %d", len(accounts))
	}
	if accounts[0].Number != "0000000041" || accounts[0].OwnerName != "Seed Account 0041" {
		t.Fatalf("first account = %+v", accounts[0])
	}

	numbers := map[string]bool{}
	for _, a := range accounts {
		doc, err := domain.NormalizeDocument(a.Document)
		if err != nil || doc != a.Document {
			t.Fatalf("account %s has invalid document %q: %v", a.Number, a.Document, err)
		}
		if a.Branch != seedBranch || numbers[a.Number] {
			t.Fatalf("account %s/%s is not unique", a.Branch, a.Number)
		}
		numbers[a.Number] = true
		if !a.Active() || !a.CreatedAt.Equal(now) {
			t.Fatalf("unexpected seed account %+v", a)
		}
	}
}
