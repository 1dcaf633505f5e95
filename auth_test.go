package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tonimelisma/gdrive-go/internal/provider"
	"github.com/tonimelisma/gdrive-go/internal/tokenfile"
)

func TestNewWhoamiOutput(t *testing.T) {
	acct := &tokenfile.Account{Email: "ada@example.com", DisplayName: "Ada"}
	q := provider.Quota{Used: 2048, Limit: 4096, Login: "other@example.com"}

	out := newWhoamiOutput(acct, "perm-1", q)

	assert.Equal(t, whoamiOutput{
		Email:        "ada@example.com",
		DisplayName:  "Ada",
		PermissionID: "perm-1",
		QuotaUsed:    2048,
		QuotaTotal:   4096,
	}, out)
}

func TestNewWhoamiOutput_FallsBackToQuotaLogin(t *testing.T) {
	out := newWhoamiOutput(&tokenfile.Account{}, "perm-1", provider.Quota{Login: "ada@example.com"})

	assert.Equal(t, "ada@example.com", out.Email)
}

func TestPrintWhoamiText(t *testing.T) {
	cc, buf := testCLIContext(false)

	printWhoamiText(cc, whoamiOutput{
		Email:        "ada@example.com",
		DisplayName:  "Ada",
		PermissionID: "perm-1",
		QuotaUsed:    512,
		QuotaTotal:   2048,
	})

	assert.Equal(t, "User:  Ada (ada@example.com)\nID:    perm-1\nQuota: 512 B / 2.0 KB\n", buf.String())
}

func TestPrintWhoamiText_NoDisplayName(t *testing.T) {
	cc, buf := testCLIContext(false)

	printWhoamiText(cc, whoamiOutput{Email: "ada@example.com", PermissionID: "perm-1"})

	assert.Contains(t, buf.String(), "User:  ada@example.com\n")
	assert.Contains(t, buf.String(), "Quota: 0 B / 0 B\n")
}
