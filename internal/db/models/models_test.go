package models

import (
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// PendingFlow
// ---------------------------------------------------------------------------

func TestPendingFlow_Next(t *testing.T) {
	empty := ""
	page := "/invoices"
	tests := []struct {
		name string
		next *string
		want string
	}{
		{"nil falls back", nil, "/"},
		{"empty falls back", &empty, "/"},
		{"recorded page", &page, "/invoices"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &PendingFlow{NextPage: tt.next}
			if got := p.Next("/"); got != tt.want {
				t.Errorf("Next() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPendingFlow_Abandoned(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &PendingFlow{CreatedAt: now.Add(-time.Hour)}
	if p.Abandoned(time.Hour, now) {
		t.Error("Abandoned() should be false exactly at the ttl")
	}
	if !p.Abandoned(59*time.Minute, now) {
		t.Error("Abandoned() should be true past the ttl")
	}
}

// ---------------------------------------------------------------------------
// AccountLink
// ---------------------------------------------------------------------------

func TestAccountLink_OrgName(t *testing.T) {
	org := "Demo Company (NZ)"
	if got := (&AccountLink{}).OrgName(); got != "" {
		t.Errorf("OrgName() = %q, want empty", got)
	}
	if got := (&AccountLink{Org: &org}).OrgName(); got != org {
		t.Errorf("OrgName() = %q, want %q", got, org)
	}
}

func TestAccountLink_IdentityConfirmed(t *testing.T) {
	empty := ""
	id := "7cf47fe2-c3dd-4c6b-9895-7ba767ba529c"
	if (&AccountLink{}).IdentityConfirmed() {
		t.Error("IdentityConfirmed() should be false without a provider id")
	}
	if (&AccountLink{ProviderUserID: &empty}).IdentityConfirmed() {
		t.Error("IdentityConfirmed() should be false for an empty provider id")
	}
	if !(&AccountLink{ProviderUserID: &id}).IdentityConfirmed() {
		t.Error("IdentityConfirmed() should be true once a provider id is stored")
	}
}
