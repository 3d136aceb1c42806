package entities

import (
	"errors"
	"testing"
	"time"
)

func TestIsBlockedFromLogin(t *testing.T) {
	tests := []struct {
		name   string
		user   User
		want   bool
		reason string
	}{
		{"active", User{IsActive: true}, false, ""},
		{"inactive", User{IsActive: false}, true, "inactive"},
		{"deleted", User{IsActive: true, IsDeleted: true}, true, "deleted"},
		{"banned", User{IsActive: true, IsBanned: true}, true, "banned"},
		{"blocked", User{IsActive: true, IsBlocked: true}, true, "blocked"},
		{"suspended", User{IsActive: true, IsSuspended: true}, true, "suspended"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.IsBlockedFromLogin(); got != tt.want {
				t.Errorf("IsBlockedFromLogin() = %v, want %v", got, tt.want)
			}
			if got := tt.user.BlockReason(); got != tt.reason {
				t.Errorf("BlockReason() = %q, want %q", got, tt.reason)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  A@Example.COM "); got != "a@example.com" {
		t.Errorf("NormalizeEmail = %q", got)
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole("Admin"); !ok || r != RoleAdmin {
		t.Errorf("ParseRole(Admin) = %v, %v", r, ok)
	}
	if _, ok := ParseRole("root"); ok {
		t.Error("ParseRole(root) should fail")
	}
}

func TestSessionArtifactExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := SessionArtifact{ExpiresAt: now.Add(90 * time.Second)}

	if a.IsExpired(now) {
		t.Error("artifact should not be expired yet")
	}
	if got := a.ExpiresIn(now); got != 90 {
		t.Errorf("ExpiresIn = %d, want 90", got)
	}
	if !a.IsExpired(now.Add(90 * time.Second)) {
		t.Error("artifact should be expired at its expiry instant")
	}
	if got := a.ExpiresIn(now.Add(time.Hour)); got != 0 {
		t.Errorf("ExpiresIn after expiry = %d", got)
	}
}

func TestClampStatsAndRarity(t *testing.T) {
	s := BaseStats{Health: 150, Attack: -3, Defense: 50}
	s.ClampStats()
	if s.Health != 100 || s.Attack != 0 || s.Defense != 50 {
		t.Errorf("ClampStats = %+v", s)
	}
	if NormalizeRarity("mythic") != RarityCommon {
		t.Error("unknown rarity should map to common")
	}
	if NormalizeRarity(RarityEpic) != RarityEpic {
		t.Error("known rarity should be kept")
	}
}

func TestAuditLogBuilders(t *testing.T) {
	uid := "42"
	log := NewAuditLog(&uid, ActionUserLogin, ResourceSession).
		WithResourceID("42").
		WithClient("10.0.0.1", "").
		WithMetadata("device", "web").
		WithError(errors.New("nope"))

	if log.Success {
		t.Error("WithError should mark the entry failed")
	}
	if log.UserAgent != nil {
		t.Error("empty user agent should stay nil")
	}
	data, err := log.MarshalMetadataToJSON()
	if err != nil || data != `{"device":"web"}` {
		t.Errorf("metadata = %s, %v", data, err)
	}

	var back AuditLog
	if err := back.UnmarshalMetadataFromJSON(data); err != nil || back.Metadata["device"] != "web" {
		t.Errorf("round trip = %v, %v", back.Metadata, err)
	}
}
