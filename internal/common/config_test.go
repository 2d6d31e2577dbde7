package common

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestNewDefaultConfig_AdminPasswordHashMatchesPlaceholderPassword(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := bcrypt.CompareHashAndPassword([]byte(cfg.Auth.AdminPasswordHash), []byte("password")); err != nil {
		t.Errorf("default admin password hash does not match the documented placeholder password: %v", err)
	}
}

func TestApplyEnvOverrides_AdminPasswordHash(t *testing.T) {
	t.Setenv("APTISCOUT_AUTH_ADMIN_PASSWORD_HASH", "custom-hash")
	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)
	if cfg.Auth.AdminPasswordHash != "custom-hash" {
		t.Errorf("expected env override to apply, got %q", cfg.Auth.AdminPasswordHash)
	}
}
