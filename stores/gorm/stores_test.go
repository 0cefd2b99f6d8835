//go:build !wasm
// +build !wasm

package gorm

import (
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/characterhq/character"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open() error = %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate() error = %v", err)
	}
	return db
}

func TestIdentityStore_OnboardThenLookup(t *testing.T) {
	store := NewIdentityStore(newTestDB(t))
	ctx := t.Context()

	if _, err := store.IdentityByAccount(ctx, "google", "alice@example.com"); !errors.Is(err, character.ErrNotFound) {
		t.Errorf("IdentityByAccount() error = %v, want ErrNotFound", err)
	}

	identity, err := store.Onboard(ctx, "google", "alice@example.com")
	if err != nil {
		t.Fatalf("Onboard() error = %v", err)
	}

	found, err := store.IdentityByAccount(ctx, "google", "alice@example.com")
	if err != nil {
		t.Fatalf("IdentityByAccount() error = %v", err)
	}
	if found.ID != identity.ID {
		t.Errorf("IdentityByAccount() = %v, want %v", found.ID, identity.ID)
	}
}

func TestIdentityStore_OnboardConflictRollsBack(t *testing.T) {
	db := newTestDB(t)
	store := NewIdentityStore(db)
	ctx := t.Context()

	first, err := store.Onboard(ctx, "github", "12345")
	if err != nil {
		t.Fatalf("Onboard() error = %v", err)
	}

	if _, err := store.Onboard(ctx, "github", "12345"); !errors.Is(err, character.ErrConflict) {
		t.Errorf("second Onboard() error = %v, want ErrConflict", err)
	}

	// The losing transaction must not leave an orphan identity row behind
	var count int64
	if err := db.Model(&IdentityModel{}).Count(&count).Error; err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Errorf("identity rows = %d, want 1", count)
	}

	found, err := store.IdentityByAccount(ctx, "github", "12345")
	if err != nil {
		t.Fatalf("IdentityByAccount() error = %v", err)
	}
	if found.ID != first.ID {
		t.Errorf("IdentityByAccount() = %v, want %v", found.ID, first.ID)
	}
}

func TestIdentityStore_SameAccountIDAcrossAuthenticators(t *testing.T) {
	store := NewIdentityStore(newTestDB(t))
	ctx := t.Context()

	// The pair is unique, not the account id alone
	google, err := store.Onboard(ctx, "google", "alice@example.com")
	if err != nil {
		t.Fatalf("Onboard(google) error = %v", err)
	}
	saml, err := store.Onboard(ctx, "saml", "alice@example.com")
	if err != nil {
		t.Fatalf("Onboard(saml) error = %v", err)
	}
	if google.ID == saml.ID {
		t.Error("expected distinct identities per authenticator")
	}
}

func TestIdentityStore_IdentityAccounts(t *testing.T) {
	db := newTestDB(t)
	store := NewIdentityStore(db)
	ctx := t.Context()

	identity, err := store.Onboard(ctx, "google", "alice@example.com")
	if err != nil {
		t.Fatalf("Onboard() error = %v", err)
	}
	// Link a second account to the same identity directly, the way an
	// account-linking flow would.
	err = db.Create(&AccountModel{
		AuthenticatorName: "github",
		AccountID:         "12345",
		IdentityID:        identity.ID,
	}).Error
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	accounts, err := store.IdentityAccounts(ctx, identity.ID)
	if err != nil {
		t.Fatalf("IdentityAccounts() error = %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("got %d accounts, want 2", len(accounts))
	}
	for _, account := range accounts {
		if account.IdentityID != identity.ID {
			t.Errorf("IdentityID = %v, want %v", account.IdentityID, identity.ID)
		}
	}
}

func TestUserStore_CreateAndDuplicate(t *testing.T) {
	store := NewUserStore(newTestDB(t))
	ctx := t.Context()

	if _, err := store.FindByUsername(ctx, "alice"); !errors.Is(err, character.ErrNotFound) {
		t.Errorf("FindByUsername() error = %v, want ErrNotFound", err)
	}

	created, err := store.Create(ctx, "alice", "hash1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := store.Create(ctx, "alice", "hash2"); !errors.Is(err, character.ErrConflict) {
		t.Errorf("second Create() error = %v, want ErrConflict", err)
	}

	found, err := store.FindByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("FindByUsername() error = %v", err)
	}
	if found.ID != created.ID || found.PasswordHash != "hash1" {
		t.Errorf("FindByUsername() = %+v, want original user", found)
	}
}

func TestTokenStore_ConsumeOnce(t *testing.T) {
	store := NewTokenStore(newTestDB(t))
	ctx := t.Context()

	token := &character.LoginToken{
		Value:     "tok123",
		AccountID: "alice@example.com",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}
	if err := store.Save(ctx, token); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Consume(ctx, "tok123")
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if got.AccountID != "alice@example.com" {
		t.Errorf("AccountID = %v, want alice@example.com", got.AccountID)
	}

	if _, err := store.Consume(ctx, "tok123"); !errors.Is(err, character.ErrNotFound) {
		t.Errorf("second Consume() error = %v, want ErrNotFound", err)
	}
}

func TestTokenStore_ExpiredToken(t *testing.T) {
	store := NewTokenStore(newTestDB(t))
	ctx := t.Context()

	token := &character.LoginToken{
		Value:     "stale",
		AccountID: "alice@example.com",
		CreatedAt: time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(-45 * time.Minute),
	}
	if err := store.Save(ctx, token); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// The row deletes on the failed redemption, so the retry misses too
	if _, err := store.Consume(ctx, "stale"); !errors.Is(err, character.ErrNotFound) {
		t.Errorf("Consume() error = %v, want ErrNotFound", err)
	}
	if _, err := store.Consume(ctx, "stale"); !errors.Is(err, character.ErrNotFound) {
		t.Errorf("Consume() after burn error = %v, want ErrNotFound", err)
	}
}
