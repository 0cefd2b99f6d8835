//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	"github.com/characterhq/character"
)

// IdentityModel is the GORM model for identities
type IdentityModel struct {
	ID        string    `gorm:"primaryKey;size:64"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (IdentityModel) TableName() string {
	return "identities"
}

func (m *IdentityModel) ToIdentity() *character.Identity {
	return &character.Identity{
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// AccountModel is the GORM model for authenticator accounts. The composite
// unique index is the store's concurrency backstop: two transactions
// onboarding the same account race on it and the loser gets a duplicate-key
// error.
type AccountModel struct {
	AuthenticatorName string    `gorm:"primaryKey;size:64;uniqueIndex:idx_authenticator_account"`
	AccountID         string    `gorm:"primaryKey;size:320;uniqueIndex:idx_authenticator_account"`
	IdentityID        string    `gorm:"size:64;index"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
}

func (AccountModel) TableName() string {
	return "accounts"
}

func (m *AccountModel) ToAccount() *character.Account {
	return &character.Account{
		AuthenticatorName: m.AuthenticatorName,
		AccountID:         m.AccountID,
		IdentityID:        m.IdentityID,
		CreatedAt:         m.CreatedAt,
	}
}

// PasswordUserModel is the GORM model for local-authenticator credentials
type PasswordUserModel struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Username     string    `gorm:"size:64;uniqueIndex"`
	PasswordHash string    `gorm:"size:128"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (PasswordUserModel) TableName() string {
	return "password_users"
}

func (m *PasswordUserModel) ToPasswordUser() *character.PasswordUser {
	return &character.PasswordUser{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
	}
}

// LoginTokenModel is the GORM model for one-time magic-link tokens
type LoginTokenModel struct {
	Value     string    `gorm:"primaryKey;size:128"`
	AccountID string    `gorm:"size:320"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	ExpiresAt time.Time `gorm:"index"`
}

func (LoginTokenModel) TableName() string {
	return "login_tokens"
}

func (m *LoginTokenModel) ToLoginToken() *character.LoginToken {
	return &character.LoginToken{
		Value:     m.Value,
		AccountID: m.AccountID,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
	}
}
