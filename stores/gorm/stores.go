//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/characterhq/character"
)

// AutoMigrate runs database migrations for all character tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&IdentityModel{},
		&AccountModel{},
		&PasswordUserModel{},
		&LoginTokenModel{},
	)
}

// isDuplicateKey recognizes unique-constraint violations across the
// dialects GORM translates (and SQLite's untranslated message).
func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint")
}

// =============================================================================
// IdentityStore
// =============================================================================

// IdentityStore implements character.IdentityStore using GORM
type IdentityStore struct {
	db *gorm.DB
}

func NewIdentityStore(db *gorm.DB) *IdentityStore {
	return &IdentityStore{db: db}
}

func (s *IdentityStore) IdentityByAccount(ctx context.Context, authenticatorName, accountID string) (*character.Identity, error) {
	var account AccountModel
	err := s.db.WithContext(ctx).
		First(&account, "authenticator_name = ? AND account_id = ?", authenticatorName, accountID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, character.ErrNotFound
		}
		return nil, err
	}

	var identity IdentityModel
	if err := s.db.WithContext(ctx).First(&identity, "id = ?", account.IdentityID).Error; err != nil {
		return nil, err
	}
	return identity.ToIdentity(), nil
}

// Onboard creates the identity and the account link in one transaction.
// When a concurrent transaction links the same account first, the unique
// index on (authenticator_name, account_id) rejects ours and the whole
// transaction rolls back with ErrConflict.
func (s *IdentityStore) Onboard(ctx context.Context, authenticatorName, accountID string) (*character.Identity, error) {
	identity := &IdentityModel{ID: uuid.NewString()}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(identity).Error; err != nil {
			return err
		}
		account := &AccountModel{
			AuthenticatorName: authenticatorName,
			AccountID:         accountID,
			IdentityID:        identity.ID,
		}
		return tx.Create(account).Error
	})
	if err != nil {
		if isDuplicateKey(err) {
			return nil, character.ErrConflict
		}
		return nil, err
	}
	return identity.ToIdentity(), nil
}

func (s *IdentityStore) IdentityAccounts(ctx context.Context, identityID string) ([]*character.Account, error) {
	var models []AccountModel
	err := s.db.WithContext(ctx).
		Order("created_at").
		Find(&models, "identity_id = ?", identityID).Error
	if err != nil {
		return nil, err
	}

	accounts := make([]*character.Account, 0, len(models))
	for i := range models {
		accounts = append(accounts, models[i].ToAccount())
	}
	return accounts, nil
}

// =============================================================================
// UserStore
// =============================================================================

// UserStore implements character.UserStore using GORM
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) FindByUsername(ctx context.Context, username string) (*character.PasswordUser, error) {
	var model PasswordUserModel
	err := s.db.WithContext(ctx).First(&model, "username = ?", username).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, character.ErrNotFound
		}
		return nil, err
	}
	return model.ToPasswordUser(), nil
}

func (s *UserStore) Create(ctx context.Context, username, passwordHash string) (*character.PasswordUser, error) {
	model := &PasswordUserModel{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, character.ErrConflict
		}
		return nil, err
	}
	return model.ToPasswordUser(), nil
}

// =============================================================================
// TokenStore
// =============================================================================

// TokenStore implements character.LoginTokenStore using GORM
type TokenStore struct {
	db *gorm.DB
}

func NewTokenStore(db *gorm.DB) *TokenStore {
	return &TokenStore{db: db}
}

func (s *TokenStore) Save(ctx context.Context, token *character.LoginToken) error {
	model := &LoginTokenModel{
		Value:     token.Value,
		AccountID: token.AccountID,
		CreatedAt: token.CreatedAt,
		ExpiresAt: token.ExpiresAt,
	}
	return s.db.WithContext(ctx).Save(model).Error
}

// Consume deletes the token row and returns it. The delete runs inside a
// transaction so two racing redemptions cannot both observe the row.
func (s *TokenStore) Consume(ctx context.Context, value string) (*character.LoginToken, error) {
	var model LoginTokenModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model, "value = ?", value).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return character.ErrNotFound
			}
			return err
		}
		res := tx.Delete(&LoginTokenModel{}, "value = ?", value)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return character.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	token := model.ToLoginToken()
	if time.Now().After(token.ExpiresAt) {
		return nil, character.ErrNotFound
	}
	return token, nil
}
