package stores

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/characterhq/character"
)

// FSIdentityStore keeps identities and account links as JSON files.
// Identities live under identities/<id>.json and each account link under
// accounts/<authenticator>_<account>.json. The account file is created
// exclusively, so two concurrent Onboard calls for the same account cannot
// both succeed even across processes sharing the directory.
type FSIdentityStore struct {
	StoragePath string

	mu sync.Mutex
}

func NewFSIdentityStore(storagePath string) (*FSIdentityStore, error) {
	for _, dir := range []string{"identities", "accounts"} {
		if err := os.MkdirAll(filepath.Join(storagePath, dir), 0755); err != nil {
			return nil, err
		}
	}
	return &FSIdentityStore{StoragePath: storagePath}, nil
}

func (s *FSIdentityStore) identityPath(identityID string) string {
	return filepath.Join(s.StoragePath, "identities", identityID+".json")
}

// accountPath encodes both key parts so account ids containing path
// separators (emails, URLs) stay single flat filenames.
func (s *FSIdentityStore) accountPath(authenticatorName, accountID string) string {
	enc := base64.RawURLEncoding
	name := enc.EncodeToString([]byte(authenticatorName)) + "_" + enc.EncodeToString([]byte(accountID))
	return filepath.Join(s.StoragePath, "accounts", name+".json")
}

func (s *FSIdentityStore) IdentityByAccount(ctx context.Context, authenticatorName, accountID string) (*character.Identity, error) {
	data, err := os.ReadFile(s.accountPath(authenticatorName, accountID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, character.ErrNotFound
		}
		return nil, err
	}

	var account character.Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, err
	}
	return s.readIdentity(account.IdentityID)
}

func (s *FSIdentityStore) Onboard(ctx context.Context, authenticatorName, accountID string) (*character.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	identity := &character.Identity{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	account := &character.Account{
		AuthenticatorName: authenticatorName,
		AccountID:         accountID,
		IdentityID:        identity.ID,
		CreatedAt:         now,
	}

	accountData, err := json.MarshalIndent(account, "", "  ")
	if err != nil {
		return nil, err
	}
	accountPath := s.accountPath(authenticatorName, accountID)
	if err := createExclusiveFile(accountPath, accountData); err != nil {
		if os.IsExist(err) {
			return nil, character.ErrConflict
		}
		return nil, err
	}

	identityData, err := json.MarshalIndent(identity, "", "  ")
	if err == nil {
		err = writeAtomicFile(s.identityPath(identity.ID), identityData)
	}
	if err != nil {
		// Roll back the link so the account is not left pointing at an
		// identity that was never written.
		os.Remove(accountPath)
		return nil, err
	}
	return identity, nil
}

func (s *FSIdentityStore) IdentityAccounts(ctx context.Context, identityID string) ([]*character.Account, error) {
	entries, err := os.ReadDir(filepath.Join(s.StoragePath, "accounts"))
	if err != nil {
		return nil, err
	}

	var accounts []*character.Account
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.StoragePath, "accounts", entry.Name()))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		var account character.Account
		if err := json.Unmarshal(data, &account); err != nil {
			return nil, err
		}
		if account.IdentityID == identityID {
			accounts = append(accounts, &account)
		}
	}
	return accounts, nil
}

func (s *FSIdentityStore) readIdentity(identityID string) (*character.Identity, error) {
	data, err := os.ReadFile(s.identityPath(identityID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, character.ErrNotFound
		}
		return nil, err
	}
	var identity character.Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}
