package stores

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/characterhq/character"
)

// FSUserStore stores local-authenticator credentials as JSON files, one per
// username. The exclusive create of the user file enforces username
// uniqueness.
type FSUserStore struct {
	StoragePath string

	mu sync.Mutex
}

func NewFSUserStore(storagePath string) (*FSUserStore, error) {
	if err := os.MkdirAll(filepath.Join(storagePath, "users"), 0755); err != nil {
		return nil, err
	}
	return &FSUserStore{StoragePath: storagePath}, nil
}

func (s *FSUserStore) userPath(username string) string {
	name := base64.RawURLEncoding.EncodeToString([]byte(username))
	return filepath.Join(s.StoragePath, "users", name+".json")
}

func (s *FSUserStore) FindByUsername(ctx context.Context, username string) (*character.PasswordUser, error) {
	data, err := os.ReadFile(s.userPath(username))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, character.ErrNotFound
		}
		return nil, err
	}

	var user character.PasswordUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *FSUserStore) Create(ctx context.Context, username, passwordHash string) (*character.PasswordUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := &character.PasswordUser{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
	}
	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := createExclusiveFile(s.userPath(username), data); err != nil {
		if os.IsExist(err) {
			return nil, character.ErrConflict
		}
		return nil, err
	}
	return user, nil
}
