package stores

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/characterhq/character"
)

// FSTokenStore persists magic-link tokens as JSON files. Consume removes
// the file before returning the token, so a link redeems at most once per
// directory.
type FSTokenStore struct {
	StoragePath string

	mu sync.Mutex
}

func NewFSTokenStore(storagePath string) (*FSTokenStore, error) {
	if err := os.MkdirAll(filepath.Join(storagePath, "login_tokens"), 0755); err != nil {
		return nil, err
	}
	return &FSTokenStore{StoragePath: storagePath}, nil
}

func (s *FSTokenStore) tokenPath(value string) string {
	name := base64.RawURLEncoding.EncodeToString([]byte(value))
	return filepath.Join(s.StoragePath, "login_tokens", name+".json")
}

func (s *FSTokenStore) Save(ctx context.Context, token *character.LoginToken) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(s.tokenPath(token.Value), data)
}

func (s *FSTokenStore) Consume(ctx context.Context, value string) (*character.LoginToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.tokenPath(value)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, character.ErrNotFound
		}
		return nil, err
	}
	// Delete first: a token that cannot be deleted must not be redeemable.
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil, character.ErrNotFound
		}
		return nil, err
	}

	var token character.LoginToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, err
	}
	if token.IsExpired() {
		return nil, character.ErrNotFound
	}
	return &token, nil
}
