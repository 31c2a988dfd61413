package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/chat"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/crypto"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/models"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/relayclient"
)

var errNotLoggedIn = errors.New("not logged in, run `quickchat login` first")

// savedSession is what login leaves on disk: the bearer token, the profile
// and the wrapped key bundle. The private key is never stored unwrapped.
type savedSession struct {
	Token string           `json:"token"`
	User  *models.User     `json:"user"`
	Keys  models.KeyBundle `json:"keys"`
}

func saveSession(path string, s *savedSession) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

func loadSession(path string) (*savedSession, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errNotLoggedIn
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var s savedSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session %s: %w", path, err)
	}
	if s.Token == "" || s.User == nil {
		return nil, errNotLoggedIn
	}
	return &s, nil
}

// unlock unwraps the stored private key into a crypto session
func (s *savedSession) unlock(password string) (*crypto.Session, error) {
	pub, err := crypto.DecodeKey(s.Keys.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("stored public key: %w", err)
	}

	var cs crypto.Session
	wrapped := crypto.WrappedKey{
		EncryptedPrivateKey: s.Keys.EncryptedPrivateKey,
		Salt:                s.Keys.Salt,
		IV:                  s.Keys.IV,
	}
	if err := cs.Unlock(wrapped, password, pub); err != nil {
		return nil, err
	}
	return &cs, nil
}

// bundleFor wraps a fresh key pair's private half under password
func bundleFor(kp *crypto.KeyPair, password string) (models.KeyBundle, error) {
	wrapped, err := crypto.WrapPrivateKey(kp.Private, password)
	if err != nil {
		return models.KeyBundle{}, err
	}
	return models.KeyBundle{
		PublicKey:           crypto.EncodeKey(kp.Public),
		EncryptedPrivateKey: wrapped.EncryptedPrivateKey,
		Salt:                wrapped.Salt,
		IV:                  wrapped.IV,
	}, nil
}

// online is a logged-in, unlocked and connected client
type online struct {
	session *savedSession
	keys    *crypto.Session
	api     *chat.HTTPAPI
	relay   *relayclient.Client
	chat    *chat.Service
}

func connect(ctx context.Context) (*online, error) {
	if err := requirePassword(); err != nil {
		return nil, err
	}
	saved, err := loadSession(cfg.Client.TokenFile)
	if err != nil {
		return nil, err
	}
	keys, err := saved.unlock(password)
	if err != nil {
		return nil, err
	}

	relay, err := relayclient.Dial(ctx, cfg.Client.ServerURL, saved.Token)
	if err != nil {
		keys.Lock()
		return nil, err
	}

	authed := api.WithToken(saved.Token)
	return &online{
		session: saved,
		keys:    keys,
		api:     authed,
		relay:   relay,
		chat:    chat.NewService(saved.User.ID, authed, relay, keys),
	}, nil
}

func (o *online) Close() {
	o.chat.Stop()
	o.relay.Close()
	o.keys.Lock()
}
