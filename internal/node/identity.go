package node

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
)

// loadOrCreateKey loads the node's Ed25519 identity key from dataDir,
// generating and persisting a new one on first run. Only the identity
// key touches disk; table state is never persisted.
func loadOrCreateKey(dataDir string) (crypto.PrivKey, error) {
	keyPath := filepath.Join(expandPath(dataDir), "identity.key")

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("node: create data directory: %w", err)
	}

	if data, err := os.ReadFile(keyPath); err == nil {
		key, err := crypto.UnmarshalPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("node: unmarshal identity key: %w", err)
		}
		return key, nil
	}

	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("node: generate identity key: %w", err)
	}

	data, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("node: marshal identity key: %w", err)
	}
	if err := os.WriteFile(keyPath, data, 0600); err != nil {
		return nil, fmt.Errorf("node: write identity key: %w", err)
	}
	return priv, nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
