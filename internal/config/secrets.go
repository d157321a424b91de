package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// secretStore holds API keys outside the config file.
type secretStore interface {
	Get(key string) (val string, ok bool, err error)
	Set(key, val string) error
}

func secretsFilePath(dataDir string) string {
	return filepath.Join(dataDir, "secrets.json")
}

func openSecrets(dataDir string) secretStore {
	return fileSecrets{path: secretsFilePath(dataDir)}
}

// fileSecrets is a flat JSON object of secret key to value, readable only by
// the owner.
type fileSecrets struct {
	path string
}

func (f fileSecrets) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	secrets := map[string]string{}
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", f.path, err)
	}
	return secrets, nil
}

func (f fileSecrets) Get(key string) (string, bool, error) {
	secrets, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := secrets[key]
	return v, ok && v != "", nil
}

func (f fileSecrets) Set(key, val string) error {
	secrets, err := f.read()
	if err != nil {
		return err
	}
	if val == "" {
		delete(secrets, key)
	} else {
		secrets[key] = val
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}
