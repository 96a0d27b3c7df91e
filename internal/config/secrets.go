package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const secretsService = "statusbot"

// SecretStore abstracts lookup of secret values that are never written to
// the plain config file.
type SecretStore interface {
	Get(service, account string) (string, error)
}

// FileSecrets reads secrets from $XDG_DATA_HOME/statusbot/secrets.json,
// a {service: {account: value}} object with 0600 permissions.
type FileSecrets struct {
	path string
}

// NewFileSecrets returns the default secrets file store.
func NewFileSecrets() FileSecrets {
	return FileSecrets{path: secretsFilePath()}
}

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

func (f FileSecrets) Get(service, account string) (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("secrets file not available: %w", err)
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return "", fmt.Errorf("parsing secrets file: %w", err)
	}
	svc, ok := secrets[service]
	if !ok {
		return "", fmt.Errorf("service %q not found", service)
	}
	val, ok := svc[account]
	if !ok {
		return "", fmt.Errorf("account %q not found in service %q", account, service)
	}
	return val, nil
}

// Set stores a secret, creating the file if needed.
func (f FileSecrets) Set(service, account, value string) error {
	var secrets map[string]map[string]string

	data, err := os.ReadFile(f.path)
	if err == nil {
		_ = json.Unmarshal(data, &secrets)
	}
	if secrets == nil {
		secrets = make(map[string]map[string]string)
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}
