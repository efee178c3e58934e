package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/damacus/iron-objects/internal/kv"
)

// ConfigKey is the store key holding the persisted connection config.
const ConfigKey = "iron-objects/config"

var ErrNoStoredConfig = errors.New("no stored configuration")

// persistedConfig is what lands on disk. The secret is only ever stored
// sealed by AuthService.
type persistedConfig struct {
	Bucket       string `json:"bucket"`
	AccessKeyID  string `json:"accessKeyId"`
	Endpoint     string `json:"endpoint"`
	Region       string `json:"region"`
	UseSSL       bool   `json:"useSSL"`
	SealedSecret []byte `json:"sealedSecret,omitempty"`
}

// ConfigStore persists connection settings across restarts.
type ConfigStore struct {
	store kv.KV
	auth  *AuthService
}

func NewConfigStore(store kv.KV, auth *AuthService) *ConfigStore {
	return &ConfigStore{store: store, auth: auth}
}

// Save writes creds, sealing the secret key.
func (s *ConfigStore) Save(ctx context.Context, creds Credentials) error {
	secret := []byte(creds.SecretAccessKey)
	defer clear(secret)
	return s.SaveSecretBytes(ctx, creds, secret)
}

// SaveSecretBytes writes the non-secret fields of creds and seals secret,
// ignoring creds.SecretAccessKey. The caller keeps ownership of secret.
func (s *ConfigStore) SaveSecretBytes(ctx context.Context, creds Credentials, secret []byte) error {
	cfg := persistedConfig{
		Bucket:      creds.Bucket,
		AccessKeyID: creds.AccessKeyID,
		Endpoint:    creds.Endpoint,
		Region:      creds.Region,
		UseSSL:      creds.UseSSL,
	}
	// Without a sealer the secret is never written.
	if len(secret) > 0 && s.auth != nil {
		sealed, err := s.auth.Seal(secret)
		if err != nil {
			return fmt.Errorf("seal secret: %w", err)
		}
		cfg.SealedSecret = sealed
	}
	return s.write(ctx, cfg)
}

func (s *ConfigStore) write(ctx context.Context, cfg persistedConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, ConfigKey, data)
}

// Load reads the stored config. A stored config without a secret comes back
// with SecretAccessKey empty.
func (s *ConfigStore) Load(ctx context.Context) (Credentials, error) {
	creds, secret, err := s.loadSecretBytes(ctx)
	if err != nil {
		return Credentials{}, err
	}
	creds.SecretAccessKey = string(secret)
	clear(secret)
	return creds, nil
}

// loadSecretBytes returns the public fields and the opened secret, which
// the caller must wipe.
func (s *ConfigStore) loadSecretBytes(ctx context.Context) (Credentials, []byte, error) {
	cfg, err := s.read(ctx)
	if err != nil {
		return Credentials{}, nil, err
	}
	if len(cfg.SealedSecret) == 0 || s.auth == nil {
		return cfg.public(), nil, nil
	}
	secret, err := s.auth.Open(cfg.SealedSecret)
	if err != nil {
		return Credentials{}, nil, fmt.Errorf("open sealed secret: %w", err)
	}
	return cfg.public(), secret, nil
}

// LoadPublic reads the stored config without touching the sealed secret,
// so it works even when the sealing key has changed.
func (s *ConfigStore) LoadPublic(ctx context.Context) (Credentials, error) {
	cfg, err := s.read(ctx)
	if err != nil {
		return Credentials{}, err
	}
	return cfg.public(), nil
}

func (s *ConfigStore) read(ctx context.Context) (persistedConfig, error) {
	data, err := s.store.Get(ctx, ConfigKey)
	if errors.Is(err, kv.ErrNotFound) {
		return persistedConfig{}, ErrNoStoredConfig
	}
	if err != nil {
		return persistedConfig{}, err
	}

	var cfg persistedConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return persistedConfig{}, fmt.Errorf("decode stored config: %w", err)
	}
	return cfg, nil
}

func (c persistedConfig) public() Credentials {
	return Credentials{
		Endpoint:    c.Endpoint,
		Region:      c.Region,
		Bucket:      c.Bucket,
		UseSSL:      c.UseSSL,
		AccessKeyID: c.AccessKeyID,
	}
}

// ForgetSecret drops the sealed secret but keeps the other settings.
func (s *ConfigStore) ForgetSecret(ctx context.Context) error {
	return s.forget(ctx, func(persistedConfig) bool { return true })
}

// ForgetSecretOf is ForgetSecret limited to a config saved for accessKeyID
// and bucket. A config saved by anyone else is left alone.
func (s *ConfigStore) ForgetSecretOf(ctx context.Context, accessKeyID, bucket string) error {
	return s.forget(ctx, func(cfg persistedConfig) bool {
		return cfg.AccessKeyID == accessKeyID && cfg.Bucket == bucket
	})
}

func (s *ConfigStore) forget(ctx context.Context, match func(persistedConfig) bool) error {
	cfg, err := s.read(ctx)
	if errors.Is(err, ErrNoStoredConfig) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(cfg.SealedSecret) == 0 || !match(cfg) {
		return nil
	}
	cfg.SealedSecret = nil
	return s.write(ctx, cfg)
}

// Clear removes everything.
func (s *ConfigStore) Clear(ctx context.Context) error {
	return s.store.Delete(ctx, ConfigKey)
}

// StoredProvider resolves credentials from a ConfigStore.
type StoredProvider struct {
	Store *ConfigStore
}

func (p StoredProvider) Retrieve(ctx context.Context) (Credentials, error) {
	creds, err := p.Store.Load(ctx)
	if err != nil {
		return Credentials{}, err
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return Credentials{}, ErrNoCredentials
	}
	return creds, nil
}
