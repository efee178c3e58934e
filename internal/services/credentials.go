package services

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// Credentials represents the object storage connection details
type Credentials struct {
	Endpoint        string `json:"endpoint"`
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	UseSSL          bool   `json:"useSSL"`
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"-"`
	SessionToken    string `json:"-"`
}

// String never includes the secret.
func (c Credentials) String() string {
	secret := ""
	if c.SecretAccessKey != "" {
		secret = "[REDACTED]"
	}
	return fmt.Sprintf("{endpoint=%s region=%s bucket=%s ssl=%t accessKeyId=%s secret=%s}",
		c.Endpoint, c.Region, c.Bucket, c.UseSSL, c.AccessKeyID, secret)
}

// GoString keeps %#v from printing the secret too.
func (c Credentials) GoString() string {
	return "services.Credentials" + c.String()
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler without the secret.
func (c Credentials) MarshalZerologObject(e *zerolog.Event) {
	e.Str("endpoint", c.Endpoint).
		Str("region", c.Region).
		Str("bucket", c.Bucket).
		Bool("ssl", c.UseSSL).
		Str("accessKeyId", c.AccessKeyID)
}

// CredentialProvider resolves credentials from somewhere other than plain
// application state.
type CredentialProvider interface {
	Retrieve(ctx context.Context) (Credentials, error)
}

var ErrNoCredentials = errors.New("no credentials available")

// StaticProvider returns a fixed set of credentials.
type StaticProvider struct {
	Creds Credentials
}

func (p StaticProvider) Retrieve(_ context.Context) (Credentials, error) {
	if p.Creds.AccessKeyID == "" || p.Creds.SecretAccessKey == "" {
		return Credentials{}, ErrNoCredentials
	}
	return p.Creds, nil
}

// Environment variables read by EnvProvider.
const (
	EnvAccessKey = "IRON_ACCESS_KEY"
	EnvSecretKey = "IRON_SECRET_KEY"
	EnvBucket    = "IRON_BUCKET"
)

// EnvProvider reads the key pair and bucket from IRON_* variables on top of
// Base (endpoint, region, SSL).
type EnvProvider struct {
	Base Credentials
}

func (p EnvProvider) Retrieve(_ context.Context) (Credentials, error) {
	creds := p.Base
	creds.AccessKeyID = os.Getenv(EnvAccessKey)
	creds.SecretAccessKey = os.Getenv(EnvSecretKey)
	if bucket := os.Getenv(EnvBucket); bucket != "" {
		creds.Bucket = bucket
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return Credentials{}, fmt.Errorf("%w: %s/%s not set", ErrNoCredentials, EnvAccessKey, EnvSecretKey)
	}
	return creds, nil
}

// ChainProvider consults the usual credential sources in order: AWS_* and
// MINIO_* environment variables, then the AWS shared credentials file and
// the MinIO client config file.
type ChainProvider struct {
	Base      Credentials
	Providers []credentials.Provider
}

// NewChainProvider returns a ChainProvider with the default source order.
func NewChainProvider(base Credentials) *ChainProvider {
	return &ChainProvider{
		Base: base,
		Providers: []credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.FileMinioClient{},
		},
	}
}

func (p *ChainProvider) Retrieve(_ context.Context) (Credentials, error) {
	value, err := credentials.NewChainCredentials(p.Providers).Get()
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrNoCredentials, err)
	}
	if value.AccessKeyID == "" || value.SecretAccessKey == "" {
		return Credentials{}, ErrNoCredentials
	}
	creds := p.Base
	creds.AccessKeyID = value.AccessKeyID
	creds.SecretAccessKey = value.SecretAccessKey
	creds.SessionToken = value.SessionToken
	return creds, nil
}

// Providers tries each provider in order and returns the first credentials
// found.
type Providers []CredentialProvider

func (ps Providers) Retrieve(ctx context.Context) (Credentials, error) {
	errs := make([]error, 0, len(ps))
	for _, p := range ps {
		creds, err := p.Retrieve(ctx)
		if err == nil {
			return creds, nil
		}
		errs = append(errs, err)
	}
	return Credentials{}, fmt.Errorf("%w: %w", ErrNoCredentials, errors.Join(errs...))
}

// secretBytes holds the secret in memory that can be wiped in place.
type secretBytes []byte

func (s *secretBytes) set(v string) {
	s.wipe()
	*s = append(secretBytes(nil), v...)
}

func (s *secretBytes) setBytes(v []byte) {
	s.wipe()
	*s = append(secretBytes(nil), v...)
}

func (s *secretBytes) wipe() {
	clear(*s)
	*s = nil
}

func (s secretBytes) empty() bool {
	return len(s) == 0
}
