package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7/pkg/s3utils"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/damacus/iron-objects/internal/sigv4"
)

// ConnState is the client's connection state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ClientState is a UI-facing snapshot, not authoritative.
type ClientState struct {
	Connected     bool          `json:"connected"`
	Status        string        `json:"status"`
	Bucket        string        `json:"bucket,omitempty"`
	CurrentPath   string        `json:"currentPath"`
	CachedFiles   []ObjectEntry `json:"cachedFiles"`
	CachedFolders []PrefixEntry `json:"cachedFolders"`
}

// UploadResult describes a stored object.
type UploadResult struct {
	Key         string `json:"key"`
	ETag        string `json:"etag,omitempty"`
	Size        int    `json:"size"`
	ContentType string `json:"contentType"`
	PayloadHash string `json:"payloadHash"`
}

// DeleteResult describes a removed object.
type DeleteResult struct {
	Key string `json:"key"`
}

// Client talks to one bucket of an S3 compatible service. Each Client is
// independent; there is no shared global connection.
type Client struct {
	mu sync.RWMutex

	endpoint     string
	region       string
	useSSL       bool
	bucket       string
	accessKeyID  string
	secret       secretBytes
	sessionToken string

	state      ConnState
	generation uint64
	path       string
	files      []ObjectEntry
	folders    []PrefixEntry

	http    HTTPDoer
	now     func() time.Time
	logger  zerolog.Logger
	configs *ConfigStore
	retry   RetryPolicy
	metrics MetricsRecorder
	parser  ListParser
	tracer  trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) { c.http = doer }
}

// WithClock replaces time.Now for signing.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithConfigStore enables persistence of the connection settings.
func WithConfigStore(store *ConfigStore) Option {
	return func(c *Client) { c.configs = store }
}

func WithRetry(policy RetryPolicy) Option {
	return func(c *Client) { c.retry = policy }
}

func WithMetrics(m MetricsRecorder) Option {
	return func(c *Client) { c.metrics = m }
}

func WithParser(p ListParser) Option {
	return func(c *Client) { c.parser = p }
}

// NewClient creates a disconnected client for base.Endpoint in base.Region.
// Key material in base is kept but not used until Connect.
func NewClient(base Credentials, opts ...Option) *Client {
	c := &Client{
		endpoint:     base.Endpoint,
		region:       base.Region,
		useSSL:       base.UseSSL,
		bucket:       base.Bucket,
		accessKeyID:  base.AccessKeyID,
		sessionToken: base.SessionToken,
		http:         &http.Client{Timeout: 5 * time.Minute},
		now:          time.Now,
		logger:       zerolog.Nop(),
		retry:        NoRetry,
		metrics:      nopMetrics{},
		parser:       XMLListParser{},
		tracer:       otel.Tracer("github.com/damacus/iron-objects/internal/services"),
	}
	if base.SecretAccessKey != "" {
		c.secret.set(base.SecretAccessKey)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// snapshot is a copy of the signing inputs taken under the read lock. The
// secret is a private copy wiped after use.
type snapshot struct {
	endpoint     string
	region       string
	useSSL       bool
	bucket       string
	accessKeyID  string
	secret       []byte
	sessionToken string
	generation   uint64
}

func (c *Client) snapshot(op string, allowConnecting bool) (snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state == StateDisconnected || (c.state == StateConnecting && !allowConnecting) {
		return snapshot{}, &OpError{Op: op, Kind: ErrConfig}
	}
	return snapshot{
		endpoint:     c.endpoint,
		region:       c.region,
		useSSL:       c.useSSL,
		bucket:       c.bucket,
		accessKeyID:  c.accessKeyID,
		secret:       append([]byte(nil), c.secret...),
		sessionToken: c.sessionToken,
		generation:   c.generation,
	}, nil
}

// begin starts tracing and timing for op; the returned func must be called
// with the operation's final error.
func (c *Client) begin(ctx context.Context, op, key string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "s3."+op, trace.WithAttributes(
		attribute.String("s3.operation", op),
		attribute.String("s3.key", key),
	))
	return ctx, func(err error) {
		label := outcome(err)
		c.metrics.ObserveOperation(op, label, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, label)
			c.logger.Warn().Str("op", op).Str("key", key).Str("outcome", label).Err(err).Msg("operation failed")
		} else {
			c.logger.Info().Str("op", op).Str("key", key).Dur("duration", time.Since(start)).Msg("operation complete")
		}
		span.End()
	}
}

// Connect stores the key pair and bucket and probes them with a root
// listing. On failure the client stays disconnected and the probe error is
// returned unchanged.
func (c *Client) Connect(ctx context.Context, accessKeyID, secretAccessKey, bucket string) (result ListResult, err error) {
	const op = "connect"
	ctx, done := c.begin(ctx, op, "")
	defer func() { done(err) }()

	if accessKeyID == "" || secretAccessKey == "" {
		return ListResult{}, validationError(op, errors.New("access key and secret key are required"))
	}
	if err := c.endpointAndRegion(); err != nil {
		return ListResult{}, validationError(op, err)
	}
	if err := s3utils.CheckValidBucketName(bucket); err != nil {
		return ListResult{}, validationError(op, err)
	}

	c.mu.Lock()
	c.accessKeyID = accessKeyID
	c.secret.set(secretAccessKey)
	c.bucket = bucket
	c.state = StateConnecting
	c.generation++
	gen := c.generation
	c.resetCacheLocked()
	c.mu.Unlock()

	c.logger.Info().Str("bucket", bucket).Str("accessKeyId", accessKeyID).Msg("connecting")

	result, err = c.list(ctx, "", true)

	c.mu.Lock()
	// A Disconnect or another Connect ran during the probe and owns the
	// state now.
	if c.generation != gen {
		c.mu.Unlock()
		return ListResult{}, &OpError{Op: op, Kind: ErrConfig, Err: errors.New("superseded while connecting")}
	}
	if err != nil {
		c.state = StateDisconnected
		c.secret.wipe()
		c.resetCacheLocked()
		c.mu.Unlock()
		return ListResult{}, err
	}
	c.state = StateConnected
	c.mu.Unlock()

	if c.configs != nil {
		if saveErr := c.SaveConfig(ctx); saveErr != nil {
			c.logger.Warn().Err(saveErr).Msg("could not persist configuration")
		}
	}
	return result, nil
}

func (c *Client) endpointAndRegion() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.endpoint == "" {
		return errors.New("endpoint is required")
	}
	if c.region == "" {
		return errors.New("region is required")
	}
	return nil
}

// ConnectWithProvider resolves credentials from p and connects with them.
// Non-empty endpoint, region and session token from p replace the client's.
func (c *Client) ConnectWithProvider(ctx context.Context, p CredentialProvider) (ListResult, error) {
	creds, err := p.Retrieve(ctx)
	if err != nil {
		return ListResult{}, &OpError{Op: "connect", Kind: ErrConfig, Err: err}
	}

	c.mu.Lock()
	if creds.Endpoint != "" {
		c.endpoint = creds.Endpoint
		c.useSSL = creds.UseSSL
	}
	if creds.Region != "" {
		c.region = creds.Region
	}
	c.sessionToken = creds.SessionToken
	c.mu.Unlock()

	return c.Connect(ctx, creds.AccessKeyID, creds.SecretAccessKey, creds.Bucket)
}

// Disconnect wipes the in-memory secret and cached listing, and removes the
// sealed secret from the config store if it was saved for this client's
// key pair and bucket.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	accessKeyID, bucket := c.accessKeyID, c.bucket
	c.state = StateDisconnected
	c.generation++
	c.secret.wipe()
	c.sessionToken = ""
	c.resetCacheLocked()
	c.mu.Unlock()

	c.logger.Info().Msg("disconnected")

	if c.configs == nil {
		return nil
	}
	if err := c.configs.ForgetSecretOf(ctx, accessKeyID, bucket); err != nil {
		return fmt.Errorf("forget stored secret: %w", err)
	}
	return nil
}

func (c *Client) resetCacheLocked() {
	c.path = ""
	c.files = nil
	c.folders = nil
}

// State returns a copy of the client-visible state.
func (c *Client) State() ClientState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ClientState{
		Connected:     c.state == StateConnected,
		Status:        c.state.String(),
		Bucket:        c.bucket,
		CurrentPath:   c.path,
		CachedFiles:   append([]ObjectEntry{}, c.files...),
		CachedFolders: append([]PrefixEntry{}, c.folders...),
	}
}

// Settings returns the connection settings without the secret.
func (c *Client) Settings() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Credentials{
		Endpoint:    c.endpoint,
		Region:      c.region,
		Bucket:      c.bucket,
		UseSSL:      c.useSSL,
		AccessKeyID: c.accessKeyID,
	}
}

// ConnState returns the current connection state.
func (c *Client) ConnState() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ListFiles lists one level under path (first page only) and replaces the
// cached listing.
func (c *Client) ListFiles(ctx context.Context, path string) (result ListResult, err error) {
	ctx, done := c.begin(ctx, "list", path)
	defer func() { done(err) }()
	return c.list(ctx, path, false)
}

func (c *Client) list(ctx context.Context, path string, probe bool) (ListResult, error) {
	const op = "list"
	snap, err := c.snapshot(op, probe)
	if err != nil {
		return ListResult{}, err
	}

	query := map[string]string{"delimiter": "/"}
	if path != "" {
		query["prefix"] = path
	}

	resp, err := c.send(ctx, snap, exchange{
		op:          op,
		method:      http.MethodGet,
		query:       query,
		payloadHash: sigv4.UnsignedPayload,
	})
	if err != nil {
		return ListResult{}, err
	}
	if !resp.ok() {
		return ListResult{}, statusError(op, ErrList, resp.status, resp.body)
	}

	result, err := c.parser.Parse(resp.body)
	if err != nil {
		return ListResult{}, &OpError{Op: op, Kind: ErrParse, StatusCode: resp.status, Body: string(resp.body), Err: err}
	}
	result.Path = path
	if result.Truncated {
		c.logger.Warn().Str("path", path).Int("files", len(result.Files)).Msg("listing truncated; only the first page is shown")
	}

	c.mu.Lock()
	if c.generation == snap.generation {
		c.path = path
		c.files = append([]ObjectEntry{}, result.Files...)
		c.folders = append([]PrefixEntry{}, result.Folders...)
	}
	c.mu.Unlock()

	return result, nil
}

// UploadOption adjusts a single upload.
type UploadOption func(*uploadOptions)

type uploadOptions struct {
	contentType string
}

// WithContentType overrides Content-Type detection.
func WithContentType(ct string) UploadOption {
	return func(o *uploadOptions) { o.contentType = ct }
}

// UploadKey joins path and fileName without doubling a separator.
func UploadKey(path, fileName string) string {
	if path == "" {
		return fileName
	}
	return strings.TrimSuffix(path, "/") + "/" + fileName
}

// UploadFile stores data as path/fileName with one x-amz-meta-* header per
// metadata entry.
func (c *Client) UploadFile(ctx context.Context, data []byte, fileName, path string, metadata map[string]string, opts ...UploadOption) (result UploadResult, err error) {
	const op = "upload"
	key := UploadKey(path, fileName)
	ctx, done := c.begin(ctx, op, key)
	defer func() { done(err) }()

	snap, err := c.snapshot(op, false)
	if err != nil {
		return UploadResult{}, err
	}
	defer clear(snap.secret)

	if fileName == "" || strings.Contains(fileName, "/") {
		return UploadResult{}, validationError(op, fmt.Errorf("invalid file name %q", fileName))
	}
	if err := s3utils.CheckValidObjectName(key); err != nil {
		return UploadResult{}, validationError(op, err)
	}

	o := uploadOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.contentType == "" {
		o.contentType = mimetype.Detect(data).String()
	}

	header := http.Header{}
	header.Set("Content-Type", o.contentType)
	for k, v := range metadata {
		name, err := metaHeader(k)
		if err != nil {
			return UploadResult{}, validationError(op, err)
		}
		header.Set(name, v)
	}

	hash := sigv4.HashPayload(data)
	resp, err := c.send(ctx, snap, exchange{
		op:          op,
		method:      http.MethodPut,
		key:         key,
		body:        data,
		payloadHash: hash,
		header:      header,
	})
	if err != nil {
		return UploadResult{}, err
	}
	if !resp.ok() {
		return UploadResult{}, statusError(op, ErrUpload, resp.status, resp.body)
	}

	return UploadResult{
		Key:         key,
		ETag:        strings.Trim(resp.header.Get("ETag"), `"`),
		Size:        len(data),
		ContentType: o.contentType,
		PayloadHash: hash,
	}, nil
}

func metaHeader(k string) (string, error) {
	k = strings.ToLower(strings.TrimSpace(k))
	if k == "" {
		return "", errors.New("empty metadata key")
	}
	for _, r := range k {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return "", fmt.Errorf("invalid metadata key %q", k)
		}
	}
	return "x-amz-meta-" + k, nil
}

// DownloadFile returns the object's bytes.
func (c *Client) DownloadFile(ctx context.Context, key string) (data []byte, err error) {
	const op = "download"
	ctx, done := c.begin(ctx, op, key)
	defer func() { done(err) }()

	resp, err := c.objectRequest(ctx, op, http.MethodGet, key)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, statusError(op, ErrDownload, resp.status, resp.body)
	}
	return resp.body, nil
}

// DeleteFile removes the object.
func (c *Client) DeleteFile(ctx context.Context, key string) (result DeleteResult, err error) {
	const op = "delete"
	ctx, done := c.begin(ctx, op, key)
	defer func() { done(err) }()

	resp, err := c.objectRequest(ctx, op, http.MethodDelete, key)
	if err != nil {
		return DeleteResult{}, err
	}
	if !resp.ok() {
		return DeleteResult{}, statusError(op, ErrDelete, resp.status, resp.body)
	}
	return DeleteResult{Key: key}, nil
}

func (c *Client) objectRequest(ctx context.Context, op, method, key string) (response, error) {
	snap, err := c.snapshot(op, false)
	if err != nil {
		return response{}, err
	}
	if err := s3utils.CheckValidObjectName(key); err != nil {
		clear(snap.secret)
		return response{}, validationError(op, err)
	}
	return c.send(ctx, snap, exchange{
		op:          op,
		method:      method,
		key:         key,
		payloadHash: sigv4.UnsignedPayload,
	})
}

// SaveConfig persists the current settings with the secret sealed.
func (c *Client) SaveConfig(ctx context.Context) error {
	if c.configs == nil {
		return errors.New("no config store configured")
	}
	c.mu.RLock()
	creds := Credentials{
		Endpoint:    c.endpoint,
		Region:      c.region,
		Bucket:      c.bucket,
		UseSSL:      c.useSSL,
		AccessKeyID: c.accessKeyID,
	}
	secret := append([]byte(nil), c.secret...)
	c.mu.RUnlock()
	defer clear(secret)

	return c.configs.SaveSecretBytes(ctx, creds, secret)
}

// LoadConfig restores persisted settings into a disconnected client and
// returns them without the secret, which goes straight into the client.
// Call Connect (or ConnectWithProvider) to use them.
func (c *Client) LoadConfig(ctx context.Context) (Credentials, error) {
	if c.configs == nil {
		return Credentials{}, errors.New("no config store configured")
	}
	creds, secret, err := c.configs.loadSecretBytes(ctx)
	if err != nil {
		return Credentials{}, err
	}
	defer clear(secret)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDisconnected {
		return Credentials{}, errors.New("load config: client is connected")
	}
	if creds.Endpoint != "" {
		c.endpoint = creds.Endpoint
		c.useSSL = creds.UseSSL
	}
	if creds.Region != "" {
		c.region = creds.Region
	}
	c.bucket = creds.Bucket
	c.accessKeyID = creds.AccessKeyID
	if len(secret) > 0 {
		c.secret.setBytes(secret)
	}
	return creds, nil
}

// ShouldUseSSL determines if SSL should be used based on the endpoint.
// Returns false for localhost, 127.0.0.1, and docker service names.
func ShouldUseSSL(endpoint string) bool {
	if strings.HasPrefix(endpoint, "http://") {
		return false
	}
	if strings.HasPrefix(endpoint, "https://") {
		return true
	}
	host := strings.Split(endpoint, ":")[0]
	if host == "localhost" || host == "127.0.0.1" {
		return false
	}
	// Docker service names (minio:9000, minio1:9000, ...), not domain names.
	if strings.HasPrefix(endpoint, "minio") && !strings.Contains(host, ".") && strings.Contains(endpoint, ":9000") {
		return false
	}
	return true
}
