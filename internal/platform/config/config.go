package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 5 * time.Minute
	defaultIdleTimeout      = 120 * time.Second
	defaultEnvironment      = "local"
	defaultCurrency         = "usd"
	defaultLocale           = "en-US"
	defaultReceiptProduct   = "Coaches Packet"
	defaultBackendTimeout   = 10 * time.Second
	defaultDeviceDriver     = DeviceDriverSimulator
	defaultDeviceTimeout    = 2 * time.Minute
	defaultPollInterval     = time.Second
	defaultReaderLabel      = "pos-register"
	defaultLineItemWorkers  = 4
	defaultIdempotencyTTL   = 10 * time.Minute
	defaultIdempotencyHdr   = "Idempotency-Key"
	defaultIdempotencySweep = 5 * time.Minute
	defaultSecretsCacheTTL  = 10 * time.Minute
	defaultPubSubTopic      = "register-checkouts"
	defaultVenueNameMapping = "1=Prep Hoops,2=Prep Dig,3=PGH"
)

// Device drivers understood by the register.
const (
	DeviceDriverStripe    = "stripe"
	DeviceDriverSimulator = "simulator"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Register    RegisterConfig
	Backend     BackendConfig
	Device      DeviceConfig
	PubSub      PubSubConfig
	Secrets     SecretsConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters. WriteTimeout must outlive
// the device timeout because collect_payment blocks on the reader.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	LogLevel     string
}

// RegisterConfig holds the checkout behaviour of this register.
type RegisterConfig struct {
	Environment    string
	Currency       string
	TaxAmount      int64
	Locale         string
	ReceiptProduct string
	Venues         map[int]string
}

// BackendConfig points at the order/catalog backend.
type BackendConfig struct {
	BaseURL         string
	Timeout         time.Duration
	AuthToken       string
	LineItemWorkers int
}

// DeviceConfig selects and tunes the card reader driver.
type DeviceConfig struct {
	Driver       string
	Timeout      time.Duration
	PollInterval time.Duration
	Stripe       StripeConfig
}

// StripeConfig carries the Stripe Terminal credentials.
type StripeConfig struct {
	APIKey      string
	LocationID  string
	ReaderLabel string
}

// PubSubConfig controls checkout event publishing. An empty project disables it.
type PubSubConfig struct {
	ProjectID string
	Topic     string
}

// SecretsConfig configures the Secret Manager backed resolver for secret:// refs.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
	CacheTTL     time.Duration
}

// IdempotencyConfig controls replay protection on step requests. An empty
// StorePath keeps replay records in memory.
type IdempotencyConfig struct {
	Header          string
	TTL             time.Duration
	StorePath       string
	CleanupInterval time.Duration
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map that wins over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Lookup returns a single raw value using the same precedence as Load
// (.env < OS env < explicit map). main uses it to bootstrap the secret
// fetcher before the full Load.
func Lookup(key string, opts ...Option) (string, error) {
	options := newLoaderOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return "", err
	}
	value, _ := options.lookupFunc(dotEnv)(key)
	return strings.TrimSpace(value), nil
}

// Load assembles the register configuration from defaults, .env overrides,
// environment variables, and Secret Manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	lookup := options.lookupFunc(dotEnv)

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "REGISTER_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "REGISTER_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "REGISTER_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "REGISTER_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			LogLevel:     stringWithDefault(lookup, "REGISTER_LOG_LEVEL", ""),
		},
		Register: RegisterConfig{
			Environment:    strings.ToLower(stringWithDefault(lookup, "REGISTER_ENVIRONMENT", defaultEnvironment)),
			Currency:       strings.ToLower(stringWithDefault(lookup, "REGISTER_CURRENCY", defaultCurrency)),
			TaxAmount:      int64(intWithDefault(lookup, "REGISTER_TAX_AMOUNT", 0)),
			Locale:         stringWithDefault(lookup, "REGISTER_LOCALE", defaultLocale),
			ReceiptProduct: stringWithDefault(lookup, "REGISTER_RECEIPT_PRODUCT", defaultReceiptProduct),
			Venues:         venuesWithDefault(lookup, "REGISTER_VENUES"),
		},
		Backend: BackendConfig{
			BaseURL:         strings.TrimRight(stringWithDefault(lookup, "REGISTER_BACKEND_URL", ""), "/"),
			Timeout:         durationWithDefault(lookup, "REGISTER_BACKEND_TIMEOUT", defaultBackendTimeout),
			AuthToken:       stringWithDefault(lookup, "REGISTER_BACKEND_AUTH_TOKEN", ""),
			LineItemWorkers: intWithDefault(lookup, "REGISTER_BACKEND_LINE_ITEM_WORKERS", defaultLineItemWorkers),
		},
		Device: DeviceConfig{
			Driver:       strings.ToLower(stringWithDefault(lookup, "REGISTER_DEVICE_DRIVER", defaultDeviceDriver)),
			Timeout:      durationWithDefault(lookup, "REGISTER_DEVICE_TIMEOUT", defaultDeviceTimeout),
			PollInterval: durationWithDefault(lookup, "REGISTER_DEVICE_POLL_INTERVAL", defaultPollInterval),
			Stripe: StripeConfig{
				APIKey:      stringWithDefault(lookup, "REGISTER_STRIPE_API_KEY", ""),
				LocationID:  stringWithDefault(lookup, "REGISTER_STRIPE_LOCATION_ID", ""),
				ReaderLabel: stringWithDefault(lookup, "REGISTER_STRIPE_READER_LABEL", defaultReaderLabel),
			},
		},
		PubSub: PubSubConfig{
			ProjectID: stringWithDefault(lookup, "REGISTER_PUBSUB_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "REGISTER_PUBSUB_TOPIC", defaultPubSubTopic),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "REGISTER_SECRETS_PROJECT_ID", ""),
			FallbackFile: stringWithDefault(lookup, "REGISTER_SECRETS_FALLBACK_FILE", ""),
			CacheTTL:     durationWithDefault(lookup, "REGISTER_SECRETS_CACHE_TTL", defaultSecretsCacheTTL),
		},
		Idempotency: IdempotencyConfig{
			Header:          stringWithDefault(lookup, "REGISTER_IDEMPOTENCY_HEADER", defaultIdempotencyHdr),
			TTL:             durationWithDefault(lookup, "REGISTER_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			StorePath:       stringWithDefault(lookup, "REGISTER_IDEMPOTENCY_STORE_PATH", ""),
			CleanupInterval: durationWithDefault(lookup, "REGISTER_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencySweep),
		},
	}

	secretFields := []*string{
		&cfg.Device.Stripe.APIKey,
		&cfg.Backend.AuthToken,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func (o loaderOptions) lookupFunc(dotEnv map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if value, ok := o.envMap[key]; ok {
			return value, true
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Server.WriteTimeout <= cfg.Device.Timeout {
		missing = append(missing, "Server.WriteTimeout")
	}
	if len(cfg.Register.Currency) != 3 {
		missing = append(missing, "Register.Currency")
	}
	if cfg.Register.TaxAmount < 0 {
		missing = append(missing, "Register.TaxAmount")
	}
	if cfg.Backend.BaseURL == "" {
		missing = append(missing, "Backend.BaseURL")
	}
	if cfg.Backend.Timeout <= 0 {
		missing = append(missing, "Backend.Timeout")
	}
	if cfg.Backend.LineItemWorkers <= 0 {
		missing = append(missing, "Backend.LineItemWorkers")
	}
	switch cfg.Device.Driver {
	case DeviceDriverSimulator:
	case DeviceDriverStripe:
		if cfg.Device.Stripe.APIKey == "" {
			missing = append(missing, "Device.Stripe.APIKey")
		}
		if cfg.Device.Stripe.LocationID == "" {
			missing = append(missing, "Device.Stripe.LocationID")
		}
	default:
		missing = append(missing, "Device.Driver")
	}
	if cfg.Device.Timeout <= 0 {
		missing = append(missing, "Device.Timeout")
	}
	if cfg.Device.PollInterval <= 0 {
		missing = append(missing, "Device.PollInterval")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	values, err := godotenv.Read(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

// venuesWithDefault parses "1=Prep Hoops,2=Prep Dig" into a website id lookup.
func venuesWithDefault(lookup func(string) (string, bool), key string) map[int]string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		raw = defaultVenueNameMapping
	}
	venues := make(map[int]string)
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		name := strings.TrimSpace(parts[1])
		if err != nil || name == "" {
			continue
		}
		venues[id] = name
	}
	return venues
}
