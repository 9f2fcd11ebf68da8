package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"REGISTER_BACKEND_URL": "https://backend.example.com/api/",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Backend.BaseURL != "https://backend.example.com/api" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Device.Driver != DeviceDriverSimulator {
		t.Errorf("expected simulator driver by default, got %s", cfg.Device.Driver)
	}
	if cfg.Device.Timeout != defaultDeviceTimeout {
		t.Errorf("unexpected device timeout %s", cfg.Device.Timeout)
	}
	if cfg.Register.Currency != "usd" || cfg.Register.TaxAmount != 0 {
		t.Errorf("unexpected currency/tax defaults: %s/%d", cfg.Register.Currency, cfg.Register.TaxAmount)
	}
	if cfg.Register.ReceiptProduct != "Coaches Packet" {
		t.Errorf("unexpected receipt product %q", cfg.Register.ReceiptProduct)
	}
	if cfg.Register.Venues[1] != "Prep Hoops" || cfg.Register.Venues[2] != "Prep Dig" || cfg.Register.Venues[3] != "PGH" {
		t.Errorf("unexpected default venues %v", cfg.Register.Venues)
	}
	if cfg.PubSub.ProjectID != "" {
		t.Errorf("expected pubsub disabled by default")
	}
	if cfg.Idempotency.StorePath != "" || cfg.Idempotency.CleanupInterval != 5*time.Minute {
		t.Errorf("unexpected idempotency defaults %+v", cfg.Idempotency)
	}
}

func TestLoadStripeDriverResolvesSecrets(t *testing.T) {
	env := map[string]string{
		"REGISTER_BACKEND_URL":          "https://backend.example.com/api",
		"REGISTER_DEVICE_DRIVER":        "Stripe",
		"REGISTER_DEVICE_TIMEOUT":       "90s",
		"REGISTER_STRIPE_API_KEY":       "sm://stripe-terminal-key",
		"REGISTER_STRIPE_LOCATION_ID":   "tml_123",
		"REGISTER_BACKEND_AUTH_TOKEN":   "secret://backend-token?version=3",
		"REGISTER_TAX_AMOUNT":           "125",
		"REGISTER_VENUES":               "1=Prep Hoops, 9=Summer Jam, bad, x=nope",
		"REGISTER_SERVER_WRITE_TIMEOUT": "3m",
	}
	secrets := map[string]string{
		"secret://stripe-terminal-key":     "sk_test_123",
		"secret://backend-token?version=3": "token-abc",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Device.Driver != DeviceDriverStripe {
		t.Errorf("expected stripe driver, got %s", cfg.Device.Driver)
	}
	if cfg.Device.Stripe.APIKey != "sk_test_123" {
		t.Errorf("expected resolved api key, got %s", cfg.Device.Stripe.APIKey)
	}
	if cfg.Backend.AuthToken != "token-abc" {
		t.Errorf("expected resolved backend token, got %s", cfg.Backend.AuthToken)
	}
	if cfg.Device.Timeout != 90*time.Second {
		t.Errorf("unexpected device timeout %s", cfg.Device.Timeout)
	}
	if cfg.Register.TaxAmount != 125 {
		t.Errorf("unexpected tax %d", cfg.Register.TaxAmount)
	}
	if len(cfg.Register.Venues) != 2 || cfg.Register.Venues[9] != "Summer Jam" {
		t.Errorf("unexpected venues %v", cfg.Register.Venues)
	}
}

func TestLoadReportsMissingFields(t *testing.T) {
	env := map[string]string{
		"REGISTER_DEVICE_DRIVER": "stripe",
		"REGISTER_CURRENCY":      "dollars",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	want := map[string]bool{
		"Backend.BaseURL":          true,
		"Register.Currency":        true,
		"Device.Stripe.APIKey":     true,
		"Device.Stripe.LocationID": true,
	}
	for _, field := range verr.Fields() {
		delete(want, field)
	}
	if len(want) != 0 {
		t.Fatalf("missing expected fields %v in %v", want, verr.Fields())
	}
}

func TestLoadRejectsUnresolvableSecret(t *testing.T) {
	env := map[string]string{
		"REGISTER_BACKEND_URL":    "https://backend.example.com/api",
		"REGISTER_STRIPE_API_KEY": "secret://missing",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var serr *SecretError
	if !errors.As(err, &serr) {
		t.Fatalf("expected secret error, got %v", err)
	}
	if serr.Ref != "secret://missing" {
		t.Fatalf("unexpected ref %s", serr.Ref)
	}
}

func TestLoadReadsDotEnvBelowExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nREGISTER_BACKEND_URL=http://localhost:3000/api\nexport REGISTER_SERVER_PORT=\"9091\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvFile(path),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"REGISTER_SERVER_PORT": "7000"}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Backend.BaseURL != "http://localhost:3000/api" {
		t.Errorf("expected backend url from .env, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Server.Port != "7000" {
		t.Errorf("expected explicit map to win, got %s", cfg.Server.Port)
	}

	value, err := Lookup("REGISTER_SERVER_PORT", WithEnvFile(path), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if value != "9091" {
		t.Errorf("expected quoted .env value unwrapped, got %q", value)
	}
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvFile(filepath.Join(t.TempDir(), "absent.env")),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"REGISTER_BACKEND_URL": "http://localhost"}),
	)
	if err != nil {
		t.Fatalf("expected missing .env to be ignored, got %v", err)
	}
}
