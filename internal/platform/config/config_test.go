package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_STORAGE_BACKEND": "memory",
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(baseEnv()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != defaultPort {
		t.Fatalf("expected default port, got %s", cfg.Server.Port)
	}
	if cfg.PSP.DefaultCurrency != "INR" || cfg.PSP.DefaultProvider != "razorpay" {
		t.Fatalf("unexpected psp defaults %+v", cfg.PSP)
	}
	if cfg.Checkout.ReservationTTL != 10*time.Minute || cfg.Checkout.DraftTTL != 30*time.Minute {
		t.Fatalf("unexpected checkout defaults %+v", cfg.Checkout)
	}
	if cfg.Deadlines.DetailsWindow != 12*time.Hour || cfg.Deadlines.PreviewWindow != 24*time.Hour {
		t.Fatalf("unexpected deadline defaults %+v", cfg.Deadlines)
	}
	if len(cfg.Security.OIDC.Issuers) != 1 || cfg.Security.OIDC.Issuers[0] != defaultOIDCIssuer {
		t.Fatalf("unexpected issuers %v", cfg.Security.OIDC.Issuers)
	}
}

func TestLoad_DotEnvIsOverriddenByExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "API_STORAGE_BACKEND=memory\nAPI_SERVER_PORT=9000\nAPI_KAFKA_BROKERS=\"k1:9092, k2:9092\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(path), WithEnvMap(map[string]string{
		"API_SERVER_PORT": "9100",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "9100" {
		t.Fatalf("expected explicit port to win, got %s", cfg.Server.Port)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_ResolvesSecretReferences(t *testing.T) {
	env := baseEnv()
	env["API_PSP_RAZORPAY_KEY_SECRET"] = "sm://projects/p/secrets/razorpay/versions/latest"

	var seen string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		seen = ref
		return "rzp-secret", nil
	})
	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(env), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "secret://projects/p/secrets/razorpay/versions/latest" {
		t.Fatalf("unexpected normalised ref %q", seen)
	}
	if cfg.PSP.RazorpayKeySecret != "rzp-secret" {
		t.Fatalf("secret not applied")
	}
}

func TestLoad_SecretWithoutResolver(t *testing.T) {
	env := baseEnv()
	env["API_PSP_STRIPE_API_KEY"] = "secret://stripe"
	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(env))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
}

func TestLoad_ValidationListsEveryProblem(t *testing.T) {
	env := map[string]string{
		"API_STORAGE_BACKEND":          "postgres",
		"API_PSP_DEFAULT_PROVIDER":     "paypal",
		"API_CHECKOUT_DRAFT_TTL":       "1m",
		"API_CHECKOUT_RESERVATION_TTL": "10m",
	}
	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(env))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := map[string]bool{"Postgres.DSN": true, "PSP.DefaultProvider": true, "Checkout.DraftTTL": true}
	for _, field := range validation.Fields() {
		delete(want, field)
	}
	if len(want) != 0 {
		t.Fatalf("missing validation fields %v in %v", want, validation.Fields())
	}
}
