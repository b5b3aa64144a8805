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
		"API_FIRESTORE_PROJECT_ID": "shopforge-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.PubSub.ProjectID != "shopforge-dev" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.OrdersTopic != defaultOrdersTopic {
		t.Errorf("expected default orders topic, got %s", cfg.PubSub.OrdersTopic)
	}
	if cfg.Orders.NumberPrefix != defaultOrderNumberPrefix {
		t.Errorf("expected default order number prefix, got %s", cfg.Orders.NumberPrefix)
	}
	if cfg.Orders.NumberMaxAttempts != defaultOrderNumberRetries {
		t.Errorf("unexpected default number attempts: %d", cfg.Orders.NumberMaxAttempts)
	}
	if cfg.Orders.TaxRate != defaultTaxRate {
		t.Errorf("unexpected default tax rate: %s", cfg.Orders.TaxRate)
	}
	if !cfg.Features.EnableEventPublishing {
		t.Error("expected event publishing enabled by default")
	}
}

func TestLoadWithOverrides(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                "9090",
		"API_SERVER_READ_TIMEOUT":        "20s",
		"API_SERVER_WRITE_TIMEOUT":       "25s",
		"API_SERVER_IDLE_TIMEOUT":        "2m",
		"API_FIRESTORE_PROJECT_ID":       "shopforge-prod",
		"API_FIRESTORE_EMULATOR_HOST":    "localhost:8181",
		"API_PUBSUB_PROJECT_ID":          "shopforge-events",
		"API_PUBSUB_ORDERS_TOPIC":        "orders-v2",
		"API_ORDERS_NUMBER_PREFIX":       "SF",
		"API_ORDERS_NUMBER_MAX_ATTEMPTS": "8",
		"API_ORDERS_TAX_RATE":            "0.0925",
		"API_FEATURE_EVENT_PUBLISHING":   "off",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("unexpected port: %s", cfg.Server.Port)
	}
	if cfg.Server.WriteTimeout != 25*time.Second {
		t.Errorf("unexpected write timeout: %s", cfg.Server.WriteTimeout)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Firestore.EmulatorHost != "localhost:8181" {
		t.Errorf("unexpected emulator host: %s", cfg.Firestore.EmulatorHost)
	}
	if cfg.PubSub.ProjectID != "shopforge-events" {
		t.Errorf("unexpected pubsub project: %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.OrdersTopic != "orders-v2" {
		t.Errorf("unexpected orders topic: %s", cfg.PubSub.OrdersTopic)
	}
	if cfg.Orders.NumberPrefix != "SF" {
		t.Errorf("unexpected order number prefix: %s", cfg.Orders.NumberPrefix)
	}
	if cfg.Orders.NumberMaxAttempts != 8 {
		t.Errorf("unexpected number attempts: %d", cfg.Orders.NumberMaxAttempts)
	}
	if cfg.Orders.TaxRate != "0.0925" {
		t.Errorf("unexpected tax rate: %s", cfg.Orders.TaxRate)
	}
	if cfg.Features.EnableEventPublishing {
		t.Error("expected event publishing disabled")
	}
}

func TestLoadValidation(t *testing.T) {
	env := map[string]string{
		"API_ORDERS_NUMBER_PREFIX":       " ",
		"API_ORDERS_NUMBER_MAX_ATTEMPTS": "0",
		"API_ORDERS_TAX_RATE":            "not-a-rate",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error")
	}

	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}

	fields := validationErr.Fields()
	want := map[string]bool{
		"Firestore.ProjectID":      false,
		"Orders.NumberMaxAttempts": false,
		"Orders.TaxRate":           false,
	}
	for _, field := range fields {
		if _, ok := want[field]; ok {
			want[field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Errorf("expected %s to be reported, got %v", field, fields)
		}
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	contents := "# local overrides\nexport API_FIRESTORE_PROJECT_ID=shopforge-local\nAPI_SERVER_PORT=\"7070\"\n"
	if err := os.WriteFile(envPath, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(envPath))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Firestore.ProjectID != "shopforge-local" {
		t.Errorf("unexpected firestore project: %s", cfg.Firestore.ProjectID)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("unexpected port: %s", cfg.Server.Port)
	}
}

func TestEnvMapTakesPrecedenceOverDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("API_FIRESTORE_PROJECT_ID=from-file\n"), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvMap(map[string]string{"API_FIRESTORE_PROJECT_ID": "from-map"}),
		WithoutSystemEnv(),
		WithEnvFile(envPath),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Firestore.ProjectID != "from-map" {
		t.Errorf("expected env map to win, got %s", cfg.Firestore.ProjectID)
	}
}
