package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Server.Port != "8041" {
		t.Errorf("expected default port 8041, got %s", cfg.Server.Port)
	}
	if cfg.Wallet.DaemonURL != "http://localhost:9044" {
		t.Errorf("unexpected wallet daemon URL %s", cfg.Wallet.DaemonURL)
	}
	if cfg.Transfer.QueueDepth != 64 || cfg.Transfer.MaxAttempts != 5 {
		t.Errorf("unexpected transfer defaults: %+v", cfg.Transfer)
	}
	if cfg.Reconcile.ConfirmationTimeout != 10*time.Minute {
		t.Errorf("unexpected confirmation timeout %s", cfg.Reconcile.ConfirmationTimeout)
	}
	if cfg.Kafka.Brokers != nil {
		t.Errorf("expected no brokers by default, got %v", cfg.Kafka.Brokers)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092 ,")
	t.Setenv("TRANSFER_QUEUE_DEPTH", "8")
	t.Setenv("TRANSFER_RETRY_BASE_DELAY", "250ms")
	t.Setenv("RECONCILE_CONFIRMATION_TIMEOUT", "3m")
	t.Setenv("TOKENS", "FUND:FND:abc")

	cfg := Load()

	if cfg.Server.Port != "9999" {
		t.Errorf("expected port 9999, got %s", cfg.Server.Port)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "broker1:9092" || cfg.Kafka.Brokers[1] != "broker2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Transfer.QueueDepth != 8 {
		t.Errorf("expected queue depth 8, got %d", cfg.Transfer.QueueDepth)
	}
	if cfg.Transfer.RetryBaseDelay != 250*time.Millisecond {
		t.Errorf("expected 250ms base delay, got %s", cfg.Transfer.RetryBaseDelay)
	}
	if cfg.Reconcile.ConfirmationTimeout != 3*time.Minute {
		t.Errorf("expected 3m timeout, got %s", cfg.Reconcile.ConfirmationTimeout)
	}
	if cfg.Tokens.Bootstrap != "FUND:FND:abc" {
		t.Errorf("unexpected bootstrap string %q", cfg.Tokens.Bootstrap)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("TRANSFER_QUEUE_DEPTH", "not-a-number")
	t.Setenv("RECONCILE_SWEEP_INTERVAL", "soon")

	cfg := Load()
	if cfg.Transfer.QueueDepth != 64 {
		t.Errorf("expected fallback queue depth, got %d", cfg.Transfer.QueueDepth)
	}
	if cfg.Reconcile.SweepInterval != 30*time.Second {
		t.Errorf("expected fallback sweep interval, got %s", cfg.Reconcile.SweepInterval)
	}
}
