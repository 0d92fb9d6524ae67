package config

import "testing"

func TestLoadEmbeddedDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("http.addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Delivery.MaxAttempts != 8 {
		t.Fatalf("delivery.max_attempts = %d", cfg.Delivery.MaxAttempts)
	}
	if cfg.Webhook.Tolerance.Minutes() != 5 {
		t.Fatalf("webhook.tolerance = %s", cfg.Webhook.Tolerance)
	}
}

func TestValidateRequiresWebhookSecret(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// the default config ships without a secret; serving like that would
	// accept envelopes anyone can sign
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty webhook.secret must not validate")
	}

	cfg.Webhook.Secret = "whsec_test"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate with secret: %v", err)
	}
}
