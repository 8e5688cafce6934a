package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		DatabaseURL:     "postgres://localhost/fiemail",
		MailEndpoint:    "https://mail.internal/send",
		MailSecret:      "s3cret",
		ReportsEndpoint: "https://reports.internal",
		TickIntervalStr: "30s",
		CacheTTLStr:     "24h",
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("valid config should not return error, got: %v", err)
	}
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}

	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("error should mention DATABASE_URL: %q", err.Error())
	}
}

func TestValidate_MailEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		wantErr  string
	}{
		{"missing", "", "required"},
		{"relative", "/send", "absolute URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.MailEndpoint = tt.endpoint

			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected error for mail_endpoint=%q", tt.endpoint)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_MissingMailSecret(t *testing.T) {
	cfg := validConfig()
	cfg.MailSecret = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing MAIL_SECRET")
	}
	if !strings.Contains(err.Error(), "MAIL_SECRET") {
		t.Errorf("error should mention MAIL_SECRET: %q", err.Error())
	}
}

func TestValidate_InvalidTickInterval(t *testing.T) {
	tests := []struct {
		name     string
		interval string
		wantErr  string
	}{
		{"non-parseable", "invalid", "invalid duration"},
		{"negative", "-1s", "must be positive"},
		{"zero", "0s", "must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.TickIntervalStr = tt.interval

			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected error for tick_interval=%q", tt.interval)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_ReconcileThresholdBelowGenerationTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.ReconcileEnabled = true
	cfg.ReconcileThreshold = 5 * time.Minute
	cfg.GenerationTimeout = 10 * time.Minute
	cfg.GenerationTimeoutStr = "10m"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error when threshold <= generation timeout")
	}
	if !strings.Contains(err.Error(), "RECONCILE_THRESHOLD") {
		t.Errorf("error should mention RECONCILE_THRESHOLD: %q", err.Error())
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := Config{
		DatabaseURL:     "", // missing
		TickIntervalStr: "invalid",
	}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}

	errs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(errs) < 3 {
		t.Errorf("expected at least 3 validation errors, got %d: %v", len(errs), errs)
	}
}

func TestValidationError_Format(t *testing.T) {
	err := ValidationError{Field: "DATABASE_URL", Message: "required"}
	got := err.Error()
	want := "DATABASE_URL: required"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValidationErrors_Format(t *testing.T) {
	// Single error
	single := ValidationErrors{{Field: "F1", Message: "M1"}}
	if single.Error() != "F1: M1" {
		t.Errorf("single error = %q, want 'F1: M1'", single.Error())
	}

	// Multiple errors
	multi := ValidationErrors{
		{Field: "F1", Message: "M1"},
		{Field: "F2", Message: "M2"},
	}
	got := multi.Error()
	if !strings.Contains(got, "2 validation errors") {
		t.Errorf("multi error should contain '2 validation errors': %q", got)
	}
	if !strings.Contains(got, "F1: M1") || !strings.Contains(got, "F2: M2") {
		t.Errorf("multi error should contain both errors: %q", got)
	}

	// Empty
	empty := ValidationErrors{}
	if empty.Error() != "" {
		t.Errorf("empty errors should return empty string, got %q", empty.Error())
	}
}
