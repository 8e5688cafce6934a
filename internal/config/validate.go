package config

import (
	"fmt"
	"net/url"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	// MAIL_ENDPOINT is required and must be an absolute URL
	if cfg.MailEndpoint == "" {
		errs = append(errs, ValidationError{
			Field:   "MAIL_ENDPOINT",
			Message: "required",
		})
	} else if u, err := url.Parse(cfg.MailEndpoint); err != nil || !u.IsAbs() {
		errs = append(errs, ValidationError{
			Field:   "MAIL_ENDPOINT",
			Message: fmt.Sprintf("must be an absolute URL, got %q", cfg.MailEndpoint),
		})
	}

	// MAIL_SECRET is required: an empty secret would sign every mail
	// request with a predictable HMAC.
	if cfg.MailSecret == "" {
		errs = append(errs, ValidationError{
			Field:   "MAIL_SECRET",
			Message: "required",
		})
	}

	if cfg.ReportsEndpoint == "" {
		errs = append(errs, ValidationError{
			Field:   "REPORTS_ENDPOINT",
			Message: "required",
		})
	}

	// TICK_INTERVAL must be a valid positive duration
	if cfg.TickIntervalStr != "" {
		d, err := time.ParseDuration(cfg.TickIntervalStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "TICK_INTERVAL",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "TICK_INTERVAL",
				Message: "must be positive",
			})
		}
	}

	// CACHE_TTL must be a valid positive duration
	if cfg.CacheTTLStr != "" {
		d, err := time.ParseDuration(cfg.CacheTTLStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "CACHE_TTL",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "CACHE_TTL",
				Message: "must be positive",
			})
		}
	}

	// RECONCILE_THRESHOLD must exceed GENERATION_TIMEOUT, otherwise the
	// reconciler fails cycles that are still legitimately generating.
	if cfg.ReconcileEnabled && cfg.ReconcileThreshold > 0 && cfg.GenerationTimeout > 0 &&
		cfg.ReconcileThreshold <= cfg.GenerationTimeout {
		errs = append(errs, ValidationError{
			Field:   "RECONCILE_THRESHOLD",
			Message: fmt.Sprintf("must exceed GENERATION_TIMEOUT (%s)", cfg.GenerationTimeoutStr),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
