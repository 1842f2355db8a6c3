package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a Config for structural and semantic errors. It
// returns all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.GitHubRepo == "" {
		errs = append(errs, ValidationError{Field: "github_repo", Message: "is required"})
	} else if !strings.Contains(cfg.GitHubRepo, "/") {
		errs = append(errs, ValidationError{Field: "github_repo", Message: "must be owner/name"})
	}
	if cfg.ProjectDir == "" {
		errs = append(errs, ValidationError{Field: "project_dir", Message: "is required"})
	}
	if cfg.MaxFixIterations < 1 {
		errs = append(errs, ValidationError{Field: "max_fix_iterations", Message: "must be at least 1"})
	}

	known := make(map[string]bool, len(stageRoles))
	for _, role := range stageRoles {
		known[role] = true
	}
	for role, raw := range cfg.Timeouts {
		field := "timeouts." + role
		if !known[role] {
			errs = append(errs, ValidationError{Field: field, Message: "unknown stage"})
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", raw)})
		} else if d <= 0 {
			errs = append(errs, ValidationError{Field: field, Message: "must be positive"})
		}
	}

	if len(cfg.Weights) > 0 {
		sum := 0.0
		for role, w := range cfg.Weights {
			field := "weights." + role
			if !known[role] {
				errs = append(errs, ValidationError{Field: field, Message: "unknown stage"})
				continue
			}
			if w < 0 || w > 1 {
				errs = append(errs, ValidationError{Field: field, Message: "must be between 0 and 1"})
			}
			sum += w
		}
		if len(cfg.Weights) != len(stageRoles) {
			errs = append(errs, ValidationError{Field: "weights", Message: "must cover all four stages"})
		} else if math.Abs(sum-1.0) > 0.001 {
			errs = append(errs, ValidationError{Field: "weights", Message: fmt.Sprintf("must sum to 1.0, got %.3f", sum)})
		}
	}

	return errs
}
