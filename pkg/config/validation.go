package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	// Run struct tag validation
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	// Custom validation rules that can't be expressed in tags
	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// Validate dataset names are unique and belong to their pool
	names := make(map[string]bool)
	for i, ds := range cfg.Datasets {
		if names[ds.Name] {
			return fmt.Errorf("datasets[%d]: duplicate dataset name %q", i, ds.Name)
		}
		names[ds.Name] = true

		// A dataset is either the pool itself or pool/child
		if ds.Name != ds.Pool && !strings.HasPrefix(ds.Name, ds.Pool+"/") {
			return fmt.Errorf("datasets[%d]: dataset %q does not belong to pool %q", i, ds.Name, ds.Pool)
		}
	}

	// A persistent catalog needs somewhere to live
	if cfg.Catalog.Type == "badger" && !cfg.Catalog.Badger.InMemory && cfg.Catalog.Badger.Dir == "" {
		return fmt.Errorf("catalog.badger: dir must be set for a persistent catalog")
	}

	// The snapshot directory must stay below the dataset mountpoint
	if strings.HasPrefix(cfg.Snapdir.DirectoryName, "/") {
		return fmt.Errorf("snapdir.directory_name: must be relative to the dataset mountpoint")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
