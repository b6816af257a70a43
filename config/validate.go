package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their config key rather than the Go field name
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the sections every process needs regardless of which
// capabilities are enabled. Capability-owned sections are checked by the
// section validators during that capability's activation.
func (c *Config) Validate() error {
	if err := validateSection("server", c.Server); err != nil {
		return err
	}
	if err := validateSection("logging", c.Logging); err != nil {
		return err
	}
	if err := validateSection("startup", c.Startup); err != nil {
		return err
	}
	if err := validateSection("tracing", c.Tracing); err != nil {
		return err
	}
	if err := validateSection("secrets", c.Secrets); err != nil {
		return err
	}
	if c.Secrets.Provider == "vault" && c.Secrets.Vault.Address == "" {
		return fmt.Errorf("invalid secrets configuration: secrets.vault.address is required when provider is vault")
	}
	return nil
}

// ValidatePersistence checks the persistence section.
func (c *Config) ValidatePersistence() error {
	return validateSection("persistence", c.Persistence)
}

// ValidateTransactions checks the transactions section.
func (c *Config) ValidateTransactions() error {
	return validateSection("transactions", c.Transactions)
}

// ValidateCache checks the cache section, including the redis subsection
// only when redis is the selected backend.
func (c *Config) ValidateCache() error {
	if err := validateSection("cache", c.Cache); err != nil {
		return err
	}
	if c.Cache.Backend == "redis" {
		return validateSection("cache.redis", c.Cache.Redis)
	}
	return nil
}

// ValidateAsync checks the async section.
func (c *Config) ValidateAsync() error {
	return validateSection("async", c.Async)
}

func validateSection(section string, s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid %s configuration: %w", section, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(section, fe))
	}
	return fmt.Errorf("invalid %s configuration: %s", section, strings.Join(msgs, "; "))
}

func describe(section string, fe validator.FieldError) string {
	// Namespace is "<Struct>.<key>.<key>"; swap the struct name for the section
	key := fe.Namespace()
	if i := strings.Index(key, "."); i >= 0 {
		key = section + key[i:]
	}

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", key)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", key, fe.Param(), fmt.Sprint(fe.Value()))
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port, got %q", key, fmt.Sprint(fe.Value()))
	case "gt", "gte", "lt", "lte":
		return fmt.Sprintf("%s must be %s %s, got %v", key, fe.Tag(), fe.Param(), fe.Value())
	case "ltefield":
		return fmt.Sprintf("%s must not exceed %s", key, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", key, fe.Tag())
	}
}
