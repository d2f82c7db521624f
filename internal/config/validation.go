package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tag constraints and the rules that span several
// fields.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return err
	}

	p := cfg.Server.Passive
	if (p.PortMin == 0) != (p.PortMax == 0) || p.PortMin > p.PortMax {
		return fmt.Errorf("server.passive: invalid port range [%d, %d]", p.PortMin, p.PortMax)
	}

	switch cfg.Storage.Type {
	case "os":
		if cfg.Storage.Root == "" {
			return fmt.Errorf("storage.root is required for the os backend")
		}
	case "s3":
		if cfg.Storage.S3.Bucket == "" || cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.bucket and storage.s3.region are required for the s3 backend")
		}
		if (cfg.Storage.S3.AccessKeyID == "") != (cfg.Storage.S3.SecretAccessKey == "") {
			return fmt.Errorf("storage.s3: access_key_id and secret_access_key must be set together")
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}
	return nil
}

// formatValidationErrors turns validator errors into one line per field,
// using the mapstructure-style namespace ("Server.Timeouts.Idle").
func formatValidationErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
