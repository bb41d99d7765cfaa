package config

import (
	"fmt"
	"strings"

	"github.com/watzon/nanofield/internal/alphabet"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateNanoID(&cfg.NanoID)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateMetrics(&cfg.Metrics)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDatabase(cfg *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "database.path",
			Message: "required",
		})
	}

	if cfg.BusyTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.busy_timeout",
			Message: "must be non-negative",
		})
	}

	if cfg.MaxOpenConns < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.max_open_conns",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateNanoID(cfg *NanoIDConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Size < 1 {
		errs = append(errs, ValidationError{
			Field:   "nanoid.size",
			Message: "must be at least 1",
		})
	}

	if cfg.MaxAttempts < 1 {
		errs = append(errs, ValidationError{
			Field:   "nanoid.max_attempts",
			Message: "must be at least 1",
		})
	}

	if n := len([]rune(cfg.Alphabet)); cfg.Alphabet != "" && (n < 2 || n > 255) {
		errs = append(errs, ValidationError{
			Field:   "nanoid.alphabet",
			Message: "must contain between 2 and 255 characters",
		})
	}

	if cfg.AlphabetPredefined != "" {
		if _, ok := alphabet.Lookup(cfg.AlphabetPredefined); !ok {
			errs = append(errs, ValidationError{
				Field:   "nanoid.alphabet_predefined",
				Message: fmt.Sprintf("must be one of: %s", strings.Join(alphabet.Names(), ", ")),
			})
		}
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: debug, info, warn, error",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Format)] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be one of: json, console",
		})
	}

	return errs
}

func validateMetrics(cfg *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Enabled && cfg.Address == "" {
		errs = append(errs, ValidationError{
			Field:   "metrics.address",
			Message: "required when metrics are enabled",
		})
	}

	return errs
}

func validateStorage(cfg *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	for name, backend := range cfg.Backends {
		field := func(suffix string) string {
			return fmt.Sprintf("storage.backends.%s.%s", name, suffix)
		}

		switch backend.Type {
		case "":
			errs = append(errs, ValidationError{
				Field:   field("type"),
				Message: "required (must be 'filesystem', 's3', 'gcs' or 'azure')",
			})

		case "filesystem":
			if backend.Filesystem == nil || backend.Filesystem.Path == "" {
				errs = append(errs, ValidationError{
					Field:   field("filesystem.path"),
					Message: "required when type is 'filesystem'",
				})
				break
			}

			if strings.Contains(backend.Filesystem.Path, "..") {
				errs = append(errs, ValidationError{
					Field:   field("filesystem.path"),
					Message: "path traversal (..) not allowed",
				})
			}

		case "s3":
			if backend.S3 == nil {
				errs = append(errs, ValidationError{
					Field:   field("s3"),
					Message: "required when type is 's3'",
				})
				break
			}

			if backend.S3.Region == "" {
				errs = append(errs, ValidationError{
					Field:   field("s3.region"),
					Message: "required",
				})
			}

			if backend.S3.AccessKeyID == "" {
				errs = append(errs, ValidationError{
					Field:   field("s3.access_key_id"),
					Message: "required",
				})
			}

			if backend.S3.SecretAccessKey == "" {
				errs = append(errs, ValidationError{
					Field:   field("s3.secret_access_key"),
					Message: "required",
				})
			}

			if strings.Contains(backend.S3.BucketPrefix, "/") {
				errs = append(errs, ValidationError{
					Field:   field("s3.bucket_prefix"),
					Message: "must not contain path separators",
				})
			}

		case "gcs":
			if backend.GCS == nil || backend.GCS.Bucket == "" {
				errs = append(errs, ValidationError{
					Field:   field("gcs.bucket"),
					Message: "required when type is 'gcs'",
				})
			}

		case "azure":
			if backend.Azure == nil {
				errs = append(errs, ValidationError{
					Field:   field("azure"),
					Message: "required when type is 'azure'",
				})
				break
			}

			if backend.Azure.Container == "" {
				errs = append(errs, ValidationError{
					Field:   field("azure.container"),
					Message: "required",
				})
			}

			if backend.Azure.AccountURL == "" && backend.Azure.ConnectionString == "" {
				errs = append(errs, ValidationError{
					Field:   field("azure.account_url"),
					Message: "account_url or connection_string is required",
				})
			}

		default:
			errs = append(errs, ValidationError{
				Field:   field("type"),
				Message: "must be 'filesystem', 's3', 'gcs' or 'azure'",
			})
		}
	}

	return errs
}
