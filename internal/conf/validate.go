// conf/validate.go

package conf

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	// Validate WebServer settings
	if err := validateWebServerSettings(&settings.WebServer); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Database settings
	if err := validateDatabaseSettings(&settings.Database); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Facility settings
	if err := validateFacilitySettings(&settings.Facility); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Search settings
	if err := validateSearchSettings(&settings.Search); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Archive settings
	if err := validateArchiveSettings(&settings.Archive); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Notification settings
	if err := validateNotificationSettings(&settings.Notification); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// If there are any errors, return the ValidationError
	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateWebServerSettings validates the web server specific settings
func validateWebServerSettings(settings *WebServerSettings) error {
	var errs []string

	if settings.Enabled {
		// Check if port is provided and valid
		if settings.Port == "" {
			errs = append(errs, "WebServer port is required when web server is enabled")
		} else {
			port, err := strconv.Atoi(settings.Port)
			if err != nil || port < 1 || port > 65535 {
				errs = append(errs, "WebServer port must be a valid port number between 1 and 65535")
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// validateDatabaseSettings checks that exactly one database backend is enabled
func validateDatabaseSettings(settings *DatabaseSettings) error {
	var errs []string

	switch {
	case settings.SQLite.Enabled && settings.MySQL.Enabled:
		errs = append(errs, "only one database backend may be enabled, both SQLite and MySQL are on")
	case !settings.SQLite.Enabled && !settings.MySQL.Enabled:
		errs = append(errs, "no database backend enabled, enable either SQLite or MySQL")
	}

	if settings.SQLite.Enabled && settings.SQLite.Path == "" {
		errs = append(errs, "SQLite database path is required")
	}

	if settings.MySQL.Enabled {
		if settings.MySQL.Host == "" {
			errs = append(errs, "MySQL host is required")
		}
		if settings.MySQL.Database == "" {
			errs = append(errs, "MySQL database name is required")
		}
		if settings.MySQL.Port != "" {
			port, err := strconv.Atoi(settings.MySQL.Port)
			if err != nil || port < 1 || port > 65535 {
				errs = append(errs, "MySQL port must be a valid port number between 1 and 65535")
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// validateFacilitySettings validates the telescope facility integration settings
func validateFacilitySettings(settings *FacilitySettings) error {
	var errs []string

	if settings.LT.Enabled {
		if settings.LT.Host == "" {
			errs = append(errs, "LT node agent host is required when the LT facility is enabled")
		}
		if settings.LT.Port == "" {
			errs = append(errs, "LT node agent port is required when the LT facility is enabled")
		} else {
			port, err := strconv.Atoi(settings.LT.Port)
			if err != nil || port < 1 || port > 65535 {
				errs = append(errs, "LT node agent port must be a valid port number between 1 and 65535")
			}
		}
		if settings.LT.SiteLatitude < -90 || settings.LT.SiteLatitude > 90 {
			errs = append(errs, "LT site latitude must be between -90 and 90")
		}
		if settings.LT.SiteLongitude < -180 || settings.LT.SiteLongitude > 180 {
			errs = append(errs, "LT site longitude must be between -180 and 180")
		}
		if settings.LT.RequestsPerMinute < 0 {
			errs = append(errs, "LT requests per minute must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// validateSearchSettings validates the vector search settings
func validateSearchSettings(settings *SearchSettings) error {
	var errs []string

	if settings.Enabled {
		if settings.Milvus.Address == "" {
			errs = append(errs, "Milvus address is required when search is enabled")
		}
		if settings.Milvus.Collection == "" {
			errs = append(errs, "Milvus collection name is required when search is enabled")
		}
		if settings.OpenAI.EmbeddingModel == "" {
			errs = append(errs, "embedding model name is required when search is enabled")
		}
		if settings.CacheTTL < 0 {
			errs = append(errs, "search cache TTL must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// validateArchiveSettings validates the analysis product archive settings
func validateArchiveSettings(settings *ArchiveSettings) error {
	var errs []string

	if settings.Enabled {
		switch settings.Target.Type {
		case "local", "ftp", "sftp":
			// supported target types
		case "":
			errs = append(errs, "archive target type is required when archive is enabled")
		default:
			errs = append(errs, fmt.Sprintf("unsupported archive target type: %s", settings.Target.Type))
		}
		if settings.Folder == "" {
			errs = append(errs, "archive folder is required when archive is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// validateNotificationSettings validates the notification push settings
func validateNotificationSettings(settings *NotificationSettings) error {
	var errs []string

	if settings.Enabled {
		for i := range settings.Providers {
			p := &settings.Providers[i]
			if !p.Enabled {
				continue
			}
			if len(p.URLs) == 0 {
				name := p.Name
				if name == "" {
					name = fmt.Sprintf("provider %d", i)
				}
				errs = append(errs, fmt.Sprintf("notification %s has no URLs configured", name))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
