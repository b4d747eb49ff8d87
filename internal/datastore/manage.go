package datastore

import (
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	// DefaultSlowQueryThreshold defines the duration after which a query is
	// considered slow. 1 second accommodates migration batch queries which
	// can take 800-900ms while still flagging queries that need attention.
	DefaultSlowQueryThreshold = 1 * time.Second

	// redactedMarker replaces credentials in connection strings before they
	// reach any log output.
	redactedMarker = "[REDACTED]"
)

// createGormLogger configures and returns a new GORM logger instance.
func createGormLogger() gormlogger.Interface {
	// Use our custom GORM logger with metrics support
	return NewGormLogger(DefaultSlowQueryThreshold, gormlogger.Warn, nil)
}

// performAutoMigration automates database migrations with error handling.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	migrationStart := time.Now()
	migrationLogger := getLogger().With("db_type", dbType)

	migrationLogger.Debug("Starting database migration")

	if err := db.AutoMigrate(
		&User{}, &Token{}, &Group{}, &GroupUser{},
		&Obj{}, &Source{}, &Classification{}, &ClassificationGroup{},
		&Telescope{}, &Instrument{}, &Allocation{},
		&FollowupRequest{}, &FacilityTransaction{},
		&Spectrum{}, &SpectrumGroup{}, &SpectrumReducer{}, &SpectrumObserver{},
		&Photometry{}, &PhotometryGroup{}, &Annotation{}, &AnnotationGroup{},
		&AnalysisService{}, &GroupAnalysisService{}, &ObjAnalysis{}, &GroupObjAnalysis{},
	); err != nil {
		return criticalError(err, "auto_migration", "schema migration failed",
			"db_type", dbType,
			"connection", redactSensitiveInfo(connectionInfo))
	}

	if debug {
		migrationLogger.Debug("Database migration completed successfully",
			"connection", redactSensitiveInfo(connectionInfo),
			"total_duration", time.Since(migrationStart))
	}

	return nil
}

// redactSensitiveInfo redacts sensitive information (e.g., password) from a MySQL DSN string.
func redactSensitiveInfo(dsn string) string {
	// Parse the DSN to extract components. Add a dummy scheme if needed for
	// parsing, just to make net/url accept the string.
	parseInput := dsn
	needsDummyScheme := false
	if !strings.Contains(parseInput, "://") {
		// Add dummy scheme if it's likely a DSN needing one (contains '@' or starts without '/')
		if strings.Contains(parseInput, "@") || (!strings.HasPrefix(parseInput, "/") && strings.Contains(parseInput, "(")) {
			parseInput = "dummy://" + parseInput
			needsDummyScheme = true
		} else if strings.HasPrefix(parseInput, "/") {
			// Handle path-only or path-with-params DSNs like "/dbname?..."
			parseInput = "dummy://dummyhost" + parseInput
			needsDummyScheme = true
		}
		// Plain "dbname" without scheme/user/host/params may fail parsing, which is acceptable.
	}

	u, err := url.Parse(parseInput)
	if err != nil {
		// If parsing fails even with added scheme, return a generic redacted
		// string as we cannot reliably locate the password. Avoid logging the raw DSN.
		return "[REDACTED DSN]"
	}

	// Redact the password if present in the UserInfo
	if u.User != nil {
		_, hasPassword := u.User.Password()
		if hasPassword {
			u.User = url.UserPassword(u.User.Username(), redactedMarker)
		}
	}

	// Reconstruct the string. If we added a dummy scheme/host, remove it.
	sanitized := u.String()
	if needsDummyScheme {
		if after, ok := strings.CutPrefix(sanitized, "dummy://dummyhost"); ok {
			sanitized = after
		} else if after, ok := strings.CutPrefix(sanitized, "dummy://"); ok {
			sanitized = after
		}
	}

	return sanitized
}
