// Package buildinfo carries build-time metadata injected at link time,
// kept separate from user configuration.
package buildinfo

// UnknownValue is returned for any metadata field not set at build time.
const UnknownValue = "unknown"

// Context contains build-time metadata that is not user-configurable.
// It is injected at application startup and flows to telemetry and the
// system info endpoint.
type Context struct {
	version   string
	buildDate string
	systemID  string
}

// NewContext creates a build metadata context. Empty fields are preserved
// and surface as UnknownValue from the accessors.
func NewContext(version, buildDate, systemID string) *Context {
	return &Context{
		version:   version,
		buildDate: buildDate,
		systemID:  systemID,
	}
}

// Version returns the Git version tag from build, or UnknownValue.
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns the time the binary was built, or UnknownValue.
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// SystemID returns the unique system identifier used for telemetry,
// or UnknownValue.
func (c *Context) SystemID() string {
	if c == nil || c.systemID == "" {
		return UnknownValue
	}
	return c.systemID
}
