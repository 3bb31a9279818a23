// Package buildinfo carries build-time metadata that is not part of user
// configuration.
package buildinfo

// UnknownValue is reported for metadata that was not injected at build time
const UnknownValue = "unknown"

// Context holds metadata injected at link time
type Context struct {
	// Version is the git version tag of the build
	Version string
	// BuildDate is when the binary was built
	BuildDate string
}

// NewContext returns a Context for the given metadata
func NewContext(version, buildDate string) *Context {
	return &Context{Version: version, BuildDate: buildDate}
}

// GetVersion returns the version or UnknownValue
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return UnknownValue
	}
	return c.Version
}

// GetBuildDate returns the build date or UnknownValue
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return UnknownValue
	}
	return c.BuildDate
}

// Release is the release identifier sent with telemetry events
func (c *Context) Release() string {
	return "nutrigraph@" + c.GetVersion()
}
