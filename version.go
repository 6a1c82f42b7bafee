package fapctl

// Version is the current version of the fapctl library
const Version = "1.0.0"

// VersionInfo contains detailed version information
type VersionInfo struct {
	// Version is the semantic version
	Version string
	// Service is the daemon the library controls by default
	Service string
	// Backend is the service manager used by ClientSystemd
	Backend string
}

// GetVersion returns the current version information
func GetVersion() VersionInfo {
	return VersionInfo{
		Version: Version,
		Service: DefaultServiceName,
		Backend: "systemd",
	}
}
