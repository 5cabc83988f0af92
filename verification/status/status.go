// Package status defines the TCB status values reported by Intel's certification services.
package status

// TCBStatus is the trust level Intel assigns to a TCB level in TCB Info and QE Identity documents.
type TCBStatus string

const (
	// UpToDate means all TCB components are on the latest known good version.
	UpToDate TCBStatus = "UpToDate"

	// SWHardeningNeeded means the platform firmware is current, but software mitigations are required.
	SWHardeningNeeded TCBStatus = "SWHardeningNeeded"

	// ConfigurationNeeded means the platform needs additional configuration to reach the trusted state.
	ConfigurationNeeded TCBStatus = "ConfigurationNeeded"

	// ConfigurationAndSWHardeningNeeded combines ConfigurationNeeded and SWHardeningNeeded.
	ConfigurationAndSWHardeningNeeded TCBStatus = "ConfigurationAndSWHardeningNeeded"

	// OutOfDate means at least one TCB component is below the latest known good version.
	OutOfDate TCBStatus = "OutOfDate"

	// OutOfDateConfigurationNeeded combines OutOfDate and ConfigurationNeeded.
	OutOfDateConfigurationNeeded TCBStatus = "OutOfDateConfigurationNeeded"

	// Revoked means the TCB level has been revoked and must not be trusted.
	Revoked TCBStatus = "Revoked"
)

// Known reports whether s is one of the TCB status values documented for the PCS v4 API.
func (s TCBStatus) Known() bool {
	switch s {
	case UpToDate, SWHardeningNeeded, ConfigurationNeeded, ConfigurationAndSWHardeningNeeded,
		OutOfDate, OutOfDateConfigurationNeeded, Revoked:
		return true
	default:
		return false
	}
}

// String returns the status as reported by the PCS.
func (s TCBStatus) String() string {
	return string(s)
}
