// Package exitcodes defines the standard exit codes used by os-acceptor.
package exitcodes

// Exit code constants used by os-acceptor
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when every blocking case passes
// * SuiteFailure (1): Used when one or more cases fail
// * RuntimeErr (2): Used for runtime errors such as panics, provisioning failures or bad configuration
const (
	Success      = 0 // Every blocking case passed
	SuiteFailure = 1 // Case failures
	RuntimeErr   = 2 // Runtime or infrastructure errors
)
