// Package config loads the YAML configuration of the tool service and
// applies environment overrides on top of it. Validation failures are
// reported as CONFIGURATION_ERROR and are fatal at startup.
package config
