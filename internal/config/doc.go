// Package config loads the YAML configuration of the sync client binaries.
//
// ${VAR} references are expanded from the environment before parsing.
// LoadAndValidate applies defaults from defaults.go and then checks the
// rules in validate.go.
package config
