// Package config holds the mock server configuration.
//
// A Server configuration starts from Default, is overlaid by a YAML, JSON or
// HCL file chosen by extension, then by MOCKSERVER_* environment variables,
// then by command-line flags. Sources records where each non-default value
// came from.
package config
