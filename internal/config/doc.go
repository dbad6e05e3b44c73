// Package config defines the declarative build request (construct.yaml)
// consumed by the installer builder and provides loading with validation
// and default derivation.
package config
