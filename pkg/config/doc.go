// Package config loads Cascade's process configuration: a YAML file
// describing the cluster topology and storage layout, overridable by the
// cobra flags each cmd/cascade subcommand registers. Flags always win over
// the file, and the file always wins over the struct's defaults.
package config
