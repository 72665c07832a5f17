// Package config loads the balancer configuration from a YAML file,
// LB_-prefixed environment variables and command-line flags, in increasing
// order of precedence, and validates it before anything binds a port.
package config
