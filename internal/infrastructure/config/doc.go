// Package config handles loading and validating the bridge configuration.
//
// Configuration is read from a YAML file, merged over built-in defaults, and
// finally overridden by INSTEON_BRIDGE_* environment variables. The package
// also owns device-ID normalisation (see NormalizeDeviceID), which every
// other package relies on for case-insensitive device lookup.
//
// Legacy configs written for earlier bridge servers are accepted: the hub
// section honours the old "user", "pass" and "hubPort" key names.
package config
