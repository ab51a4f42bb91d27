// Package config resolves relay options from flags, an optional YAML file,
// PROXY_RELAY_* environment variables and .env files.
package config
