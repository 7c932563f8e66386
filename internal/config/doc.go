// Package config loads the OpenBoBS runtime configuration from a JSON file
// that may carry comments, fills in defaults relative to the file location and
// applies environment overrides for endpoints and credentials.
package config
