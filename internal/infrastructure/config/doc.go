// Package config loads and validates bridge configuration.
//
// Configuration comes from a YAML file (default configs/config.yaml) with
// environment variable overrides following the TESLABRIDGE_SECTION_KEY
// pattern. The vehicles list is the unit of ownership: every entry gets its
// own device session, reconnection supervisor, and entity registry, and is
// immutable after load.
package config
