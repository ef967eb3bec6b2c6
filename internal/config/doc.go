// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from $XDG_CONFIG_HOME/teleport-spk/config.cue (defaulting to
// ~/.config/teleport-spk/config.cue), with a config.cue in the current directory as a
// fallback. It covers the toolkit cache location, the build-script repository, the
// catalog endpoints and the run timeout; flags override file values, file values
// override built-in defaults.
//
// File contents are validated against an embedded CUE schema (config_schema.cue) so
// typos and type mismatches surface with the offending field path in the message.
package config
