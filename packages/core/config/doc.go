// Package config loads the hitsuite JSON configuration.
//
// The file is looked up as .hitsuite.json, hitsuite.config.json or
// .hitsuiterc in the working directory. Values missing from the file keep
// their defaults; command-line flags are merged on top with Merge.
// Booleans are pointers so an explicit false can be told apart from unset.
package config
