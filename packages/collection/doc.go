// Package collection loads hitsuite workspace files.
//
// A workspace is a YAML document with three sections: saved requests,
// named environments and test specifications that reference requests by
// id. Files are checked against an embedded JSON schema before they are
// decoded. A Collection never writes back to disk.
package collection
