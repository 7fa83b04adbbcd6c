// Package bootstrap seeds a library from a file of song records.
//
// Records come from JSON or YAML files read through a vfs.FileSystem.
// Import creates one Song per record, reuses Bands by artist id, and then
// fills the "A and B playlist" with every song whose name begins with A or
// B, ignoring case and diacritics.
package bootstrap
