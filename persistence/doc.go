// Package persistence stores binary sets as self-describing containers in a
// blob store.
//
// A container holds every segment of a set, each optionally compressed with
// LZ4 or ZSTD and protected by its own CRC32, followed by a CRC32 over the
// whole container. Reads and writes are charged against the IO budget of a
// resource.Controller.
package persistence
