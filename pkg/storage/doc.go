// Package storage manages the per-day output directories.
//
// A Manager is created once per run for the day's directory. It scans the
// directory a single time and answers "is this filename already archived"
// from memory afterwards. Files whose names begin with an underscore are
// bookkeeping and never count as archived images.
//
// WriteAtomic streams a body through a ".part" file and renames it into place,
// optionally aborting once a byte ceiling is crossed.
package storage
