// Package fileutil provides file operation utilities for directory and file management.
//
// EnsureDir creates directories recursively, and CopyFile copies files with
// support for explicit permissions, fsync, and atomic writes via temp-file-then-rename.
// These are used by the localprocess driver for preparing per-worker data
// directories and writing generated worker configuration files.
package fileutil
