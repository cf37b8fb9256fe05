// Package db provides the embedded database schema.
package db

import _ "embed"

// Schema contains the DDL for the storefront settlement tables. The
// statements are idempotent, so applying them at every startup is safe.
//
//go:embed migrations/001_schema.sql
var Schema string
