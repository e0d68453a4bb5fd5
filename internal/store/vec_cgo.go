//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Registers sqlite-vec as an auto-loaded extension for every
	// mattn/go-sqlite3 connection, which makes vec_distance_cosine available.
	vec.Auto()
}
