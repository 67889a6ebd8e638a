//go:build tools

// Package tools declares test-only and doc-generation dependencies so `go
// mod tidy` keeps them in go.mod even though no non-test source imports them.
package tools

import (
	_ "github.com/stretchr/testify/assert"
)
