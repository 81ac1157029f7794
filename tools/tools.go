//go:build tools
// +build tools

// Package tools documents development tool dependencies.
// These tools are installed globally via `go install` and are not tracked in go.mod
// since they are development tools, not runtime dependencies.
package tools

// Development tools (install via `go install`):
//
// mockgen - regenerates internal/mocks from the ports in internal/core
//   Install: go install go.uber.org/mock/mockgen@v0.6.0
//   Version: v0.6.0 (matches go.uber.org/mock in go.mod)
//   Use:     go generate ./internal/mocks
//
// Air - Live reload for cmd/docflow during development
//   Install: go install github.com/air-verse/air@v1.63.0
//   Version: v1.63.0
//   Docs: https://github.com/air-verse/air
