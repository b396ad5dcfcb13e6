//go:build tools
// +build tools

// Package chat_hub pins the code generators used by go:generate (mockgen).
package chat_hub

import (
	_ "go.uber.org/mock/mockgen"
)
