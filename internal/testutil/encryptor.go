package testutil

import (
	"arc-go/internal/arc"
	"arc-go/internal/encryption"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() arc.Encryptor {
	return encryption.NewTestEncryptor()
}
