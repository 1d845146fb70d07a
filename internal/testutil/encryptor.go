package testutil

import (
	"inkwell/internal/durable"
	"inkwell/internal/encryption"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() durable.Encryptor {
	return encryption.NewTestEncryptor()
}
