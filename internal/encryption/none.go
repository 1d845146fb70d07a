package encryption

import (
	"fmt"
	"io"

	"inkwell/internal/durable"
)

// NoneEncryptor passes bundles through unchanged. It is meant for remotes the
// user already trusts, such as a local directory.
type NoneEncryptor struct{}

var (
	_ durable.Encryptor         = NoneEncryptor{}
	_ durable.DecryptionContext = NoneEncryptor{}
)

func (NoneEncryptor) Setup(string) error { return nil }

func (NoneEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e NoneEncryptor) Unlock(string) (durable.DecryptionContext, error) { return e, nil }

func (NoneEncryptor) IsConfigured() bool { return true }

func (NoneEncryptor) Decrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
