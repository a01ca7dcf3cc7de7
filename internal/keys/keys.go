// Package keys creates the age identity used to decrypt *.age snapshot
// archives during restore.
package keys

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"
)

// Generate writes a new X25519 identity to path and prints the recipient
// that snapshot archives should be encrypted to. An existing file is never
// overwritten.
func Generate(path string, out io.Writer) (string, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("failed to generate key pair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("failed to create identity directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create identity file %s: %w", path, err)
	}
	if _, err := fmt.Fprintln(f, identity.String()); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write identity file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write identity file %s: %w", path, err)
	}

	recipient := identity.Recipient().String()
	fmt.Fprintf(out, "Identity written to: %s\n", path)
	fmt.Fprintf(out, "Recipient:           %s\n", recipient)
	fmt.Fprintln(out, "\nSet snapshot.age_identity_file to the identity path and encrypt archives to the recipient.")
	fmt.Fprintln(out, "!! Keep the identity file secure !!")
	return recipient, nil
}
