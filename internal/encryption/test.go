package encryption

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"arc-go/internal/arc"
)

// testMagic starts every snapshot sealed by TestEncryptor. It is followed by
// the key ID and the plaintext.
var testMagic = []byte("ARCTEST\x01")

const keyIDSize = 8

var (
	errWrongPassphrase = errors.New("incorrect passphrase")
	errWrongKey        = errors.New("snapshot sealed for another key")
)

// TestEncryptor seals snapshots without cryptography so tests can read them
// back deterministically. Until Setup is called it holds no key, and any
// passphrase unlocks it. After Setup only the same passphrase does, and
// snapshots only open with the key they were sealed for.
type TestEncryptor struct {
	keyID [keyIDSize]byte
}

var _ arc.Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor creates a TestEncryptor without a key.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func testKeyID(passphrase string) [keyIDSize]byte {
	sum := sha256.Sum256([]byte(passphrase))
	var id [keyIDSize]byte
	copy(id[:], sum[:])
	return id
}

// Setup derives the key from passphrase.
func (e *TestEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase must not be empty")
	}
	e.keyID = testKeyID(passphrase)
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testMagic); err != nil {
		return fmt.Errorf("writing snapshot header: %w", err)
	}
	if _, err := w.Write(e.keyID[:]); err != nil {
		return fmt.Errorf("writing snapshot header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (arc.DecryptionContext, error) {
	if e.keyID != ([keyIDSize]byte{}) && testKeyID(passphrase) != e.keyID {
		return nil, errWrongPassphrase
	}
	return &TestDecryptionContext{keyID: e.keyID}, nil
}

// IsConfigured is always true; a keyless TestEncryptor still seals snapshots.
func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// TestDecryptionContext opens snapshots sealed for its key.
type TestDecryptionContext struct {
	keyID [keyIDSize]byte
}

var _ arc.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testMagic)+keyIDSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading snapshot header: %w", err)
	}
	if !bytes.Equal(header[:len(testMagic)], testMagic) {
		return fmt.Errorf("not a test snapshot")
	}
	if !bytes.Equal(header[len(testMagic):], c.keyID[:]) {
		return errWrongKey
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
