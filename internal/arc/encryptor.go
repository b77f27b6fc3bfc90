package arc

import "io"

// Encryptor protects index snapshots written outside the index store.
// Encryption uses the public key only and needs no operator input.
// Decryption requires a passphrase to unlock the private key.
type Encryptor interface {
	// Setup generates a key pair, stores the public key in plaintext and
	// the private key encrypted with passphrase. Called by `arc config keys`.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key using the passphrase. Returns an error
	// if the passphrase is incorrect.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist at configured paths.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory for the
// duration of an import. The key is never written to disk.
type DecryptionContext interface {
	// Decrypt decrypts data read from r and writes plaintext to w.
	Decrypt(r io.Reader, w io.Writer) error
}
