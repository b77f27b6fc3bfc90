package encryption

import (
	"bytes"
	"errors"
	"testing"
)

func sealSnapshot(t *testing.T, e *TestEncryptor, data []byte) []byte {
	t.Helper()
	var sealed bytes.Buffer
	if err := WriteSnapshot(e, &sealed, bytes.NewReader(data)); err != nil {
		t.Fatalf("WriteSnapshot() error = %v", err)
	}
	return sealed.Bytes()
}

func TestTestEncryptor_Keys(t *testing.T) {
	t.Parallel()

	index := []byte(`{"host_id":"host-1","sets":{"disc":[]}}`)

	tests := []struct {
		name      string
		sealKey   string // "" seals without a key
		openKey   string
		unlock    string
		unlockErr error
		readErr   error
	}{
		{name: "keyless", unlock: "anything"},
		{name: "matching key", sealKey: "s3cret", openKey: "s3cret", unlock: "s3cret"},
		{name: "wrong passphrase", sealKey: "s3cret", openKey: "s3cret", unlock: "guess", unlockErr: errWrongPassphrase},
		{name: "rotated key", sealKey: "old", openKey: "new", unlock: "new", readErr: errWrongKey},
		{name: "keyless snapshot after setup", openKey: "new", unlock: "new", readErr: errWrongKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sealer := NewTestEncryptor()
			if tt.sealKey != "" {
				if err := sealer.Setup(tt.sealKey); err != nil {
					t.Fatalf("Setup() error = %v", err)
				}
			}
			sealed := sealSnapshot(t, sealer, index)

			opener := NewTestEncryptor()
			if tt.openKey != "" {
				if err := opener.Setup(tt.openKey); err != nil {
					t.Fatalf("Setup() error = %v", err)
				}
			}
			dc, err := opener.Unlock(tt.unlock)
			if !errors.Is(err, tt.unlockErr) {
				t.Fatalf("Unlock() error = %v, want %v", err, tt.unlockErr)
			}
			if err != nil {
				return
			}

			var out bytes.Buffer
			err = ReadSnapshot(dc, bytes.NewReader(sealed), &out)
			if !errors.Is(err, tt.readErr) {
				t.Fatalf("ReadSnapshot() error = %v, want %v", err, tt.readErr)
			}
			if err == nil && !bytes.Equal(out.Bytes(), index) {
				t.Errorf("ReadSnapshot() = %q, want %q", out.Bytes(), index)
			}
		})
	}
}

func TestTestEncryptor_SetupRejectsEmptyPassphrase(t *testing.T) {
	t.Parallel()
	if err := NewTestEncryptor().Setup(""); err == nil {
		t.Error("Setup(\"\") succeeded, want error")
	}
}

func TestTestDecryptionContext_RejectsForeignData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "empty", input: nil},
		{name: "truncated header", input: []byte("ARCTE")},
		{name: "age file", input: []byte("age-encryption.org/v1\n-> scrypt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			if err := (&TestDecryptionContext{}).Decrypt(bytes.NewReader(tt.input), &out); err == nil {
				t.Error("Decrypt() succeeded, want error")
			}
			if out.Len() != 0 {
				t.Errorf("Decrypt() wrote %d bytes for rejected input", out.Len())
			}
		})
	}
}
