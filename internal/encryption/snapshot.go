package encryption

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"arc-go/internal/arc"
)

// WriteSnapshot compresses r with zstd and encrypts the result to w.
func WriteSnapshot(enc arc.Encryptor, w io.Writer, r io.Reader) error {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		zw, err := zstd.NewWriter(pw)
		if err != nil {
			pw.CloseWithError(err)
			done <- err
			return
		}
		_, err = io.Copy(zw, r)
		if cerr := zw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
		done <- err
	}()

	err := enc.Encrypt(pr, w)
	pr.CloseWithError(io.ErrClosedPipe)
	if cerr := <-done; cerr != nil && err == nil {
		err = fmt.Errorf("compressing snapshot: %w", cerr)
	}
	return err
}

// ReadSnapshot decrypts r and writes the decompressed snapshot to w.
func ReadSnapshot(dc arc.DecryptionContext, r io.Reader, w io.Writer) error {
	pr, pw := io.Pipe()
	errc := make(chan error, 1)
	go func() {
		err := dc.Decrypt(r, pw)
		pw.CloseWithError(err)
		errc <- err
	}()
	defer pr.Close()

	// A decryption failure is reported as such, not as the corrupt stream it
	// leaves behind.
	decryptErr := func() error {
		pr.Close()
		if err := <-errc; err != nil && !errors.Is(err, io.ErrClosedPipe) {
			return fmt.Errorf("decrypting snapshot: %w", err)
		}
		return nil
	}

	zr, err := zstd.NewReader(pr)
	if err != nil {
		if derr := decryptErr(); derr != nil {
			return derr
		}
		return fmt.Errorf("creating decompressor: %w", err)
	}
	defer zr.Close()

	if _, err := io.Copy(w, zr); err != nil {
		if derr := decryptErr(); derr != nil {
			return derr
		}
		return fmt.Errorf("reading snapshot: %w", err)
	}
	return nil
}
