package archive

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// magic identifies an ecmem export archive; version and encryption flag
// follow it as a single byte each.
var magic = [4]byte{'E', 'C', 'M', 'A'}

const (
	flagPlain     byte = 0
	flagEncrypted byte = 1
)

// writeContainer gzip-compresses tarBytes and, if password is set,
// authenticated-encrypts the compressed payload, then writes the whole
// framed container to w: magic, format version, encryption flag, salt
// (if encrypted), payload.
func writeContainer(w io.Writer, tarBytes []byte, password string) error {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	if _, err := zw.Write(tarBytes); err != nil {
		return fmt.Errorf("archive: gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("archive: gzip close: %w", err)
	}

	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte{FormatVersion}); err != nil {
		return err
	}

	if password == "" {
		if _, err := w.Write([]byte{flagPlain}); err != nil {
			return err
		}
		_, err := w.Write(gz.Bytes())
		return err
	}

	salt, err := generateSalt()
	if err != nil {
		return err
	}
	key, err := deriveKey(password, salt)
	if err != nil {
		return err
	}
	ciphertext, err := encrypt(key, gz.Bytes())
	if err != nil {
		return err
	}

	if _, err := w.Write([]byte{flagEncrypted}); err != nil {
		return err
	}
	if _, err := w.Write(salt); err != nil {
		return err
	}
	_, err = w.Write(ciphertext)
	return err
}

// readContainer reverses writeContainer, returning the decompressed tar
// bytes.
func readContainer(r io.Reader, password string) ([]byte, error) {
	all, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("archive: read: %w", err)
	}
	if len(all) < len(magic)+2 || !bytes.Equal(all[:len(magic)], magic[:]) {
		return nil, fmt.Errorf("archive: not an ecmem archive")
	}
	version := all[len(magic)]
	if version != FormatVersion {
		return nil, fmt.Errorf("archive: unsupported format version %d", version)
	}
	flag := all[len(magic)+1]
	payload := all[len(magic)+2:]

	switch flag {
	case flagPlain:
		if password != "" {
			return nil, fmt.Errorf("archive: password given but archive is not encrypted")
		}
	case flagEncrypted:
		if password == "" {
			return nil, fmt.Errorf("archive: archive is encrypted, password required")
		}
		if len(payload) < saltLen {
			return nil, fmt.Errorf("archive: truncated archive")
		}
		salt := payload[:saltLen]
		key, err := deriveKey(password, salt)
		if err != nil {
			return nil, err
		}
		payload, err = decrypt(key, payload[saltLen:])
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("archive: unknown encryption flag %d", flag)
	}

	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("archive: gzip open: %w", err)
	}
	defer zr.Close()

	tarBytes, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("archive: gzip read: %w", err)
	}
	return tarBytes, nil
}
