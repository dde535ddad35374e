package archive

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

// magic identifies an encrypted ecm archive, per spec §6: 4-byte magic
// "ECM\x00" followed by the scrypt key-derivation header.
var magic = [4]byte{'E', 'C', 'M', 0}

const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1

	keyLen   = 32 // AES-256
	saltLen  = 16
	nonceLen = 12

	plaintextFrameSize = 64 * 1024
)

func deriveKey(password string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("archive: deriving key: %w", err)
	}
	return key, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key, err := deriveKey(password, salt)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("archive: building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("archive: building gcm: %w", err)
	}
	return gcm, nil
}

// frameNonce derives the nonce for frame seq by XORing its big-endian
// encoding into the low bytes of the per-archive base nonce, so every
// frame in the stream is sealed under a distinct nonce from one
// derived key.
func frameNonce(base []byte, seq uint64) []byte {
	nonce := make([]byte, len(base))
	copy(nonce, base)
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	for i := 0; i < 8 && i < len(nonce); i++ {
		nonce[len(nonce)-1-i] ^= seqBuf[7-i]
	}
	return nonce
}

// encryptStream wraps the plaintext read from r behind the archive's
// magic header and an scrypt-keyed AES-256-GCM stream: plaintext is
// sealed in fixed-size frames (each length-prefixed) rather than as one
// GCM call, so encryption never has to hold the whole export twice in
// memory. A terminal zero-length frame marks end of stream.
func encryptStream(w io.Writer, r io.Reader, password string) error {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("archive: generating salt: %w", err)
	}
	baseNonce := make([]byte, nonceLen)
	if _, err := rand.Read(baseNonce); err != nil {
		return fmt.Errorf("archive: generating nonce: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return err
	}

	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	if _, err := w.Write(salt); err != nil {
		return err
	}
	if _, err := w.Write(baseNonce); err != nil {
		return err
	}

	buf := make([]byte, plaintextFrameSize)
	var seq uint64
	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			sealed := gcm.Seal(nil, frameNonce(baseNonce, seq), buf[:n], nil)
			var lenBuf [4]byte
			binary.BigEndian.PutUint32(lenBuf[:], uint32(len(sealed)))
			if _, err := w.Write(lenBuf[:]); err != nil {
				return err
			}
			if _, err := w.Write(sealed); err != nil {
				return err
			}
			seq++
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			return fmt.Errorf("archive: reading plaintext: %w", readErr)
		}
	}

	var end [4]byte
	_, err = w.Write(end[:])
	return err
}

// decryptStream reverses encryptStream, returning the plaintext tar
// bytes or an error if the magic header, password or any frame fails to
// authenticate.
func decryptStream(r io.Reader, password string) ([]byte, error) {
	var got [4]byte
	if _, err := io.ReadFull(r, got[:]); err != nil {
		return nil, fmt.Errorf("archive: reading magic: %w", err)
	}
	if got != magic {
		return nil, errors.New("archive: not an ecm archive (bad magic header)")
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(r, salt); err != nil {
		return nil, fmt.Errorf("archive: reading salt: %w", err)
	}
	baseNonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(r, baseNonce); err != nil {
		return nil, fmt.Errorf("archive: reading nonce: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	var out []byte
	var seq uint64
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("archive: reading frame length: %w", err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n == 0 {
			break
		}
		sealed := make([]byte, n)
		if _, err := io.ReadFull(r, sealed); err != nil {
			return nil, fmt.Errorf("archive: reading frame: %w", err)
		}
		plain, err := gcm.Open(nil, frameNonce(baseNonce, seq), sealed, nil)
		if err != nil {
			return nil, fmt.Errorf("archive: decrypting frame %d (wrong password?): %w", seq, err)
		}
		out = append(out, plain...)
		seq++
	}
	return out, nil
}

// looksEncrypted reports whether the archive begins with the magic
// header, so import can tell an encrypted file from a plain tar stream
// without requiring the caller to say which it is.
func looksEncrypted(r io.Reader) (bool, io.Reader, error) {
	head := make([]byte, len(magic))
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, nil, fmt.Errorf("archive: reading header: %w", err)
	}
	prefixed := io.MultiReader(bytes.NewReader(head[:n]), r)
	return n == len(magic) && head == magic, prefixed, nil
}
