// Package crypto implements the two distinct key-derivation paths the
// envelope requires — one for password verification, one for data
// encryption — plus block/file hashing and AES-256-CBC block encryption.
//
// The split between HashPassword (scrypt, memory-hard, stored in the
// catalog as a verifier) and DeriveKey (PBKDF2-HMAC-SHA256, a fixed salt,
// never stored) exists so that an attacker who only has the destination
// directory — catalog included — cannot use the stored verifier to shortcut
// recovery of the encryption key. The two paths must never share a KDF,
// salt scheme, or parameter set.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"

	"github.com/marcusklaas/backbonzo-go/internal/bonzoerr"
)

const (
	scryptN       = 1 << 14 // CPU/memory cost
	scryptR       = 8
	scryptP       = 1
	scryptKeyLen  = 32
	scryptSaltLen = 16

	// PBKDF2-HMAC-SHA256 parameters for DeriveKey: an all-zero 16-byte
	// salt and 100,000 iterations. Changing either breaks decryption of
	// every existing destination. This KDF must never be reused for
	// HashPassword — see package doc.
	pbkdf2Iterations = 100000
	pbkdf2KeyLen     = 32

	aesKeySize = 32 // AES-256
	aesIVSize  = 16

	fileHashChunkSize = 1024
)

// verifierPrefix identifies the self-describing scrypt verifier format
// written by HashPassword: "scrypt$N$r$p$base64(salt)$base64(hash)".
const verifierPrefix = "scrypt"

// HashPassword produces a self-describing verifier string for pw using a
// memory-hard KDF (scrypt). The verifier is safe to store in the catalog's
// setting table: it leaks nothing about the key produced by DeriveKey.
func HashPassword(pw string) (string, error) {
	salt := make([]byte, scryptSaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", bonzoerr.CryptoErr("salt generation", err)
	}

	hash, err := scrypt.Key([]byte(pw), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", bonzoerr.CryptoErr("scrypt", err)
	}

	return fmt.Sprintf(
		"%s$%d$%d$%d$%s$%s",
		verifierPrefix, scryptN, scryptR, scryptP,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// CheckPassword verifies pw against a verifier produced by HashPassword
// using a constant-time comparison. Any parse error returns false rather
// than propagating.
func CheckPassword(pw, verifier string) bool {
	parts := strings.Split(verifier, "$")
	if len(parts) != 6 || parts[0] != verifierPrefix {
		return false
	}

	n, err1 := strconv.Atoi(parts[1])
	r, err2 := strconv.Atoi(parts[2])
	p, err3 := strconv.Atoi(parts[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	got, err := scrypt.Key([]byte(pw), salt, n, r, p, len(want))
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(got, want) == 1
}

// DeriveKey turns a password into the 32-byte key used for block/index
// encryption. It uses PBKDF2-HMAC-SHA256 with a fixed all-zero 16-byte salt
// and 100,000 iterations — deliberately a different algorithm and salt
// scheme from HashPassword so the stored verifier cannot be used to
// shortcut key recovery.
func DeriveKey(pw string) []byte {
	salt := make([]byte, 16)
	return pbkdf2.Key([]byte(pw), salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
}

// HashFile streams the file at path through SHA-256 in 1 KiB reads and
// returns the hex digest of the whole plaintext file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", bonzoerr.IOErr("open for hashing", err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, fileHashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", bonzoerr.IOErr("hash file", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBlock returns the hex SHA-256 digest of block.
func HashBlock(block []byte) string {
	h := sha256.Sum256(block)
	return hex.EncodeToString(h[:])
}

// EncryptBlock encrypts pt with AES-256 in CBC mode using PKCS-7 padding,
// key (32 bytes) and iv (16 bytes, fresh per block).
func EncryptBlock(pt, key, iv []byte) ([]byte, error) {
	if len(key) != aesKeySize {
		return nil, bonzoerr.CryptoErr("key size", nil)
	}
	if len(iv) != aesIVSize {
		return nil, bonzoerr.CryptoErr("iv size", nil)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, bonzoerr.CryptoErr("cipher init", err)
	}

	padded := pkcs7Pad(pt, block.BlockSize())
	ct := make([]byte, len(padded))

	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ct, padded)

	return ct, nil
}

// DecryptBlock reverses EncryptBlock. It reports a Crypto-kind error,
// distinct from I/O and catalog errors, on any padding or length failure.
func DecryptBlock(ct, key, iv []byte) ([]byte, error) {
	if len(key) != aesKeySize {
		return nil, bonzoerr.CryptoErr("key size", nil)
	}
	if len(iv) != aesIVSize {
		return nil, bonzoerr.CryptoErr("iv size", nil)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, bonzoerr.CryptoErr("ciphertext length", nil)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, bonzoerr.CryptoErr("cipher init", err)
	}

	pt := make([]byte, len(ct))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(pt, ct)

	return pkcs7Unpad(pt)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, bonzoerr.CryptoErr("padding", nil)
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, bonzoerr.CryptoErr("padding", nil)
	}
	if !bytes.Equal(data[len(data)-padLen:], bytes.Repeat([]byte{byte(padLen)}, padLen)) {
		return nil, bonzoerr.CryptoErr("padding", nil)
	}
	return data[:len(data)-padLen], nil
}
