// Package identity derives the public seed from a secret token and handles the
// server-side cryptography around it: AES-256-CBC envelopes and HMAC-SHA256 signatures.
package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/MrSnakeDoc/snip/internal/errx"
)

const (
	// SeedMessage is the HMAC message that turns a token into its seed.
	SeedMessage = "8l.wtf"
	// SeedLength is the number of characters in a seed.
	SeedLength = 8
	// TokenBytes is the amount of entropy in a token; its text form is twice as long.
	TokenBytes = 32
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidSeed  = errors.New("invalid seed")
	ErrDecrypt      = errors.New("decryption failed")
)

var (
	tokenRe      = regexp.MustCompile(`^[0-9a-f]{64}$`)
	seedRe       = regexp.MustCompile(`^[A-Za-z0-9_-]{8}$`)
	ciphertextRe = regexp.MustCompile(`^[0-9a-f]{32}:(?:[0-9a-f]{32})+$`)
	seedReplacer = strings.NewReplacer("+", "-", "/", "-", "=", "-")
)

// ValidateToken reports whether token has the canonical 64 lowercase hex form.
func ValidateToken(token string) error {
	if !tokenRe.MatchString(token) {
		return errx.E("identity.ValidateToken", errx.Unauthorized, ErrInvalidToken)
	}
	return nil
}

// ValidateSeed reports whether seed looks like something DeriveSeed could have produced.
func ValidateSeed(seed string) error {
	if !seedRe.MatchString(seed) {
		return errx.E("identity.ValidateSeed", errx.Unauthorized, ErrInvalidSeed)
	}
	return nil
}

// DeriveSeed maps a token to its 8-character public seed.
func DeriveSeed(token string) (string, error) {
	return DeriveSeedWithMessage(token, SeedMessage)
}

// DeriveSeedWithMessage is DeriveSeed with a custom HMAC message.
// The token is used as the HMAC key in its text form.
func DeriveSeedWithMessage(token, message string) (string, error) {
	if err := ValidateToken(token); err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write([]byte(message))
	sum := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return seedReplacer.Replace(sum[:SeedLength]), nil
}

func key(token string) ([]byte, error) {
	if err := ValidateToken(token); err != nil {
		return nil, err
	}
	k, err := hex.DecodeString(token)
	if err != nil {
		return nil, errx.E("identity.key", errx.Unauthorized, ErrInvalidToken)
	}
	return k, nil
}

// Encrypt seals plaintext under the token as "ivhex:cthex". A fresh IV is drawn per call.
func Encrypt(plaintext, token string) (string, error) {
	const op = "identity.Encrypt"

	k, err := key(token)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return "", errx.E(op, errx.Internal, err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", errx.E(op, errx.Internal, err)
	}

	padded := pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Decrypt opens a value produced by Encrypt. Any failure, including a wrong token,
// yields ErrDecrypt.
func Decrypt(ciphertext, token string) (string, error) {
	const op = "identity.Decrypt"

	k, err := key(token)
	if err != nil {
		return "", err
	}
	if !IsCiphertext(ciphertext) {
		return "", errx.E(op, errx.Invalid, ErrDecrypt)
	}

	ivHex, ctHex, _ := strings.Cut(ciphertext, ":")
	iv, _ := hex.DecodeString(ivHex)
	ct, _ := hex.DecodeString(ctHex)

	block, err := aes.NewCipher(k)
	if err != nil {
		return "", errx.E(op, errx.Internal, err)
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)

	// A wrong key passes the padding check about once in 256 tries, but targets are text.
	plain, ok := unpad(out, aes.BlockSize)
	if !ok || !utf8.Valid(plain) {
		return "", errx.E(op, errx.Invalid, ErrDecrypt)
	}
	return string(plain), nil
}

// IsCiphertext reports whether s has the "ivhex:cthex" envelope shape.
func IsCiphertext(s string) bool {
	return ciphertextRe.MatchString(s)
}

// Sign returns the hex HMAC-SHA256 of data keyed by secret.
func Sign(data, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature in constant time.
func Verify(data, signature, secret string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hmac.Equal(mac.Sum(nil), want)
}

// SignData returns "data.signature".
func SignData(data, secret string) string {
	return data + "." + Sign(data, secret)
}

// VerifyAndExtract splits a SignData value and returns data when the signature holds.
func VerifyAndExtract(signed, secret string) (string, bool) {
	i := strings.LastIndexByte(signed, '.')
	if i < 0 {
		return "", false
	}
	data, sig := signed[:i], signed[i+1:]
	if !Verify(data, sig, secret) {
		return "", false
	}
	return data, true
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	out := make([]byte, len(b), len(b)+n)
	copy(out, b)
	for i := 0; i < n; i++ {
		out = append(out, byte(n))
	}
	return out
}

func unpad(b []byte, size int) ([]byte, bool) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, false
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}

// Redact shortens a token for log output.
func Redact(token string) string {
	if len(token) < 8 {
		return "***"
	}
	return fmt.Sprintf("%s***", token[:4])
}
