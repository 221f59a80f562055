package services

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"strings"

	apperrors "storefront/errors"
)

// PasswordCipher encrypts the login password with the API's public key and
// returns the base64 ciphertext.
type PasswordCipher interface {
	Encrypt(publicKey, password string) (string, error)
}

// RSACipher uses RSA PKCS #1 v1.5, the padding the API decrypts with.
type RSACipher struct {
	Random io.Reader
}

func NewRSACipher() *RSACipher {
	return &RSACipher{Random: rand.Reader}
}

func (c *RSACipher) Encrypt(publicKey, password string) (string, error) {
	pub, err := ParseRSAPublicKey(publicKey)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrPublicKeyNotSet, err)
	}

	random := c.Random
	if random == nil {
		random = rand.Reader
	}
	// The API only accepts PKCS #1 v1.5 ciphertexts.
	ciphertext, err := rsa.EncryptPKCS1v15(random, pub, []byte(password))
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrEncryptionFailed, err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// ParseRSAPublicKey accepts a PEM block ("PUBLIC KEY" or "RSA PUBLIC KEY")
// or the bare base64 DER body of one.
func ParseRSAPublicKey(publicKey string) (*rsa.PublicKey, error) {
	publicKey = strings.TrimSpace(publicKey)
	if publicKey == "" {
		return nil, fmt.Errorf("empty public key")
	}

	var der []byte
	if block, _ := pem.Decode([]byte(publicKey)); block != nil {
		der = block.Bytes
	} else {
		raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(publicKey), ""))
		if err != nil {
			return nil, fmt.Errorf("public key is neither PEM nor base64: %w", err)
		}
		der = raw
	}

	if key, err := x509.ParsePKIXPublicKey(der); err == nil {
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is %T, not RSA", key)
		}
		return pub, nil
	}
	pub, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil
}

// checkCiphertext rejects results that cannot be sent as the encrypted
// password.
func checkCiphertext(ciphertext string) error {
	if ciphertext == "" {
		return apperrors.ErrEncryptionFailed
	}
	if _, err := base64.StdEncoding.DecodeString(ciphertext); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalidCipher, err)
	}
	return nil
}
