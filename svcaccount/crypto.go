package svcaccount

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const rsaKeyBits = 2048

// KeyPair is an RSA key pair in PEM encoding plus the SHA-256 fingerprint
// of its public half, used by peers to recognise which generation of key
// a signature or certificate belongs to.
type KeyPair struct {
	PrivateKeyPEM []byte `json:"private_key_pem,omitempty"`
	PublicKeyPEM  []byte `json:"public_key_pem"`
	Fingerprint   string `json:"fingerprint"`
}

// CertPair is a self-signed certificate for CanonicalURL plus its
// matching private key, fingerprinted the same way as KeyPair.
type CertPair struct {
	PrivateKeyPEM  []byte `json:"private_key_pem,omitempty"`
	CertificatePEM []byte `json:"certificate_pem"`
	Fingerprint    string `json:"fingerprint"`
}

func fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// generateKeyPair creates a fresh RSA key pair.
func generateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("svcaccount: generating key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("svcaccount: marshalling public key: %w", err)
	}
	return &KeyPair{
		PrivateKeyPEM: pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}),
		PublicKeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}),
		Fingerprint:   fingerprint(pubDER),
	}, nil
}

// generateCertPair creates a self-signed certificate for canonicalURL,
// valid until validFor beyond now (callers pass twice the rotation period).
func generateCertPair(canonicalURL string, validFor time.Duration) (*CertPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("svcaccount: generating cert key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, fmt.Errorf("svcaccount: generating serial: %w", err)
	}
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: canonicalURL},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(validFor),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("svcaccount: creating certificate: %w", err)
	}
	return &CertPair{
		PrivateKeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}),
		CertificatePEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		Fingerprint:    fingerprint(der),
	}, nil
}

// deriveKey stretches the service password into an AES-256 key via
// PBKDF2, the same derivation the teacher's go.mod already carries
// golang.org/x/crypto for (see SPEC_FULL.md DOMAIN STACK).
func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, 100_000, 32, sha256.New)
}

const saltSize = 16

// encryptServiceRecord seals plaintext under password, prefixing the
// random salt and GCM nonce so decryptServiceRecord is self-contained.
func encryptServiceRecord(password string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("svcaccount: generating salt: %w", err)
	}
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("svcaccount: building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("svcaccount: building GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("svcaccount: generating nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, saltSize+len(nonce)+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

func decryptServiceRecord(password string, data []byte) ([]byte, error) {
	if len(data) < saltSize {
		return nil, fmt.Errorf("svcaccount: encrypted record too short")
	}
	salt, rest := data[:saltSize], data[saltSize:]
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("svcaccount: building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("svcaccount: building GCM: %w", err)
	}
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("svcaccount: encrypted record too short")
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("svcaccount: decrypting record: wrong password or corrupt data")
	}
	return plaintext, nil
}
