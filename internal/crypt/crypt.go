// Package crypt реализует гибридное шифрование: полезная нагрузка
// шифруется одноразовым ключом AES-256-GCM, а сам ключ заворачивается
// RSA-OAEP ключом получателя.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
)

// ErrDecryption возвращается при несовпадении ключа или нарушении целостности шифртекста.
var ErrDecryption = errors.New("decryption failed")

// ErrInvalidKey возвращается, если ключ не удалось разобрать из PEM.
var ErrInvalidKey = errors.New("invalid key")

const (
	keySize    = 32
	rsaKeyBits = 2048

	// AAD одинакова для всех конвертов и привязывает шифртекст к приложению.
	envelopeAAD = "sportshop-envelope-v1"

	randomMinBytes = 8
	randomMaxBytes = 256
)

// Envelope содержит результат гибридного шифрования. Все поля в hex.
// Тег аутентификации GCM дописан в конец шифртекста.
type Envelope struct {
	Ciphertext   string `json:"ciphertext"`
	EncryptedKey string `json:"encrypted_key"`
	Nonce        string `json:"nonce"`
}

// KeyPair содержит пару ключей RSA в PEM-кодировке.
type KeyPair struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// GenerateKeyPair создаёт пару ключей RSA-2048 для заворачивания симметричных ключей.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	return &KeyPair{
		PublicKey:  string(pubPEM),
		PrivateKey: string(privPEM),
	}, nil
}

// Encrypt шифрует данные свежим 256-битным ключом AES-GCM и заворачивает
// ключ публичным ключом получателя. Ключ нигде не сохраняется и не
// переиспользуется, поэтому уникальность nonce под ним гарантирована.
func Encrypt(plaintext []byte, publicKeyPEM string) (*Envelope, error) {
	pub, err := parsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate symmetric key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, []byte(envelopeAAD))

	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("wrap key: %w", err)
	}

	return &Envelope{
		Ciphertext:   hex.EncodeToString(ciphertext),
		EncryptedKey: hex.EncodeToString(wrappedKey),
		Nonce:        hex.EncodeToString(nonce),
	}, nil
}

// Decrypt разворачивает симметричный ключ приватным ключом и расшифровывает
// данные. Любое несовпадение ключа или повреждение шифртекста даёт ErrDecryption.
func Decrypt(env *Envelope, privateKeyPEM string) ([]byte, error) {
	priv, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}

	wrappedKey, err := hex.DecodeString(env.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: decode key: %v", ErrDecryption, err)
	}

	ciphertext, err := hex.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: decode ciphertext: %v", ErrDecryption, err)
	}

	nonce, err := hex.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: decode nonce: %v", ErrDecryption, err)
	}

	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrappedKey, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap key", ErrDecryption)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: new cipher", ErrDecryption)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: new gcm", ErrDecryption)
	}

	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce size", ErrDecryption)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(envelopeAAD))
	if err != nil {
		return nil, fmt.Errorf("%w: authentication", ErrDecryption)
	}

	return plaintext, nil
}

// VerifyEnvelope проверяет целостность конверта: подлинной проверкой
// является успешное снятие тега GCM при расшифровке.
func VerifyEnvelope(env *Envelope, privateKeyPEM string) bool {
	_, err := Decrypt(env, privateKeyPEM)
	return err == nil
}

// Hash возвращает SHA-256 от строки в hex-кодировке.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// RandomString возвращает n криптостойких случайных байт в hex-кодировке.
// Допустимый диапазон n — от 8 до 256.
func RandomString(n int) (string, error) {
	if n < randomMinBytes || n > randomMaxBytes {
		return "", fmt.Errorf("random length must be between %d and %d, got %d",
			randomMinBytes, randomMaxBytes, n)
	}

	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}

	return hex.EncodeToString(buf), nil
}

func parsePublicKey(pemText string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidKey)
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key", ErrInvalidKey)
	}

	return pub, nil
}

func parsePrivateKey(pemText string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidKey)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA private key", ErrInvalidKey)
	}

	return priv, nil
}
