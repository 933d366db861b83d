// Package cipher implements the room-identifier-keyed message sealing used by
// chat participants. The room identifier doubles as the shared secret: anyone
// who knows the identifier can derive the key and decrypt room traffic. That
// equivalence is part of the protocol contract, not an oversight.
package cipher

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// RoomIDBytes is the entropy of a generated room identifier.
	RoomIDBytes = 16
	// KeySize is the length of the derived message sealing key.
	KeySize = chacha20poly1305.KeySize

	nonceSize = chacha20poly1305.NonceSizeX

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4

	keySaltLabel = "shoadowchat/room-key/v1"
	keyInfoLabel = "message-seal"
)

var (
	// ErrDecrypt marks ciphertext that cannot be opened under the given room
	// identifier: wrong room, truncated data, or tampering.
	ErrDecrypt = errors.New("message cannot be decrypted")

	roomIDPattern = regexp.MustCompile(`^[a-f0-9]{32}$`)
)

// GenerateRoomID returns a fresh random room identifier: 16 bytes of entropy,
// lowercase hex encoded.
func GenerateRoomID() (string, error) {
	var raw [RoomIDBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generate room id: %w", err)
	}
	return hex.EncodeToString(raw[:]), nil
}

// ValidateRoomID reports whether id has the canonical lexical shape. The relay
// itself accepts any string; this check is a client-side courtesy, not a
// security boundary.
func ValidateRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// HashRoomID returns the one-way SHA-256 hex digest of a room identifier, for
// indirect lookup or logging without revealing the identifier itself.
func HashRoomID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

var passphraseWords = []string{
	"shadow", "stealth", "ghost", "phantom", "cipher",
	"crypt", "vault", "secure", "private", "hidden",
}

// GeneratePassphrase returns a human-shareable three-word label. It carries
// far less entropy than a room identifier and is never used as key material.
func GeneratePassphrase() (string, error) {
	words := make([]string, 3)
	for i := range words {
		var raw [4]byte
		if _, err := rand.Read(raw[:]); err != nil {
			return "", fmt.Errorf("generate passphrase: %w", err)
		}
		words[i] = passphraseWords[binary.BigEndian.Uint32(raw[:])%uint32(len(passphraseWords))]
	}
	return strings.Join(words, "-"), nil
}

// DeriveKey stretches a room identifier into the 32-byte sealing key. Argon2id
// makes brute-forcing short identifiers expensive; HKDF separates the sealing
// key from any future uses of the same master secret.
func DeriveKey(roomID string) ([]byte, error) {
	salt := sha256.Sum256([]byte(keySaltLabel))
	master := argon2.IDKey([]byte(roomID), salt[:], argonTime, argonMemory, argonThreads, KeySize)

	key := make([]byte, KeySize)
	reader := hkdf.New(sha256.New, master, nil, []byte(keyInfoLabel))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive sealing key: %w", err)
	}
	zeroBytes(master)
	return key, nil
}

// Encrypt seals plaintext under the key derived from roomID and returns
// base64(nonce || ciphertext). Any UTF-8 plaintext is accepted, including the
// empty string.
func Encrypt(plaintext, roomID string) (string, error) {
	key, err := DeriveKey(roomID)
	if err != nil {
		return "", err
	}
	defer zeroBytes(key)
	return sealWithKey(key, plaintext)
}

// Decrypt is the exact inverse of Encrypt under the same roomID. A wrong room
// identifier or malformed ciphertext yields ErrDecrypt, never garbage output.
func Decrypt(ciphertext, roomID string) (string, error) {
	key, err := DeriveKey(roomID)
	if err != nil {
		return "", err
	}
	defer zeroBytes(key)
	return openWithKey(key, ciphertext)
}

func sealWithKey(key []byte, plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func openWithKey(key []byte, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", ErrDecrypt)
	}
	if len(raw) < nonceSize+chacha20poly1305.Overhead {
		return "", fmt.Errorf("ciphertext too short: %w", ErrDecrypt)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", ErrDecrypt)
	}
	return string(plaintext), nil
}

// Codec caches derived room keys so a session pays the Argon2id cost once per
// room instead of once per message.
type Codec struct {
	mu   sync.Mutex
	keys map[string][]byte
}

// NewCodec builds an empty key cache.
func NewCodec() *Codec {
	return &Codec{keys: make(map[string][]byte)}
}

// Encrypt seals plaintext for the given room using the cached key.
func (c *Codec) Encrypt(plaintext, roomID string) (string, error) {
	key, err := c.key(roomID)
	if err != nil {
		return "", err
	}
	defer zeroBytes(key)
	return sealWithKey(key, plaintext)
}

// Decrypt opens ciphertext for the given room using the cached key.
func (c *Codec) Decrypt(ciphertext, roomID string) (string, error) {
	key, err := c.key(roomID)
	if err != nil {
		return "", err
	}
	defer zeroBytes(key)
	return openWithKey(key, ciphertext)
}

// Forget wipes and drops the cached key for a room. Callers only ever hold
// private copies, so a concurrent seal or open is unaffected; the next use of
// the room re-derives.
func (c *Codec) Forget(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key, ok := c.keys[roomID]; ok {
		zeroBytes(key)
		delete(c.keys, roomID)
	}
}

// key returns a private copy of the cached room key, deriving it on first use.
func (c *Codec) key(roomID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, ok := c.keys[roomID]
	if !ok {
		derived, err := DeriveKey(roomID)
		if err != nil {
			return nil, err
		}
		c.keys[roomID] = derived
		key = derived
	}
	return append([]byte(nil), key...), nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
