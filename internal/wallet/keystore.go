package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/scrypt"
)

// scrypt parameters for the key-derivation function. Interactive-strength:
// the keystore is unlocked once at agent startup, not per request.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
	keyLen  = 32
)

// keystoreFile is the on-disk JSON layout. The private key is sealed with
// AES-256-GCM under a passphrase-derived key; the GCM nonce is prepended to
// the ciphertext.
type keystoreFile struct {
	Address    string `json:"address"`
	Salt       string `json:"salt"`
	Ciphertext string `json:"ciphertext"`
	ScryptN    int    `json:"scrypt_n"`
	ScryptR    int    `json:"scrypt_r"`
	ScryptP    int    `json:"scrypt_p"`
}

// SaveKey encrypts the private key under passphrase and writes it to path,
// creating parent directories as needed. The file is written 0600.
func SaveKey(path string, key *ecdsa.PrivateKey, passphrase string) error {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating keystore salt: %w", err)
	}

	aead, err := deriveAEAD(passphrase, salt, scryptN, scryptR, scryptP)
	if err != nil {
		return err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating keystore nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, crypto.FromECDSA(key), nil)

	file := keystoreFile{
		Address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Salt:       hex.EncodeToString(salt),
		Ciphertext: hex.EncodeToString(sealed),
		ScryptN:    scryptN,
		ScryptR:    scryptR,
		ScryptP:    scryptP,
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding keystore: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating keystore directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing keystore: %w", err)
	}
	return nil
}

// LoadKey reads and decrypts the keystore at path. A wrong passphrase fails
// GCM authentication and is reported as such.
func LoadKey(path, passphrase string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keystore: %w", err)
	}

	var file keystoreFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing keystore: %w", err)
	}

	salt, err := hex.DecodeString(file.Salt)
	if err != nil {
		return nil, fmt.Errorf("decoding keystore salt: %w", err)
	}
	sealed, err := hex.DecodeString(file.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding keystore ciphertext: %w", err)
	}

	aead, err := deriveAEAD(passphrase, salt, file.ScryptN, file.ScryptR, file.ScryptP)
	if err != nil {
		return nil, err
	}

	nonceSize := aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("keystore ciphertext too short")
	}
	plain, err := aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("unlocking keystore (wrong passphrase?): %w", err)
	}

	key, err := crypto.ToECDSA(plain)
	if err != nil {
		return nil, fmt.Errorf("restoring private key: %w", err)
	}
	if file.Address != "" && crypto.PubkeyToAddress(key.PublicKey).Hex() != file.Address {
		return nil, fmt.Errorf("keystore address does not match decrypted key")
	}
	return key, nil
}

// deriveAEAD stretches the passphrase into an AES-256-GCM cipher.
func deriveAEAD(passphrase string, salt []byte, n, r, p int) (cipher.AEAD, error) {
	derived, err := scrypt.Key([]byte(passphrase), salt, n, r, p, keyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving keystore key: %w", err)
	}
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return aead, nil
}
