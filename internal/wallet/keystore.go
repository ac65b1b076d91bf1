package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Klingon-tech/tokenledger/pkg/crypto"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

// Keystore errors.
var (
	ErrKeyExists   = errors.New("key already exists")
	ErrKeyNotFound = errors.New("key not found")
)

const keyExt = ".key"

// keyFile is the on-disk JSON format for an encrypted key.
type keyFile struct {
	Version      int            `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	Scheme       string         `json:"scheme"`
	Identity     types.Identity `json:"identity"`
	EncryptedKey []byte         `json:"encrypted_key"`
}

// Entry describes a stored key without decrypting it.
type Entry struct {
	Name      string
	Scheme    string
	Identity  types.Identity
	CreatedAt time.Time
}

// Keystore manages encrypted key files in one directory.
type Keystore struct {
	path string
}

// NewKeystore creates a keystore that reads/writes to the given directory.
// The directory is created if it doesn't exist.
func NewKeystore(path string) (*Keystore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{path: path}, nil
}

func (ks *Keystore) keyPath(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid key name %q", name)
	}
	return filepath.Join(ks.path, name+keyExt), nil
}

// Create encrypts signer under password and stores it as name.
func (ks *Keystore) Create(name string, signer crypto.Signer, password []byte, params EncryptionParams) error {
	path, err := ks.keyPath(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrKeyExists, name)
	}

	encoded, err := crypto.EncodeKey(signer)
	if err != nil {
		return err
	}
	encrypted, err := Encrypt([]byte(encoded), password, params)
	if err != nil {
		return fmt.Errorf("encrypt key: %w", err)
	}

	return writeKeyFile(path, &keyFile{
		Version:      1,
		CreatedAt:    time.Now().UTC(),
		Scheme:       signer.Scheme().String(),
		Identity:     signer.Identity(),
		EncryptedKey: encrypted,
	})
}

// Load decrypts the key stored as name.
func (ks *Keystore) Load(name string, password []byte) (crypto.Signer, error) {
	kf, err := ks.read(name)
	if err != nil {
		return nil, err
	}
	plain, err := Decrypt(kf.EncryptedKey, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt key %s: %w", name, err)
	}
	defer clear(plain)

	signer, err := crypto.DecodeKey(string(plain))
	if err != nil {
		return nil, fmt.Errorf("decode key %s: %w", name, err)
	}
	if signer.Identity() != kf.Identity {
		return nil, fmt.Errorf("key %s: identity mismatch", name)
	}
	return signer, nil
}

// Identity returns the public identity of name without decrypting it.
func (ks *Keystore) Identity(name string) (types.Identity, error) {
	kf, err := ks.read(name)
	if err != nil {
		return types.Identity{}, err
	}
	return kf.Identity, nil
}

// List returns every stored key sorted by name.
func (ks *Keystore) List() ([]Entry, error) {
	files, err := os.ReadDir(ks.path)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}

	var entries []Entry
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != keyExt {
			continue
		}
		name := strings.TrimSuffix(f.Name(), keyExt)
		kf, err := ks.read(name)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			Name:      name,
			Scheme:    kf.Scheme,
			Identity:  kf.Identity,
			CreatedAt: kf.CreatedAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Delete removes a key file.
func (ks *Keystore) Delete(name string) error {
	path, err := ks.keyPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, name)
		}
		return err
	}
	return nil
}

func (ks *Keystore) read(name string) (*keyFile, error) {
	path, err := ks.keyPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, name)
		}
		return nil, fmt.Errorf("read key: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse key %s: %w", name, err)
	}
	if kf.Version != 1 {
		return nil, fmt.Errorf("unsupported key file version: %d", kf.Version)
	}
	return &kf, nil
}

func writeKeyFile(path string, kf *keyFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	return nil
}
