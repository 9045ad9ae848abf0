package sftpd

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"

	"github.com/ajaxzhan/sandbox-sftp/internal/logging"
)

// GenerateHostKey creates a new ed25519 host key and returns it with its
// OpenSSH PEM encoding.
func GenerateHostKey() (ssh.Signer, []byte, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create signer: %w", err)
	}
	return signer, pem.EncodeToMemory(block), nil
}

// LoadOrCreateHostKey reads the host key at path, generating and saving one
// when the file does not exist. An empty path yields an ephemeral key.
func LoadOrCreateHostKey(path string) (ssh.Signer, error) {
	if path == "" {
		signer, _, err := GenerateHostKey()
		if err != nil {
			return nil, err
		}
		logging.Warn("Using ephemeral host key", logging.String("fingerprint", ssh.FingerprintSHA256(signer.PublicKey())))
		return signer, nil
	}

	data, err := os.ReadFile(path)
	if err == nil {
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse host key %s: %w", path, err)
		}
		return signer, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read host key: %w", err)
	}

	signer, encoded, err := GenerateHostKey()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create host key directory: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0600); err != nil {
		return nil, fmt.Errorf("failed to write host key: %w", err)
	}
	logging.Info("Generated host key",
		logging.String("path", path),
		logging.String("fingerprint", ssh.FingerprintSHA256(signer.PublicKey())),
	)
	return signer, nil
}
