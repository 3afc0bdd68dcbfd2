package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// ErrKeyExists is returned by GenerateKeyPair when either file is present.
var ErrKeyExists = errors.New("auth: key file already exists")

// GenerateKeyPair writes a new Ed25519 key pair: the PKCS#8 private key to
// privPath and the PKIX public key to pubPath, both mode 0600. Existing
// files are never overwritten, since rotating the key invalidates every
// issued token.
func GenerateKeyPair(privPath, pubPath string) error {
	for _, path := range []string{privPath, pubPath} {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrKeyExists, path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("auth: stat %s: %w", path, err)
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("auth: generate key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("auth: marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("auth: marshal public key: %w", err)
	}

	if err := writePEM(privPath, "PRIVATE KEY", privDER); err != nil {
		return err
	}
	return writePEM(pubPath, "PUBLIC KEY", pubDER)
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec // path comes from a CLI flag
	if err != nil {
		return fmt.Errorf("auth: create %s: %w", path, err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = f.Close()
		return fmt.Errorf("auth: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("auth: close %s: %w", path, err)
	}
	return nil
}
