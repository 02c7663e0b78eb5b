package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nexus-labs/nexus/core/pkg/canonical"
)

// BodyStore keeps raw request/response bodies on disk, content-addressed
// under <root>/sha256/<hh>/<digest>.blob where hh is the first two hex
// chars. Writes are create-if-not-exists; concurrent writers of the same
// content converge on one file.
type BodyStore struct {
	root string
}

func NewBodyStore(root string) *BodyStore {
	return &BodyStore{root: root}
}

// Put writes body and returns its bare hex digest. Idempotent: an existing
// blob with the same digest is left untouched.
func (bs *BodyStore) Put(body []byte) (string, error) {
	digest := canonical.SHA256Hex(body)
	path := bs.path(digest)
	if _, err := os.Stat(path); err == nil {
		return digest, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("body store mkdir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return "", fmt.Errorf("body store write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		// A concurrent writer may have won; content-addressing makes that fine.
		_ = os.Remove(tmp)
		if _, statErr := os.Stat(path); statErr == nil {
			return digest, nil
		}
		return "", fmt.Errorf("body store rename: %w", err)
	}
	return digest, nil
}

// Get reads a blob back by digest, nil if absent.
func (bs *BodyStore) Get(digest string) ([]byte, error) {
	data, err := os.ReadFile(bs.path(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("body store read: %w", err)
	}
	return data, nil
}

func (bs *BodyStore) path(digest string) string {
	return filepath.Join(bs.root, "sha256", digest[:2], digest+".blob")
}
