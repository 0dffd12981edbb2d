package engine

import (
	"fmt"
	"os"
	"path/filepath"
)

// AssetLoader supplies raw bytes for multimarker configs, NFT datasets and
// planar target images by logical path. The engine treats assets as opaque
// byte buffers; variant loaders interpret them.
type AssetLoader interface {
	Load(path string) ([]byte, error)
}

// FileLoader resolves asset paths against a root directory on the local
// filesystem. An empty root resolves paths as given.
type FileLoader struct {
	Root string
}

// Load reads the asset at path.
func (l FileLoader) Load(path string) ([]byte, error) {
	if l.Root != "" {
		path = filepath.Join(l.Root, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read asset %q: %w", path, err)
	}
	return data, nil
}

// MapLoader serves assets from an in-memory map. Used by tests and by
// hosts that unpack assets themselves.
type MapLoader map[string][]byte

// Load returns the asset bytes registered under path.
func (l MapLoader) Load(path string) ([]byte, error) {
	data, ok := l[path]
	if !ok {
		return nil, fmt.Errorf("asset %q not found", path)
	}
	return data, nil
}
