package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned when a database path lives on a network
// mount. SQLite file locking is unreliable there.
var ErrNetworkFilesystem = errors.New("database path is on a network filesystem")

// errProbeUnsupported means the platform cannot report filesystem types.
var errProbeUnsupported = errors.New("filesystem probe unsupported")

var remoteFSTypes = []string{"afpfs", "cifs", "nfs", "nfs4", "smbfs", "smb2", "webdav"}

// fsProbe reports the filesystem type holding an existing path.
type fsProbe func(path string) (string, error)

// requireLocalFS fails with ErrNetworkFilesystem when dbPath (or, if it does
// not exist yet, its closest existing ancestor) is on a network mount.
func requireLocalFS(dbPath string, probe fsProbe) error {
	dir, err := existingAncestor(dbPath)
	if err != nil {
		return err
	}

	fsType, err := probe(dir)
	if errors.Is(err, errProbeUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("probe filesystem of %s: %w", dir, err)
	}
	if isRemoteFS(fsType) {
		return fmt.Errorf("%w: %s is on %s; set provider.local.path to a local disk", ErrNetworkFilesystem, dbPath, fsType)
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	for {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", p, err)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing ancestor of %q", path)
		}
		p = parent
	}
}

func isRemoteFS(fsType string) bool {
	fsType = strings.ToLower(strings.TrimSpace(fsType))
	for _, remote := range remoteFSTypes {
		if fsType == remote {
			return true
		}
	}
	return false
}
