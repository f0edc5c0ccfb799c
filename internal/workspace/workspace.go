// Package workspace owns the converter's output directory for the lifetime
// of one run configuration.
package workspace

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	benchErrors "github.com/rasterbench/rasterbench/internal/errors"
)

// Preparer resets output directories.
type Preparer struct {
	// Perm is the mode of the recreated directory (default 0755)
	Perm os.FileMode

	// DryRun validates and logs the directory without touching the filesystem
	DryRun bool
}

// NewPreparer creates a preparer with default permissions.
func NewPreparer() *Preparer {
	return &Preparer{Perm: 0755}
}

// Reset derives the parent directory of outPath and leaves it existing and
// empty: created if absent, removed recursively and recreated otherwise.
// It returns the directory path.
func (p *Preparer) Reset(outPath string) (string, error) {
	dir := filepath.Dir(outPath)
	if outPath == "" || dir == "." || dir == string(filepath.Separator) {
		return "", benchErrors.NewWorkspaceError(
			fmt.Sprintf("refusing to reset %q: output path needs a dedicated directory", dir), nil)
	}

	if p.DryRun {
		log.Printf("workspace: would reset %s", dir)
		return dir, nil
	}

	perm := p.Perm
	if perm == 0 {
		perm = 0755
	}

	if err := os.MkdirAll(dir, perm); err != nil {
		return "", benchErrors.NewWorkspaceError("failed to create "+dir, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return "", benchErrors.NewWorkspaceError("failed to remove "+dir, err)
	}
	if err := os.MkdirAll(dir, perm); err != nil {
		return "", benchErrors.NewWorkspaceError("failed to recreate "+dir, err)
	}

	log.Printf("workspace: reset %s", dir)
	return dir, nil
}
