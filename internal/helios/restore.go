package helios

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"tradewarden/internal/config"

	"github.com/rs/zerolog"
)

// ArtifactRestorer performs file-level restore: the stable version's
// artifact tree replaces the "current" tree under the artifact root.
type ArtifactRestorer struct {
	root   string
	logger zerolog.Logger
}

// NewArtifactRestorer builds a restorer rooted at dir. An empty dir
// defaults to ./artifacts.
func NewArtifactRestorer(dir string) *ArtifactRestorer {
	if dir == "" {
		dir = "artifacts"
	}
	return &ArtifactRestorer{
		root:   dir,
		logger: config.NewLogger("helios.restore"),
	}
}

// Restore replaces <root>/current with the artifact tree of the given
// stable version. The swap goes through a staging directory so a failed
// copy never leaves current half-written.
func (r *ArtifactRestorer) Restore(version, artifactPath string) error {
	src := artifactPath
	if !filepath.IsAbs(src) {
		src = filepath.Join(r.root, src)
	}
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stable artifact for %s not readable: %w", version, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("stable artifact for %s is not a directory: %s", version, src)
	}

	current := filepath.Join(r.root, "current")
	staging := current + ".staging"

	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("failed to clear staging dir: %w", err)
	}
	if err := copyTree(src, staging); err != nil {
		return fmt.Errorf("failed to stage artifact for %s: %w", version, err)
	}
	if err := os.RemoveAll(current); err != nil {
		return fmt.Errorf("failed to remove current tree: %w", err)
	}
	if err := os.Rename(staging, current); err != nil {
		return fmt.Errorf("failed to activate restored tree: %w", err)
	}

	r.logger.Info().
		Str("version", version).
		Str("restored_to", current).
		Msg("Stable artifact restored")
	return nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
