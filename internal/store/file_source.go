package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zjrosen/protoreg/internal/log"
	"github.com/zjrosen/protoreg/internal/manifest"
	"github.com/zjrosen/protoreg/internal/urn"
)

// FileSource reads manifests from a versioned directory layout:
//
//	{dir}/{protocolType}/{entityId}@{version}.json
//	{dir}/{protocolType}/{entityId}.json        unversioned fallback for latest
//
// YAML and TOML documents are accepted with the same naming after JSON.
type FileSource struct {
	dir string
}

var _ Source = (*FileSource)(nil)

// NewFileSource returns a source rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

func (s *FileSource) Name() string { return "file" }

// Dir returns the manifest root.
func (s *FileSource) Dir() string { return s.dir }

func (s *FileSource) Load(ctx context.Context, u urn.URN) (*manifest.Manifest, error) {
	typeDir := filepath.Join(s.dir, string(u.Type))

	var (
		path string
		err  error
	)
	if u.IsLatest() {
		path, err = s.latestPath(ctx, typeDir, u.ID)
	} else {
		path, err = s.versionPath(ctx, typeDir, u.ID, u.Version)
	}
	if err != nil {
		return nil, err
	}
	return readManifest(ctx, path)
}

// versionPath tries the literal version, then the v-toggled variant, for each
// document extension.
func (s *FileSource) versionPath(ctx context.Context, typeDir, id, version string) (string, error) {
	variants := []string{version}
	if stripped := urn.StripV(version); stripped != version {
		variants = append(variants, stripped)
	} else {
		variants = append(variants, "v"+version)
	}
	for _, ext := range manifest.Extensions {
		for _, v := range variants {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			path := filepath.Join(typeDir, id+"@"+v+ext)
			if fileExists(path) {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s@%s under %s", ErrNotFound, id, version, typeDir)
}

// latestPath scans typeDir for {id}@{semver}.{ext}, choosing the highest
// (major, minor, patch). Without versioned files it falls back to {id}.{ext}.
func (s *FileSource) latestPath(ctx context.Context, typeDir, id string) (string, error) {
	entries, err := os.ReadDir(typeDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read %s: %w", typeDir, err)
	}

	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(id) + `@(v?[0-9]+\.[0-9]+\.[0-9]+)(\.json|\.ya?ml|\.toml)$`)
	var (
		bestPath    string
		bestVersion string
	)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if e.IsDir() {
			continue
		}
		m := pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if bestPath == "" || urn.CompareVersions(m[1], bestVersion) > 0 {
			bestPath, bestVersion = filepath.Join(typeDir, e.Name()), m[1]
		}
	}
	if bestPath != "" {
		log.Debug(log.CatStore, "latest version selected", "id", id, "version", bestVersion)
		return bestPath, nil
	}

	for _, ext := range manifest.Extensions {
		path := filepath.Join(typeDir, id+ext)
		if fileExists(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s under %s", ErrNotFound, id, typeDir)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// readManifest reads and decodes path. Decode failures become *ParseError.
func readManifest(ctx context.Context, path string) (*manifest.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is built from the manifest root and a validated URN
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := manifest.Parse(data, manifest.FormatFromPath(path))
	if err != nil {
		return nil, &ParseError{Location: path, Err: err}
	}
	log.Debug(log.CatStore, "manifest loaded", "path", path, "hash", m.Hash())
	return m, nil
}

// LoadFile reads one manifest document from disk.
func LoadFile(ctx context.Context, path string) (*manifest.Manifest, error) {
	return readManifest(ctx, path)
}

// ProtocolDir reports the protocol directory a path under dir belongs to, or
// "" when path is outside the {dir}/{type}/ layout.
func ProtocolDir(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	first, _, found := strings.Cut(filepath.ToSlash(rel), "/")
	if !found {
		return ""
	}
	if _, err := urn.ParseProtocolType(first); err != nil {
		return ""
	}
	return first
}
