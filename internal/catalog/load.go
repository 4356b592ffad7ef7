package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/zjrosen/protoreg/internal/log"
	"github.com/zjrosen/protoreg/internal/manifest"
	"github.com/zjrosen/protoreg/internal/store"
)

// LoadError records a file that could not be loaded.
type LoadError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// LoadResult is the outcome of LoadGlob.
type LoadResult struct {
	Catalog *Catalog    `json:"-"`
	Files   []string    `json:"files"`
	Errors  []LoadError `json:"errors"`
}

// LoadGlob builds a catalog from every manifest document matching patterns.
// Patterns use doublestar syntax ("manifests/**/*.json"). Files that fail to
// parse are reported in Errors and skipped. A malformed pattern is an error.
func LoadGlob(ctx context.Context, patterns ...string) (LoadResult, error) {
	seen := map[string]bool{}
	var files []string
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
			return LoadResult{}, fmt.Errorf("invalid glob pattern %q", pattern)
		}
		matches, err := doublestar.FilepathGlob(filepath.Clean(filepath.FromSlash(pattern)), doublestar.WithFilesOnly())
		if err != nil {
			return LoadResult{}, fmt.Errorf("expand %q: %w", pattern, err)
		}
		for _, match := range matches {
			if !isManifestFile(match) || seen[match] {
				continue
			}
			seen[match] = true
			files = append(files, match)
		}
	}
	sort.Strings(files)

	res := LoadResult{Files: []string{}, Errors: []LoadError{}}
	manifests := make([]*manifest.Manifest, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return LoadResult{}, err
		}
		m, err := store.LoadFile(ctx, path)
		if err != nil {
			log.Warn(log.CatCatalog, "manifest skipped", "path", path, "error", err)
			res.Errors = append(res.Errors, LoadError{Path: path, Err: err.Error()})
			continue
		}
		manifests = append(manifests, m)
		res.Files = append(res.Files, path)
	}
	res.Catalog = New(manifests)
	log.Info(log.CatCatalog, "catalog loaded", "files", len(res.Files), "errors", len(res.Errors))
	return res, nil
}

func isManifestFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range manifest.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
