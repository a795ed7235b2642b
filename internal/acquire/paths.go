package acquire

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// ExpandPaths replaces every directory in paths by the files below it, in
// lexical order. Plain files are kept as given.
func ExpandPaths(paths []string) ([]string, error) {
	return ExpandPathsWith(&DefaultFileSystemWalker{}, paths)
}

func ExpandPathsWith(walker FileSystemWalker, paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !fi.IsDir() {
			out = append(out, p)
			continue
		}

		root := filepath.Clean(p)
		err = walker.Walk(root, &godirwalk.Options{
			Callback: func(path string, de *godirwalk.Dirent) error {
				if de != nil && de.IsDir() {
					if path != root && skipDir(de.Name()) {
						return godirwalk.SkipThis
					}
					return nil
				}
				if shouldSkip(path) {
					log.Debug().Str("path", path).Msg("skipping file")
					return nil
				}
				out = append(out, path)
				return nil
			},
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	return out, nil
}

var skippedDirs = map[string]bool{
	"vendor": true, ".git": true, ".terraform": true, "node_modules": true,
	"target": true, "build": true, "dist": true, "out": true, "bin": true,
	"obj": true, ".venv": true, "venv": true, "__pycache__": true,
	".pytest_cache": true, ".gradle": true, ".m2": true, ".idea": true,
	"coverage": true, ".cache": true,
}

func skipDir(name string) bool {
	return skippedDirs[strings.ToLower(name)]
}

// shouldSkip returns true if the file at path is not worth ingesting.
func shouldSkip(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".lock", ".zip", ".tar", ".gz", ".exe", ".dll", ".so", ".o", ".a",
		".class", ".pyc", ".sum", ".svg", ".ico", ".woff", ".woff2", ".ttf":
		return true
	}
	return false
}
