package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathResolver locates the output files of a result. It is supplied by the
// host deployment; see package paths for implementations.
type PathResolver interface {
	OutputFilePaths(ctx context.Context, r ResultRecord) ([]string, error)
}

// StaticResolver returns the paths listed on the result itself.
type StaticResolver struct{}

func (StaticResolver) OutputFilePaths(_ context.Context, r ResultRecord) ([]string, error) {
	paths := make([]string, len(r.Files))
	copy(paths, r.Files)
	return paths, nil
}

// PathResolverFunc adapts a function to PathResolver.
type PathResolverFunc func(ctx context.Context, r ResultRecord) ([]string, error)

func (f PathResolverFunc) OutputFilePaths(ctx context.Context, r ResultRecord) ([]string, error) {
	return f(ctx, r)
}

// FindModule searches the module search path for a dotted module name with
// the given file extension ("site.hooks" -> <dir>/site/hooks.lua).
func FindModule(searchPath []string, module, ext string) (string, bool) {
	rel := filepath.FromSlash(strings.ReplaceAll(module, ".", "/")) + ext

	for _, dir := range searchPath {
		candidate := filepath.Join(dir, rel)
		if err := ValidatePathWithinBoundary(dir, candidate); err != nil {
			continue
		}
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

// ValidatePathWithinBoundary ensures that targetPath is within or equal to
// boundaryPath, so names taken from result documents or module names cannot
// escape their directory using "../" sequences.
func ValidatePathWithinBoundary(boundaryPath, targetPath string) error {
	absBoundary, err := filepath.Abs(boundaryPath)
	if err != nil {
		return fmt.Errorf("failed to resolve boundary path %q: %w", boundaryPath, err)
	}

	absTarget, err := filepath.Abs(targetPath)
	if err != nil {
		return fmt.Errorf("failed to resolve target path %q: %w", targetPath, err)
	}

	rel, err := filepath.Rel(absBoundary, absTarget)
	if err != nil {
		return fmt.Errorf("invalid path relationship between %q and %q: %w", absBoundary, absTarget, err)
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected: %q escapes boundary %q", targetPath, boundaryPath)
	}

	return nil
}
