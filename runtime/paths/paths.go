// Package paths locates the output files of a result for the validator
// bridge. Resolvers are selected by the paths section of the configuration.
package paths

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BDNK1/scriptval/runtime"
)

const (
	ResolverStatic = "static"
	ResolverUpload = "upload"
	ResolverS3     = "s3"
)

// ErrNoOutputFiles is returned when a result document names no files.
var ErrNoOutputFiles = errors.New("result names no output files")

// New builds the resolver selected by cfg.
func New(ctx context.Context, cfg runtime.PathsConfig) (runtime.PathResolver, error) {
	switch cfg.Resolver {
	case "", ResolverStatic:
		return runtime.StaticResolver{}, nil
	case ResolverUpload:
		return NewUploadResolver(cfg.UploadDir, cfg.Fanout), nil
	case ResolverS3:
		return NewS3Resolver(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown path resolver %q", cfg.Resolver)
	}
}

// UploadResolver maps output file names into a BOINC upload hierarchy.
type UploadResolver struct {
	Dir    string
	Fanout int
}

func NewUploadResolver(dir string, fanout int) *UploadResolver {
	if fanout < 1 {
		fanout = 1
	}
	return &UploadResolver{Dir: dir, Fanout: fanout}
}

func (u *UploadResolver) OutputFilePaths(_ context.Context, r runtime.ResultRecord) ([]string, error) {
	names, err := OutputFileNames(r.XMLDocIn)
	if err != nil {
		return nil, fmt.Errorf("result %s: %w", r.Name, err)
	}

	paths := make([]string, 0, len(names))
	for _, name := range names {
		path, err := u.Path(name)
		if err != nil {
			return nil, fmt.Errorf("result %s: %w", r.Name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Path returns the location of name in the upload hierarchy.
func (u *UploadResolver) Path(name string) (string, error) {
	path := filepath.Join(u.Dir, HashDir(name, u.Fanout), name)
	if err := runtime.ValidatePathWithinBoundary(u.Dir, path); err != nil {
		return "", err
	}
	return path, nil
}

// HashDir is the fanout directory of a file name: the low 24 bits of the
// md5 digest of the name, modulo fanout, in lowercase hex.
func HashDir(name string, fanout int) string {
	if fanout < 1 {
		fanout = 1
	}
	sum := md5.Sum([]byte(name))
	digest := hex.EncodeToString(sum[:])
	n, _ := strconv.ParseUint(digest[26:], 16, 32)
	return strconv.FormatUint(n%uint64(fanout), 16)
}

type resultDoc struct {
	FileInfos []struct {
		Name string `xml:"name"`
	} `xml:"file_info"`
	Results []struct {
		FileRefs []struct {
			FileName string `xml:"file_name"`
		} `xml:"file_ref"`
	} `xml:"result"`
}

// OutputFileNames extracts the output file names of a result document.
// The order of the file_ref entries is kept; documents without file_refs
// fall back to their file_info entries.
func OutputFileNames(doc string) ([]string, error) {
	if strings.TrimSpace(doc) == "" {
		return nil, ErrNoOutputFiles
	}

	// Result documents are fragments without a single root element.
	var wrapped bytes.Buffer
	wrapped.WriteString("<doc>")
	wrapped.WriteString(doc)
	wrapped.WriteString("</doc>")

	var parsed resultDoc
	dec := xml.NewDecoder(&wrapped)
	dec.Strict = false
	if err := dec.Decode(&parsed); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing xml_doc_in: %w", err)
	}

	var names []string
	for _, res := range parsed.Results {
		for _, ref := range res.FileRefs {
			if name := strings.TrimSpace(ref.FileName); name != "" {
				names = append(names, name)
			}
		}
	}
	if len(names) == 0 {
		for _, fi := range parsed.FileInfos {
			if name := strings.TrimSpace(fi.Name); name != "" {
				names = append(names, name)
			}
		}
	}
	if len(names) == 0 {
		return nil, ErrNoOutputFiles
	}
	return names, nil
}
