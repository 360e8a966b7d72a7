// Package files gives validation scripts read access to result output
// files, plus removal for cleaners.
package files

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/BDNK1/scriptval/runtime/plugin"
)

// Config holds the files plugin configuration
type Config struct {
	// Root confines every path to a directory when set.
	Root         string `yaml:"root" validate:"omitempty,dir"`
	MaxReadBytes int64  `yaml:"max_read_bytes" default:"1048576" validate:"gte=1"`
}

type PathInput struct {
	Path string `json:"path" validate:"required"`
}

type ExistsOutput struct {
	Exists bool `json:"exists"`
}

type SizeOutput struct {
	Size int64 `json:"size"`
}

type ReadOutput struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

type LinesOutput struct {
	Lines []string `json:"lines"`
}

type ChecksumOutput struct {
	SHA256 string `json:"sha256"`
}

type EqualInput struct {
	A string `json:"a" validate:"required"`
	B string `json:"b" validate:"required"`
}

type EqualOutput struct {
	Equal bool `json:"equal"`
}

type RemoveOutput struct {
	Removed bool `json:"removed"`
}

// FilesPlugin exposes files.exists, files.size, files.read, files.lines,
// files.checksum, files.equal and files.remove.
type FilesPlugin struct {
	Config Config
}

func (p *FilesPlugin) path(path string) (string, error) {
	if p.Config.Root == "" {
		return path, nil
	}
	if err := plugin.WithinBoundary(p.Config.Root, path); err != nil {
		return "", err
	}
	return path, nil
}

// Exists reports whether path names a regular file.
func (p *FilesPlugin) Exists(inv *plugin.Invocation, input PathInput) (ExistsOutput, error) {
	path, err := p.path(input.Path)
	if err != nil {
		return ExistsOutput{}, err
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ExistsOutput{Exists: false}, nil
	}
	if err != nil {
		return ExistsOutput{}, fmt.Errorf("files.exists: %w", err)
	}
	return ExistsOutput{Exists: info.Mode().IsRegular()}, nil
}

func (p *FilesPlugin) Size(inv *plugin.Invocation, input PathInput) (SizeOutput, error) {
	path, err := p.path(input.Path)
	if err != nil {
		return SizeOutput{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return SizeOutput{}, fmt.Errorf("files.size: %w", err)
	}
	return SizeOutput{Size: info.Size()}, nil
}

// Read returns at most MaxReadBytes of the file.
func (p *FilesPlugin) Read(inv *plugin.Invocation, input PathInput) (ReadOutput, error) {
	path, err := p.path(input.Path)
	if err != nil {
		return ReadOutput{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return ReadOutput{}, fmt.Errorf("files.read: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, p.Config.MaxReadBytes+1))
	if err != nil {
		return ReadOutput{}, fmt.Errorf("files.read: %w", err)
	}

	out := ReadOutput{Content: string(data)}
	if int64(len(data)) > p.Config.MaxReadBytes {
		out.Content = string(data[:p.Config.MaxReadBytes])
		out.Truncated = true
	}
	return out, nil
}

func (p *FilesPlugin) Lines(inv *plugin.Invocation, input PathInput) (LinesOutput, error) {
	path, err := p.path(input.Path)
	if err != nil {
		return LinesOutput{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return LinesOutput{}, fmt.Errorf("files.lines: %w", err)
	}
	defer f.Close()

	lines := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if err := inv.Err(); err != nil {
			return LinesOutput{}, err
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return LinesOutput{}, fmt.Errorf("files.lines: %w", err)
	}
	return LinesOutput{Lines: lines}, nil
}

func (p *FilesPlugin) Checksum(inv *plugin.Invocation, input PathInput) (ChecksumOutput, error) {
	path, err := p.path(input.Path)
	if err != nil {
		return ChecksumOutput{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return ChecksumOutput{}, fmt.Errorf("files.checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ChecksumOutput{}, fmt.Errorf("files.checksum: %w", err)
	}
	return ChecksumOutput{SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

// Equal compares two files byte by byte.
func (p *FilesPlugin) Equal(inv *plugin.Invocation, input EqualInput) (EqualOutput, error) {
	a, err := p.path(input.A)
	if err != nil {
		return EqualOutput{}, err
	}
	b, err := p.path(input.B)
	if err != nil {
		return EqualOutput{}, err
	}

	fa, err := os.Open(a)
	if err != nil {
		return EqualOutput{}, fmt.Errorf("files.equal: %w", err)
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return EqualOutput{}, fmt.Errorf("files.equal: %w", err)
	}
	defer fb.Close()

	ia, err := fa.Stat()
	if err != nil {
		return EqualOutput{}, fmt.Errorf("files.equal: %w", err)
	}
	ib, err := fb.Stat()
	if err != nil {
		return EqualOutput{}, fmt.Errorf("files.equal: %w", err)
	}
	if ia.Size() != ib.Size() {
		return EqualOutput{Equal: false}, nil
	}

	equal, err := sameContent(fa, fb)
	if err != nil {
		return EqualOutput{}, fmt.Errorf("files.equal: %w", err)
	}
	return EqualOutput{Equal: equal}, nil
}

const chunkSize = 64 * 1024

func sameContent(a, b io.Reader) (bool, error) {
	bufA := make([]byte, chunkSize)
	bufB := make([]byte, chunkSize)
	for {
		na, errA := io.ReadFull(a, bufA)
		nb, errB := io.ReadFull(b, bufB)
		if !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		doneA := errA == io.EOF || errA == io.ErrUnexpectedEOF
		doneB := errB == io.EOF || errB == io.ErrUnexpectedEOF
		if errA != nil && !doneA {
			return false, errA
		}
		if errB != nil && !doneB {
			return false, errB
		}
		if doneA || doneB {
			return doneA == doneB, nil
		}
	}
}

// Remove deletes a file. A missing file is not an error.
func (p *FilesPlugin) Remove(inv *plugin.Invocation, input PathInput) (RemoveOutput, error) {
	path, err := p.path(input.Path)
	if err != nil {
		return RemoveOutput{}, err
	}

	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return RemoveOutput{Removed: false}, nil
	}
	if err != nil {
		return RemoveOutput{}, fmt.Errorf("files.remove: %w", err)
	}
	return RemoveOutput{Removed: true}, nil
}
