package paths

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/BDNK1/scriptval/runtime"
)

const resultDoc1 = `
<file_info>
    <name>wu_17_r1_0</name>
    <generated_locally/>
    <upload_when_present/>
</file_info>
<file_info>
    <name>wu_17_r1_1</name>
</file_info>
<result>
    <name>wu_17_1</name>
    <file_ref>
        <file_name>wu_17_r1_0</file_name>
        <open_name>out</open_name>
    </file_ref>
    <file_ref>
        <file_name>wu_17_r1_1</file_name>
        <open_name>log</open_name>
    </file_ref>
</result>
`

func TestHashDir(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		fanout int
		want   string
	}{
		{"empty name", "", 1024, "27e"},
		{"abc", "abc", 1024, "372"},
		{"small fanout", "abc", 16, "2"},
		{"single dir", "abc", 1, "0"},
		{"zero fanout", "abc", 0, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HashDir(tt.file, tt.fanout); got != tt.want {
				t.Errorf("HashDir(%q, %d) = %q, want %q", tt.file, tt.fanout, got, tt.want)
			}
		})
	}
}

func TestOutputFileNames(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		want    []string
		wantErr error
	}{
		{
			name: "file refs in order",
			doc:  resultDoc1,
			want: []string{"wu_17_r1_0", "wu_17_r1_1"},
		},
		{
			name: "file info fallback",
			doc:  "<file_info><name>a</name></file_info><file_info><name> b </name></file_info>",
			want: []string{"a", "b"},
		},
		{
			name:    "empty document",
			doc:     "  ",
			wantErr: ErrNoOutputFiles,
		},
		{
			name:    "no files",
			doc:     "<result><name>x</name></result>",
			wantErr: ErrNoOutputFiles,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OutputFileNames(tt.doc)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUploadResolver(t *testing.T) {
	dir := t.TempDir()
	u := NewUploadResolver(dir, 1024)

	paths, err := u.OutputFilePaths(context.Background(), runtime.ResultRecord{Name: "wu_17_1", XMLDocIn: resultDoc1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %v", paths)
	}
	want := filepath.Join(dir, HashDir("wu_17_r1_0", 1024), "wu_17_r1_0")
	if paths[0] != want {
		t.Errorf("got %s, want %s", paths[0], want)
	}

	t.Run("traversal rejected", func(t *testing.T) {
		doc := "<file_info><name>../../etc/passwd</name></file_info>"
		if _, err := u.OutputFilePaths(context.Background(), runtime.ResultRecord{Name: "evil", XMLDocIn: doc}); err == nil {
			t.Fatal("expected traversal error")
		}
	})

	t.Run("missing document", func(t *testing.T) {
		_, err := u.OutputFilePaths(context.Background(), runtime.ResultRecord{Name: "empty"})
		if !errors.Is(err, ErrNoOutputFiles) {
			t.Fatalf("expected ErrNoOutputFiles, got %v", err)
		}
	})
}

type fakeGetter struct {
	objects map[string]string
	keys    []string
}

func (f *fakeGetter) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.keys = append(f.keys, *in.Bucket+"/"+*in.Key)
	body, ok := f.objects[*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestS3Resolver(t *testing.T) {
	spool := t.TempDir()
	getter := &fakeGetter{objects: map[string]string{
		"uploads/wu_17_r1_0": "first",
		"uploads/wu_17_r1_1": "second",
	}}
	s := &S3Resolver{Client: getter, Bucket: "results", Prefix: "uploads", SpoolDir: spool}

	paths, err := s.OutputFilePaths(context.Background(), runtime.ResultRecord{Name: "wu_17_1", XMLDocIn: resultDoc1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %v", paths)
	}
	data, err := os.ReadFile(paths[1])
	if err != nil {
		t.Fatalf("reading spooled file: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("got %q, want %q", data, "second")
	}
	if getter.keys[0] != "results/uploads/wu_17_r1_0" {
		t.Errorf("unexpected key %s", getter.keys[0])
	}

	t.Run("missing object", func(t *testing.T) {
		doc := "<file_info><name>gone</name></file_info>"
		if _, err := s.OutputFilePaths(context.Background(), runtime.ResultRecord{Name: "x", XMLDocIn: doc}); err == nil {
			t.Fatal("expected error for missing object")
		}
		if _, err := os.Stat(filepath.Join(spool, "gone")); !os.IsNotExist(err) {
			t.Errorf("expected no spool file, got %v", err)
		}
	})
}

func TestNew(t *testing.T) {
	r, err := New(context.Background(), runtime.PathsConfig{Resolver: ResolverUpload, UploadDir: "/srv/upload", Fanout: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, ok := r.(*UploadResolver)
	if !ok || u.Fanout != 8 {
		t.Fatalf("unexpected resolver %#v", r)
	}

	if r, _ := New(context.Background(), runtime.PathsConfig{}); r == nil {
		t.Fatal("expected static resolver")
	}
	if _, err := New(context.Background(), runtime.PathsConfig{Resolver: "ftp"}); err == nil {
		t.Fatal("expected error for unknown resolver")
	}
}
