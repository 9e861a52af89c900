// File: internal/sandbox/bundle.go
// Description: Artifact bundles move files in and out of sandbox
// sessions as a single brotli-compressed tar stream, so a run producing
// dozens of small files still costs one round trip.
package sandbox

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/karavolt/deskpilot-cli/api/schemas"
)

// bundleContentType identifies the bundle encoding on the wire.
const bundleContentType = "application/x-tar+br"

// EncodeBundle packs named files into a compressed tar stream.
func EncodeBundle(files map[string][]byte) ([]byte, error) {
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	tw := tar.NewWriter(bw)

	for name, data := range files {
		hdr := &tar.Header{
			Name: filepath.ToSlash(name),
			Mode: 0o644,
			Size: int64(len(data)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("cannot write bundle header for %q: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return nil, fmt.Errorf("cannot write bundle entry %q: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("cannot finalize bundle: %w", err)
	}
	if err := bw.Close(); err != nil {
		return nil, fmt.Errorf("cannot compress bundle: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeBundle unpacks a compressed tar stream into destDir and returns
// the extracted artifacts. Entries escaping destDir are rejected.
func DecodeBundle(r io.Reader, destDir string) ([]schemas.Artifact, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create artifact directory: %w", err)
	}
	tr := tar.NewReader(brotli.NewReader(r))

	var artifacts []schemas.Artifact
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("corrupt artifact bundle: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := filepath.Clean(hdr.Name)
		if strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			return nil, fmt.Errorf("artifact bundle entry %q escapes destination", hdr.Name)
		}
		dest := filepath.Join(destDir, name)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, fmt.Errorf("cannot create artifact subdirectory: %w", err)
		}
		f, err := os.Create(dest)
		if err != nil {
			return nil, fmt.Errorf("cannot create artifact %q: %w", name, err)
		}
		n, err := io.Copy(f, tr)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("cannot extract artifact %q: %w", name, err)
		}
		artifacts = append(artifacts, schemas.Artifact{Name: name, Size: n, Path: dest})
	}
	return artifacts, nil
}
