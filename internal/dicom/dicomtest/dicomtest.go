// Package dicomtest writes small DICOM files for tests.
package dicomtest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const explicitVRLittleEndian = "1.2.840.10008.1.2.1"

// mustNewElement creates a new DICOM element, failing the test on error.
func mustNewElement(t testing.TB, tg tag.Tag, value []string) *dicom.Element {
	t.Helper()
	elem, err := dicom.NewElement(tg, value)
	if err != nil {
		t.Fatalf("failed to create element %v: %v", tg, err)
	}
	return elem
}

// Encode returns a DICOM file holding the given string values.
func Encode(t testing.TB, values map[tag.Tag]string) []byte {
	t.Helper()
	elems := []*dicom.Element{
		mustNewElement(t, tag.MediaStorageSOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.4"}),
		mustNewElement(t, tag.MediaStorageSOPInstanceUID, []string{"1.2.3.4.5"}),
		mustNewElement(t, tag.TransferSyntaxUID, []string{explicitVRLittleEndian}),
	}

	tags := make([]tag.Tag, 0, len(values))
	for tg := range values {
		tags = append(tags, tg)
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Group != tags[j].Group {
			return tags[i].Group < tags[j].Group
		}
		return tags[i].Element < tags[j].Element
	})
	for _, tg := range tags {
		elems = append(elems, mustNewElement(t, tg, []string{values[tg]}))
	}

	var buf bytes.Buffer
	if err := dicom.Write(&buf, dicom.Dataset{Elements: elems}); err != nil {
		t.Fatalf("write dicom: %v", err)
	}
	return buf.Bytes()
}

// WriteFile writes a DICOM file holding values to path, creating parents.
func WriteFile(t testing.TB, path string, values map[tag.Tag]string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, Encode(t, values), 0o644); err != nil {
		t.Fatal(err)
	}
}

// Member is one file of a test archive.
type Member struct {
	Name string
	Data []byte
}

// WriteTar writes members to a tar archive at path, gzip compressed when
// compress is set.
func WriteTar(t testing.TB, path string, compress bool, members ...Member) {
	t.Helper()
	var buf bytes.Buffer
	var out io.Writer = &buf
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(&buf)
		out = gz
	}
	tw := tar.NewWriter(out)
	for _, m := range members {
		hdr := &tar.Header{Name: m.Name, Mode: 0o644, Size: int64(len(m.Data)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(m.Data); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(fmt.Errorf("write %s: %w", path, err))
	}
}
