// Package dicom inspects raw DICOM sources: a directory tree of .dcm files or
// a tar archive of them.
package dicom

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/bidsify/internal/util"
)

// ErrNoDICOM is returned when a source holds no .dcm file.
var ErrNoDICOM = errors.New("no .dcm file found")

// SourceKind tells how a DICOM source is laid out on disk.
type SourceKind int

const (
	// SourceUnknown is neither a directory nor a supported archive.
	SourceUnknown SourceKind = iota
	// SourceDirectory is a directory tree containing .dcm files.
	SourceDirectory
	// SourceArchive is a .tar, .tar.gz or .tgz file.
	SourceArchive
)

// String returns the string representation of a SourceKind.
func (k SourceKind) String() string {
	switch k {
	case SourceDirectory:
		return "directory"
	case SourceArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// IsArchiveName reports whether name carries a supported archive extension.
func IsArchiveName(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range []string{".tar", ".tar.gz", ".tgz"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Classify stats path and reports its SourceKind.
func Classify(path string) (SourceKind, error) {
	info, err := os.Stat(path)
	if err != nil {
		return SourceUnknown, err
	}
	switch {
	case info.IsDir():
		return SourceDirectory, nil
	case info.Mode().IsRegular() && IsArchiveName(path):
		return SourceArchive, nil
	default:
		return SourceUnknown, nil
	}
}

// Header is the parsed header of one DICOM file, pixel data excluded.
type Header struct {
	// Path is the file path, or "archive:member" for archived files.
	Path    string
	Dataset dicom.Dataset
}

// Value returns the trimmed string form of t, or "" when absent.
func (h *Header) Value(t tag.Tag) string {
	elem, err := h.Dataset.FindElementByTag(t)
	if err != nil || elem == nil || elem.Value == nil {
		return ""
	}
	return strings.Trim(elem.Value.String(), " []\x00")
}

// Lookup resolves name through the tag registry and returns its value.
func (h *Header) Lookup(name string) (string, error) {
	info, err := util.GetTagByName(name)
	if err != nil {
		return "", err
	}
	return h.Value(info.Tag), nil
}

// ReadFirstHeader parses the first .dcm file of source. Directories are
// walked in lexical order; archives in member order.
func ReadFirstHeader(source string) (*Header, error) {
	kind, err := Classify(source)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", source, err)
	}
	switch kind {
	case SourceDirectory:
		return firstInDirectory(source)
	case SourceArchive:
		return firstInArchive(source)
	default:
		return nil, fmt.Errorf("probe %s: not a directory or tar archive", source)
	}
}

func firstInDirectory(root string) (*Header, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isDICOMName(path) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	if found == "" {
		return nil, fmt.Errorf("%s: %w", root, ErrNoDICOM)
	}

	f, err := os.Open(found)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	ds, err := ParseHeader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", found, err)
	}
	return &Header{Path: found, Dataset: ds}, nil
}

func firstInArchive(archive string) (*Header, error) {
	f, err := os.Open(archive)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r, err := maybeGunzip(f)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", archive, err)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("%s: %w", archive, ErrNoDICOM)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", archive, err)
		}
		if hdr.Typeflag != tar.TypeReg || !isDICOMName(hdr.Name) {
			continue
		}
		ds, err := ParseHeader(tr, hdr.Size)
		if err != nil {
			return nil, fmt.Errorf("parse %s:%s: %w", archive, hdr.Name, err)
		}
		return &Header{Path: archive + ":" + hdr.Name, Dataset: ds}, nil
	}
}

// maybeGunzip wraps r in a gzip reader when the stream starts with the gzip
// magic number.
func maybeGunzip(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		return gzip.NewReader(br)
	}
	return br, nil
}

func isDICOMName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".dcm")
}

// ParseHeader parses a DICOM stream element by element with pixel data
// skipped, keeping whatever parsed before the first bad element.
func ParseHeader(r io.Reader, size int64) (dicom.Dataset, error) {
	p, err := dicom.NewParser(r, size, nil, dicom.SkipPixelData())
	if err != nil {
		return dicom.Dataset{}, err
	}

	var elements []*dicom.Element
	for {
		elem, err := p.Next()
		if err != nil {
			break
		}
		elements = append(elements, elem)
	}

	meta := p.GetMetadata()
	if len(elements) == 0 && len(meta.Elements) == 0 {
		return dicom.Dataset{}, fmt.Errorf("no elements parsed")
	}
	return dicom.Dataset{Elements: append(meta.Elements, elements...)}, nil
}
