package bids

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mrsinham/bidsify/internal/logger"
)

// Entry is one acquired scan: an image file and its sidecar.
type Entry struct {
	Entities        Entities
	AcquisitionTime Timestamp
	ImagePath       string
	SidecarPath     string
	Metadata        Metadata
}

// Filename returns the base name of the image file.
func (e *Entry) Filename() string {
	return filepath.Base(e.ImagePath)
}

// RelativePath returns the image path relative to the subject directory,
// as used by IntendedFor: [ses-<label>/]<datatype>/<filename>.
func (e *Entry) RelativePath() string {
	rel := path.Join(e.Entities.Datatype(), e.Filename())
	if ses := e.Entities.Session(); ses != "" {
		rel = path.Join("ses-"+ses, rel)
	}
	return rel
}

// Query selects the entries to index.
type Query struct {
	Subject string
	// Session restricts the scan to one session. Empty means every session
	// of the subject, plus a session-less layout.
	Session string
	// Datatypes restricts the datatype directories scanned. Empty means all.
	Datatypes []string
	Logger    *zerolog.Logger
}

// Index is the set of entries materialised from one directory scan.
type Index struct {
	Root    string
	Entries []*Entry
}

// SubjectLabel strips an optional "sub-" prefix.
func SubjectLabel(s string) string { return strings.TrimPrefix(s, "sub-") }

// SessionLabel strips an optional "ses-" prefix.
func SessionLabel(s string) string { return strings.TrimPrefix(s, "ses-") }

// BuildIndex scans root for the imaging entries selected by q. Only the
// sub-<label>[/ses-<label>]/<datatype>/ levels are visited. Images without a
// sidecar are left out. An unreadable acquisition time leaves the entry with
// an invalid Timestamp. It returns *NotFoundError when nothing matches.
func BuildIndex(root string, q Query) (*Index, error) {
	log := logger.OrNop(q.Logger)
	subject := SubjectLabel(q.Subject)
	session := SessionLabel(q.Session)
	if subject == "" {
		return nil, fmt.Errorf("build index: subject is required")
	}

	subDir := filepath.Join(root, "sub-"+subject)
	sessionDirs, err := sessionDirectories(subDir, session)
	if err != nil {
		return nil, err
	}

	idx := &Index{Root: root}
	seen := make(map[string]bool)
	for sesLabel, dir := range sessionDirs {
		datatypeDirs, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", dir, err)
		}
		for _, dt := range datatypeDirs {
			if !dt.IsDir() || strings.HasPrefix(dt.Name(), "ses-") {
				continue
			}
			if len(q.Datatypes) > 0 && !contains(q.Datatypes, dt.Name()) {
				continue
			}
			entries, err := scanDatatype(filepath.Join(dir, dt.Name()), dt.Name(), subject, sesLabel, log)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				if seen[e.SidecarPath] {
					return nil, fmt.Errorf("build index: %s is paired with more than one image", e.SidecarPath)
				}
				seen[e.SidecarPath] = true
				idx.Entries = append(idx.Entries, e)
			}
		}
	}

	if len(idx.Entries) == 0 {
		return nil, &NotFoundError{Subject: subject, Session: session}
	}

	idx.normalizeTimestamps()
	sort.Slice(idx.Entries, func(i, j int) bool {
		return idx.Entries[i].SidecarPath < idx.Entries[j].SidecarPath
	})

	log.Debug().
		Str("subject", subject).
		Str("session", session).
		Int("entries", len(idx.Entries)).
		Msg("dataset indexed")
	return idx, nil
}

// sessionDirectories maps session labels ("" for none) to directories.
func sessionDirectories(subDir, session string) (map[string]string, error) {
	if _, err := os.Stat(subDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	if session != "" {
		return map[string]string{session: filepath.Join(subDir, "ses-"+session)}, nil
	}

	dirs := map[string]string{"": subDir}
	children, err := os.ReadDir(subDir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", subDir, err)
	}
	for _, c := range children {
		if c.IsDir() && strings.HasPrefix(c.Name(), "ses-") {
			dirs[SessionLabel(c.Name())] = filepath.Join(subDir, c.Name())
		}
	}
	return dirs, nil
}

func scanDatatype(dir, datatype, subject, session string, log *zerolog.Logger) ([]*Entry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var out []*Entry
	for _, f := range files {
		if f.IsDir() || !IsImageFile(f.Name()) {
			continue
		}
		imagePath := filepath.Join(dir, f.Name())
		ents, err := ParseFilename(f.Name())
		if err != nil {
			log.Warn().Err(err).Str("path", imagePath).Msg("skipping file with unparseable name")
			continue
		}
		if ents.Subject() != subject || ents.Session() != session {
			log.Warn().
				Str("path", imagePath).
				Str("subject", ents.Subject()).
				Str("session", ents.Session()).
				Msg("skipping file whose entities disagree with its directory")
			continue
		}
		ents[EntityDatatype] = datatype

		sidecarPath := filepath.Join(dir, Stem(f.Name())+".json")
		meta, err := ReadMetadata(sidecarPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				log.Debug().Str("path", imagePath).Msg("no sidecar, skipping")
				continue
			}
			return nil, fmt.Errorf("read sidecar %s: %w", sidecarPath, err)
		}

		ts, _, err := ParseTimestamp(meta)
		if err != nil {
			log.Warn().Err(err).Str("path", sidecarPath).Msg("unreadable acquisition time, entry kept without one")
		}

		out = append(out, &Entry{
			Entities:        ents,
			AcquisitionTime: ts,
			ImagePath:       imagePath,
			SidecarPath:     sidecarPath,
			Metadata:        meta,
		})
	}
	return out, nil
}

// normalizeTimestamps drops calendar dates from every entry as soon as one
// entry lacks a date, so that all comparisons use the same precision.
func (idx *Index) normalizeTimestamps() {
	for _, e := range idx.Entries {
		if e.AcquisitionTime.IsValid() && !e.AcquisitionTime.HasDate() {
			for _, o := range idx.Entries {
				o.AcquisitionTime = o.AcquisitionTime.ClockOnly()
			}
			return
		}
	}
}
