// Package bids indexes the imaging files of a BIDS dataset together with
// their JSON sidecars.
package bids

import (
	"fmt"
	"strings"
)

// Entity keys used throughout the index, in their long form.
const (
	EntitySubject     = "subject"
	EntitySession     = "session"
	EntityTask        = "task"
	EntityAcquisition = "acquisition"
	EntityDirection   = "direction"
	EntityRun         = "run"
	EntityDatatype    = "datatype"
	EntitySuffix      = "suffix"
	EntityExtension   = "extension"
)

// Datatype directory names.
const (
	DatatypeAnat = "anat"
	DatatypeFunc = "func"
	DatatypeFmap = "fmap"
	DatatypeDWI  = "dwi"
)

// entityNames maps filename keys to their long entity names.
var entityNames = map[string]string{
	"sub":  EntitySubject,
	"ses":  EntitySession,
	"task": EntityTask,
	"acq":  EntityAcquisition,
	"ce":   "ceagent",
	"rec":  "reconstruction",
	"dir":  EntityDirection,
	"run":  EntityRun,
	"echo": "echo",
	"part": "part",
	"inv":  "inversion",
	"flip": "flip",
	"mt":   "mtransfer",
	"trc":  "tracer",
}

// imageExtensions lists the recognised image extensions, longest first.
var imageExtensions = []string{".nii.gz", ".nii"}

// Entities holds the labelled dimensions of one imaging file.
type Entities map[string]string

// Get returns the value of key and whether it is present.
func (e Entities) Get(key string) (string, bool) {
	v, ok := e[key]
	return v, ok
}

// Subject returns the subject label.
func (e Entities) Subject() string { return e[EntitySubject] }

// Session returns the session label, or "" when the dataset has no sessions.
func (e Entities) Session() string { return e[EntitySession] }

// Datatype returns the datatype directory name (func, fmap, dwi, ...).
func (e Entities) Datatype() string { return e[EntityDatatype] }

// MatchesExcept reports whether other carries the same value as e for every
// key of e, ignoring the keys listed in skip. Keys present in e but missing
// from other count as a mismatch.
func (e Entities) MatchesExcept(other Entities, skip ...string) bool {
	for k, v := range e {
		if contains(skip, k) {
			continue
		}
		ov, ok := other[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// IsImageFile reports whether name carries a NIfTI image extension.
func IsImageFile(name string) bool {
	_, ok := splitExtension(name)
	return ok
}

// ParseFilename extracts entities, suffix and extension from a BIDS
// filename such as sub-01_ses-1_task-rest_dir-AP_run-01_bold.nii.gz.
// The datatype is not part of the filename and is left unset.
func ParseFilename(name string) (Entities, error) {
	ext, ok := splitExtension(name)
	if !ok {
		return nil, fmt.Errorf("%s: not a NIfTI image", name)
	}
	stem := strings.TrimSuffix(name, ext)
	parts := strings.Split(stem, "_")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%s: expected key-value pairs followed by a suffix", name)
	}

	ents := Entities{EntityExtension: ext}
	suffix := parts[len(parts)-1]
	if suffix == "" || strings.Contains(suffix, "-") {
		return nil, fmt.Errorf("%s: missing suffix", name)
	}
	ents[EntitySuffix] = suffix

	for _, p := range parts[:len(parts)-1] {
		key, value, found := strings.Cut(p, "-")
		if !found || key == "" || value == "" {
			return nil, fmt.Errorf("%s: malformed entity %q", name, p)
		}
		long, known := entityNames[key]
		if !known {
			long = key
		}
		if _, dup := ents[long]; dup {
			return nil, fmt.Errorf("%s: entity %q repeated", name, key)
		}
		ents[long] = value
	}

	if ents.Subject() == "" {
		return nil, fmt.Errorf("%s: missing sub entity", name)
	}
	return ents, nil
}

// Stem returns name without its image extension.
func Stem(name string) string {
	ext, ok := splitExtension(name)
	if !ok {
		return name
	}
	return strings.TrimSuffix(name, ext)
}

func splitExtension(name string) (string, bool) {
	for _, ext := range imageExtensions {
		if strings.HasSuffix(name, ext) && len(name) > len(ext) {
			return ext, true
		}
	}
	return "", false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
