// Package util provides helpers shared by the DICOM probing and participants code.
package util

import (
	"fmt"
	"sort"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// TagScope is the DICOM hierarchy level a tag describes.
type TagScope int

// Scopes, from the subject down to a single acquisition.
const (
	ScopePatient TagScope = iota
	ScopeStudy
	ScopeSeries
)

func (s TagScope) String() string {
	switch s {
	case ScopePatient:
		return "Patient"
	case ScopeStudy:
		return "Study"
	case ScopeSeries:
		return "Series"
	default:
		return "Unknown"
	}
}

// TagInfo describes a DICOM tag that can feed a participants column.
type TagInfo struct {
	Name  string
	Tag   tag.Tag
	Scope TagScope
}

// participantTags lists the tags a participants column may reference, by
// hierarchy level.
var participantTags = map[TagScope][]tag.Tag{
	ScopePatient: {
		tag.PatientName, tag.PatientID, tag.PatientBirthDate, tag.PatientSex,
		tag.PatientAge, tag.PatientWeight, tag.PatientSize, tag.EthnicGroup,
	},
	ScopeStudy: {
		tag.StudyDate, tag.StudyTime, tag.StudyDescription, tag.InstitutionName,
		tag.ReferringPhysicianName, tag.AccessionNumber, tag.StationName,
	},
	ScopeSeries: {
		tag.SeriesDescription, tag.ProtocolName, tag.BodyPartExamined,
		tag.Manufacturer, tag.ManufacturerModelName, tag.MagneticFieldStrength,
	},
}

// tagRegistry maps lowercase keywords to their TagInfo. Keywords come from
// the DICOM dictionary bundled with the parser.
var tagRegistry = buildRegistry()

func buildRegistry() map[string]TagInfo {
	reg := make(map[string]TagInfo)
	for scope, tags := range participantTags {
		for _, t := range tags {
			info, err := tag.Find(t)
			if err != nil || info.Name == "" {
				continue
			}
			reg[strings.ToLower(info.Name)] = TagInfo{Name: info.Name, Tag: t, Scope: scope}
		}
	}
	return reg
}

// GetTagByName resolves a DICOM keyword, ignoring case and surrounding
// spaces. Unknown keywords get the nearest registered one as a hint.
func GetTagByName(name string) (TagInfo, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if info, ok := tagRegistry[key]; ok {
		return info, nil
	}
	if hint := findClosestTagName(key); hint != "" {
		return TagInfo{}, fmt.Errorf("unknown tag %q, did you mean %q?", name, hint)
	}
	return TagInfo{}, fmt.Errorf("unknown tag %q", name)
}

// TagNames lists the registered tag names in sorted order.
func TagNames() []string {
	names := make([]string, 0, len(tagRegistry))
	for _, info := range tagRegistry {
		names = append(names, info.Name)
	}
	sort.Strings(names)
	return names
}

// maxHintDistance bounds the edit distance of a suggested keyword.
const maxHintDistance = 5

// findClosestTagName returns the registered keyword nearest to input, or ""
// when none is within maxHintDistance. Ties go to the lexically first key.
func findClosestTagName(input string) string {
	keys := make([]string, 0, len(tagRegistry))
	for k := range tagRegistry {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best, bestDist := "", maxHintDistance+1
	for _, k := range keys {
		if d := levenshteinDistance(input, k); d < bestDist {
			best, bestDist = tagRegistry[k].Name, d
		}
	}
	return best
}

// levenshteinDistance counts single-byte insertions, deletions and
// substitutions between a and b.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
