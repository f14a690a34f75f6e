package completion

import (
	"sort"

	"github.com/mrsinham/bidsify/internal/bids"
)

// bucket groups the candidates acquired at exactly the same time.
type bucket struct {
	at      bids.Timestamp
	members []*bids.Entry
}

// IntendedFor returns the scans a field map corrects, as paths relative to
// the subject directory. A field map covers every scan acquired after it
// until the next field map that matches it on all entities except run.
// Scans from another subject or session are never claimed. The result is
// sorted and never nil.
func IntendedFor(fmap *bids.Entry, candidates []*bids.Entry) ([]string, error) {
	if !fmap.AcquisitionTime.IsValid() {
		return nil, &bids.MissingFieldError{Path: fmap.SidecarPath, Field: "AcquisitionTime"}
	}

	buckets, err := laterBuckets(fmap, candidates)
	if err != nil {
		return nil, err
	}

	acq, hasAcq := fmap.Entities.Get(bids.EntityAcquisition)
	result := []string{}

walk:
	for _, b := range buckets {
		if isFieldMapBucket(b) {
			for _, m := range b.members {
				if m.Entities.Datatype() == bids.DatatypeFmap && fmap.Entities.MatchesExcept(m.Entities, bids.EntityRun) {
					break walk
				}
			}
			continue
		}
		if hasAcq && !allDatatype(b, acq) {
			continue
		}
		for _, m := range b.members {
			result = append(result, m.RelativePath())
		}
	}

	sort.Strings(result)
	return result, nil
}

// laterBuckets keeps the candidates of the field map's subject and session
// acquired strictly after it, grouped by exact acquisition time, in
// ascending order.
func laterBuckets(fmap *bids.Entry, candidates []*bids.Entry) ([]bucket, error) {
	subject, session := fmap.Entities.Subject(), fmap.Entities.Session()

	var later []*bids.Entry
	for _, c := range candidates {
		if c == fmap || c.SidecarPath == fmap.SidecarPath {
			continue
		}
		if c.Entities.Subject() != subject || c.Entities.Session() != session {
			continue
		}
		if !c.AcquisitionTime.IsValid() {
			return nil, &bids.MissingFieldError{Path: c.SidecarPath, Field: "AcquisitionTime"}
		}
		if c.AcquisitionTime.After(fmap.AcquisitionTime) {
			later = append(later, c)
		}
	}

	sort.SliceStable(later, func(i, j int) bool {
		if c := later[i].AcquisitionTime.Compare(later[j].AcquisitionTime); c != 0 {
			return c < 0
		}
		return later[i].RelativePath() < later[j].RelativePath()
	})

	var buckets []bucket
	for _, e := range later {
		n := len(buckets)
		if n > 0 && buckets[n-1].at.Equal(e.AcquisitionTime) {
			buckets[n-1].members = append(buckets[n-1].members, e)
			continue
		}
		buckets = append(buckets, bucket{at: e.AcquisitionTime, members: []*bids.Entry{e}})
	}
	return buckets, nil
}

func isFieldMapBucket(b bucket) bool {
	for _, m := range b.members {
		if m.Entities.Datatype() == bids.DatatypeFmap {
			return true
		}
	}
	return false
}

func allDatatype(b bucket, datatype string) bool {
	for _, m := range b.members {
		if m.Entities.Datatype() != datatype {
			return false
		}
	}
	return true
}
