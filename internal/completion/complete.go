// Package completion fills the sidecar fields the DICOM converter leaves out:
// IntendedFor on field maps, TotalReadoutTime and TaskName.
package completion

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrsinham/bidsify/internal/bids"
	"github.com/mrsinham/bidsify/internal/logger"
	"github.com/mrsinham/bidsify/internal/metrics"
	"github.com/mrsinham/bidsify/internal/nifti"
)

const pass = "completion"

// Datatypes are the datatype directories the completion pass indexes.
var Datatypes = []string{bids.DatatypeFunc, bids.DatatypeFmap, bids.DatatypeDWI}

// ShapeFunc returns the voxel-grid extents of an image file.
type ShapeFunc func(path string) ([]int, error)

// Options configures a completion run.
type Options struct {
	DatasetRoot string
	Subjects    []string
	Session     string
	// Overwrite recomputes fields that are already present.
	Overwrite bool
	// RequireEntries turns an empty index into an error instead of a no-op.
	RequireEntries bool
	// Shape reads image geometry; defaults to nifti.ReadShape.
	Shape   ShapeFunc
	Logger  *zerolog.Logger
	Metrics *metrics.Metrics
}

// Report summarises what a completion run changed.
type Report struct {
	Entries   int
	Rewritten int
	Filled    map[string]int
}

// Complete runs the completion pass for each subject. Sidecars are
// rewritten only when one of their fields actually changes.
func Complete(opts Options) (*Report, error) {
	start := time.Now()
	defer opts.Metrics.ObserveStage(pass, start)

	if opts.Shape == nil {
		opts.Shape = nifti.ReadShape
	}
	log := logger.OrNop(opts.Logger)
	report := &Report{Filled: make(map[string]int)}

	for _, subject := range opts.Subjects {
		idx, err := bids.BuildIndex(opts.DatasetRoot, bids.Query{
			Subject:   subject,
			Session:   opts.Session,
			Datatypes: Datatypes,
			Logger:    opts.Logger,
		})
		if err != nil {
			var nf *bids.NotFoundError
			if errors.As(err, &nf) && !opts.RequireEntries {
				log.Info().Str("subject", nf.Subject).Str("session", nf.Session).Msg("nothing to complete")
				continue
			}
			return report, err
		}
		opts.Metrics.AddIndexed(pass, len(idx.Entries))
		report.Entries += len(idx.Entries)

		for _, e := range idx.Entries {
			changed, err := completeEntry(e, idx.Entries, opts, report)
			if err != nil {
				return report, err
			}
			if !changed {
				continue
			}
			if err := bids.WriteMetadata(e.SidecarPath, e.Metadata); err != nil {
				return report, fmt.Errorf("write %s: %w", e.SidecarPath, err)
			}
			report.Rewritten++
			opts.Metrics.IncRewritten(pass)
			log.Debug().Str("path", e.SidecarPath).Msg("sidecar completed")
		}
	}

	log.Info().
		Int("entries", report.Entries).
		Int("rewritten", report.Rewritten).
		Dur("elapsed", time.Since(start)).
		Msg("completion finished")
	return report, nil
}

// completeEntry applies the three backfills to e and reports whether any
// field changed.
func completeEntry(e *bids.Entry, all []*bids.Entry, opts Options, report *Report) (bool, error) {
	meta := e.Metadata
	changed := false
	set := func(key string, value any) {
		if old, ok := meta[key]; ok && bids.SameValue(old, value) {
			return
		}
		meta[key] = value
		changed = true
		report.Filled[key]++
		opts.Metrics.IncField(key)
	}

	if NeedsReadoutTime(meta, opts.Overwrite) {
		shape, err := opts.Shape(e.ImagePath)
		if err != nil {
			return false, fmt.Errorf("read image geometry: %w", err)
		}
		trt, err := TotalReadoutTime(meta, shape)
		if err != nil {
			return false, withPath(err, e.SidecarPath)
		}
		set("TotalReadoutTime", trt)
	}

	if task, ok := e.Entities.Get(bids.EntityTask); ok && (opts.Overwrite || !meta.Has("TaskName")) {
		set("TaskName", task)
	}

	if e.Entities.Datatype() == bids.DatatypeFmap && (opts.Overwrite || !meta.Has("IntendedFor")) {
		targets, err := IntendedFor(e, all)
		if err != nil {
			return false, withPath(err, e.SidecarPath)
		}
		set("IntendedFor", targets)
	}

	return changed, nil
}

func withPath(err error, path string) error {
	var mf *bids.MissingFieldError
	if errors.As(err, &mf) && mf.Path == "" {
		mf.Path = path
		return err
	}
	if mf != nil {
		return err
	}
	return fmt.Errorf("%s: %w", path, err)
}
