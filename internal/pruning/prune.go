// Package pruning strips sidecars down to an allow-list of fields after
// lifting dataset-global constants into each scan.
package pruning

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrsinham/bidsify/internal/bids"
	"github.com/mrsinham/bidsify/internal/logger"
	"github.com/mrsinham/bidsify/internal/metrics"
)

const pass = "pruning"

// Options configures a pruning run.
type Options struct {
	DatasetRoot string
	Subject     string
	Session     string
	Logger      *zerolog.Logger
	Metrics     *metrics.Metrics
}

// Report summarises a pruning run.
type Report struct {
	Entries   int
	Rewritten int
}

// GlobalConstants returns the dataset-global constants a converter stores
// under "global" -> "const", or nil.
func GlobalConstants(meta bids.Metadata) map[string]any {
	global, ok := meta.Map("global")
	if !ok {
		return nil
	}
	consts, _ := global["const"].(map[string]any)
	return consts
}

// Merge layers local over defaults: a key from defaults is used only when
// local lacks it and the key is allow-listed.
func Merge(defaults map[string]any, local bids.Metadata) bids.Metadata {
	merged := local.Clone()
	for k, v := range defaults {
		if !Allowed(k) {
			continue
		}
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return merged
}

// Clean returns meta with global constants lifted in and every key outside
// the allow-list removed. Clean(Clean(m)) equals Clean(m).
func Clean(meta bids.Metadata) bids.Metadata {
	merged := Merge(GlobalConstants(meta), meta)
	out := make(bids.Metadata, len(merged))
	for k, v := range merged {
		if Allowed(k) {
			out[k] = v
		}
	}
	return out
}

// Prune cleans every sidecar of the subject/session. A sidecar whose
// cleaned form is byte-identical to the file on disk is not rewritten.
func Prune(opts Options) (*Report, error) {
	start := time.Now()
	defer opts.Metrics.ObserveStage(pass, start)
	log := logger.OrNop(opts.Logger)
	report := &Report{}

	idx, err := bids.BuildIndex(opts.DatasetRoot, bids.Query{
		Subject: opts.Subject,
		Session: opts.Session,
		Logger:  opts.Logger,
	})
	if err != nil {
		var nf *bids.NotFoundError
		if errors.As(err, &nf) {
			log.Info().Str("subject", nf.Subject).Str("session", nf.Session).Msg("nothing to prune")
			return report, nil
		}
		return nil, err
	}
	opts.Metrics.AddIndexed(pass, len(idx.Entries))

	for _, e := range idx.Entries {
		report.Entries++
		cleaned := Clean(e.Metadata)

		data, err := bids.EncodeMetadata(cleaned)
		if err != nil {
			return report, fmt.Errorf("encode %s: %w", e.SidecarPath, err)
		}
		current, err := os.ReadFile(e.SidecarPath)
		if err != nil {
			return report, fmt.Errorf("read %s: %w", e.SidecarPath, err)
		}
		if bytes.Equal(current, data) {
			continue
		}

		if err := bids.WriteMetadata(e.SidecarPath, cleaned); err != nil {
			return report, fmt.Errorf("write %s: %w", e.SidecarPath, err)
		}
		log.Debug().
			Str("path", e.SidecarPath).
			Int("keys_before", len(e.Metadata)).
			Int("keys_after", len(cleaned)).
			Msg("sidecar pruned")
		e.Metadata = cleaned
		report.Rewritten++
		opts.Metrics.IncRewritten(pass)
	}

	log.Info().
		Int("entries", report.Entries).
		Int("rewritten", report.Rewritten).
		Msg("pruning finished")
	return report, nil
}
