package completion

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/mrsinham/bidsify/internal/bids"
	"github.com/mrsinham/bidsify/internal/metrics"
)

// fixedShape pretends every image is 96x64x40.
func fixedShape(string) ([]int, error) { return []int{96, 64, 40}, nil }

// writeEntry creates an empty image and its sidecar under root.
func writeEntry(t *testing.T, root, rel string, meta bids.Metadata) string {
	t.Helper()
	image := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(image), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(image, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	sidecar := filepath.Join(filepath.Dir(image), bids.Stem(filepath.Base(image))+".json")
	if err := bids.WriteMetadata(sidecar, meta); err != nil {
		t.Fatal(err)
	}
	return sidecar
}

func readSidecar(t *testing.T, path string) bids.Metadata {
	t.Helper()
	meta, err := bids.ReadMetadata(path)
	if err != nil {
		t.Fatal(err)
	}
	return meta
}

// buildSession lays out fmap(AP, run-1) -> bold -> fmap(AP, run-2) -> dwi.
func buildSession(t *testing.T, root string) map[string]string {
	t.Helper()
	return map[string]string{
		"fmap1": writeEntry(t, root, "sub-01/ses-1/fmap/sub-01_ses-1_dir-AP_run-1_epi.nii.gz", bids.Metadata{
			"AcquisitionTime":        "10:00:00.000000",
			"PhaseEncodingDirection": "j-",
			"EffectiveEchoSpacing":   json.Number("0.0005"),
		}),
		"bold": writeEntry(t, root, "sub-01/ses-1/func/sub-01_ses-1_task-rest_bold.nii.gz", bids.Metadata{
			"AcquisitionTime":        "10:05:00.000000",
			"PhaseEncodingDirection": "j-",
			"EffectiveEchoSpacing":   json.Number("0.0005"),
		}),
		"fmap2": writeEntry(t, root, "sub-01/ses-1/fmap/sub-01_ses-1_dir-AP_run-2_epi.nii.gz", bids.Metadata{
			"AcquisitionTime": "10:10:00.000000",
		}),
		"dwi": writeEntry(t, root, "sub-01/ses-1/dwi/sub-01_ses-1_dwi.nii.gz", bids.Metadata{
			"AcquisitionTime": "10:15:00.000000",
		}),
	}
}

func TestComplete_FillsFields(t *testing.T) {
	root := t.TempDir()
	paths := buildSession(t, root)

	m := metrics.New()
	report, err := Complete(Options{
		DatasetRoot: root,
		Subjects:    []string{"01"},
		Session:     "1",
		Shape:       fixedShape,
		Metrics:     m,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if report.Entries != 4 {
		t.Errorf("report.Entries = %d, want 4", report.Entries)
	}

	fmap1 := readSidecar(t, paths["fmap1"])
	want := []any{"ses-1/func/sub-01_ses-1_task-rest_bold.nii.gz"}
	if !reflect.DeepEqual(fmap1["IntendedFor"], want) {
		t.Errorf("fmap1 IntendedFor = %v, want %v", fmap1["IntendedFor"], want)
	}
	if trt, _ := fmap1.Float("TotalReadoutTime"); math.Abs(trt-0.0315) > 1e-12 {
		t.Errorf("fmap1 TotalReadoutTime = %v, want 0.0315", trt)
	}

	fmap2 := readSidecar(t, paths["fmap2"])
	want = []any{"ses-1/dwi/sub-01_ses-1_dwi.nii.gz"}
	if !reflect.DeepEqual(fmap2["IntendedFor"], want) {
		t.Errorf("fmap2 IntendedFor = %v, want %v", fmap2["IntendedFor"], want)
	}

	bold := readSidecar(t, paths["bold"])
	if name, _ := bold.String("TaskName"); name != "rest" {
		t.Errorf("bold TaskName = %q, want rest", name)
	}
	if bold.Has("IntendedFor") {
		t.Error("IntendedFor must only be set on field maps")
	}

	dwi := readSidecar(t, paths["dwi"])
	if len(dwi) != 1 {
		t.Errorf("dwi sidecar should be untouched, got %v", dwi)
	}
	if report.Rewritten != 3 {
		t.Errorf("report.Rewritten = %d, want 3", report.Rewritten)
	}
	if report.Filled["IntendedFor"] != 2 || report.Filled["TaskName"] != 1 || report.Filled["TotalReadoutTime"] != 2 {
		t.Errorf("unexpected filled counts: %v", report.Filled)
	}
}

func TestComplete_Idempotent(t *testing.T) {
	root := t.TempDir()
	paths := buildSession(t, root)
	opts := Options{DatasetRoot: root, Subjects: []string{"01"}, Session: "1", Shape: fixedShape}

	if _, err := Complete(opts); err != nil {
		t.Fatalf("first Complete: %v", err)
	}

	before := map[string][]byte{}
	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	for name, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatal(err)
		}
		before[name] = data
		if err := os.Chtimes(p, past, past); err != nil {
			t.Fatal(err)
		}
	}

	for _, overwrite := range []bool{false, true} {
		opts.Overwrite = overwrite
		report, err := Complete(opts)
		if err != nil {
			t.Fatalf("Complete(overwrite=%v): %v", overwrite, err)
		}
		if report.Rewritten != 0 {
			t.Errorf("Complete(overwrite=%v) rewrote %d sidecars, want 0", overwrite, report.Rewritten)
		}
	}

	for name, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != string(before[name]) {
			t.Errorf("%s changed on re-run", name)
		}
		info, err := os.Stat(p)
		if err != nil {
			t.Fatal(err)
		}
		if !info.ModTime().Equal(past) {
			t.Errorf("%s was rewritten (mtime %v)", name, info.ModTime())
		}
	}
}

func TestComplete_RespectsExistingFieldsWithoutOverwrite(t *testing.T) {
	root := t.TempDir()
	sidecar := writeEntry(t, root, "sub-01/fmap/sub-01_dir-AP_epi.nii.gz", bids.Metadata{
		"AcquisitionTime": "10:00:00",
		"IntendedFor":     []any{"func/custom.nii.gz"},
	})
	writeEntry(t, root, "sub-01/func/sub-01_task-rest_bold.nii.gz", bids.Metadata{
		"AcquisitionTime": "10:05:00",
		"TaskName":        "resting state",
	})

	if _, err := Complete(Options{DatasetRoot: root, Subjects: []string{"01"}, Shape: fixedShape}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got := readSidecar(t, sidecar)["IntendedFor"]
	if !reflect.DeepEqual(got, []any{"func/custom.nii.gz"}) {
		t.Errorf("IntendedFor overwritten without overwrite flag: %v", got)
	}

	if _, err := Complete(Options{DatasetRoot: root, Subjects: []string{"01"}, Shape: fixedShape, Overwrite: true}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got = readSidecar(t, sidecar)["IntendedFor"]
	if !reflect.DeepEqual(got, []any{"func/sub-01_task-rest_bold.nii.gz"}) {
		t.Errorf("IntendedFor after overwrite = %v", got)
	}
}

func TestComplete_EmptyIntendedForIsWritten(t *testing.T) {
	root := t.TempDir()
	sidecar := writeEntry(t, root, "sub-01/fmap/sub-01_dir-AP_epi.nii.gz", bids.Metadata{"AcquisitionTime": "10:00:00"})

	if _, err := Complete(Options{DatasetRoot: root, Subjects: []string{"01"}, Shape: fixedShape}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, ok := readSidecar(t, sidecar)["IntendedFor"]
	if !ok || !reflect.DeepEqual(got, []any{}) {
		t.Errorf("IntendedFor = %#v, want []", got)
	}
}

func TestComplete_NotFound(t *testing.T) {
	root := t.TempDir()

	report, err := Complete(Options{DatasetRoot: root, Subjects: []string{"01", "02"}})
	if err != nil {
		t.Fatalf("Complete on an empty dataset should be a no-op, got %v", err)
	}
	if report.Entries != 0 {
		t.Errorf("report.Entries = %d, want 0", report.Entries)
	}

	_, err = Complete(Options{DatasetRoot: root, Subjects: []string{"01"}, RequireEntries: true})
	var nf *bids.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("RequireEntries: error = %v, want NotFoundError", err)
	}
}

func TestComplete_MissingFieldIsFatal(t *testing.T) {
	root := t.TempDir()
	writeEntry(t, root, "sub-01/func/sub-01_task-rest_bold.nii.gz", bids.Metadata{
		"AcquisitionTime":      "10:00:00",
		"EffectiveEchoSpacing": "unknown",
	})

	_, err := Complete(Options{DatasetRoot: root, Subjects: []string{"01"}, Shape: fixedShape})
	var mf *bids.MissingFieldError
	if !errors.As(err, &mf) {
		t.Fatalf("error = %v, want MissingFieldError", err)
	}
	if mf.Path == "" {
		t.Error("MissingFieldError should name the sidecar")
	}
}

func TestComplete_ShapeErrorAborts(t *testing.T) {
	root := t.TempDir()
	writeEntry(t, root, "sub-01/func/sub-01_task-rest_bold.nii.gz", bids.Metadata{
		"AcquisitionTime":        "10:00:00",
		"EffectiveEchoSpacing":   json.Number("0.0005"),
		"PhaseEncodingDirection": "j",
	})

	// The image written by writeEntry is empty, so the real NIfTI reader fails.
	if _, err := Complete(Options{DatasetRoot: root, Subjects: []string{"01"}}); err == nil {
		t.Error("Complete should fail when image geometry cannot be read")
	}
}

func TestComplete_MalformedTimeWithoutFieldMap(t *testing.T) {
	root := t.TempDir()
	bold := writeEntry(t, root, "sub-01/func/sub-01_task-rest_bold.nii.gz", bids.Metadata{
		"AcquisitionTime":        "n/a",
		"EffectiveEchoSpacing":   json.Number("0.0005"),
		"PhaseEncodingDirection": "j",
	})

	report, err := Complete(Options{DatasetRoot: root, Subjects: []string{"01"}, Shape: fixedShape})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if report.Rewritten != 1 {
		t.Errorf("report.Rewritten = %d, want 1", report.Rewritten)
	}
	meta := readSidecar(t, bold)
	if name, _ := meta.String("TaskName"); name != "rest" {
		t.Errorf("TaskName = %q, want rest", name)
	}
	if trt, _ := meta.Float("TotalReadoutTime"); math.Abs(trt-0.0315) > 1e-12 {
		t.Errorf("TotalReadoutTime = %v, want 0.0315", trt)
	}
}

func TestComplete_MalformedTimeWithFieldMap(t *testing.T) {
	root := t.TempDir()
	writeEntry(t, root, "sub-01/fmap/sub-01_dir-AP_epi.nii.gz", bids.Metadata{"AcquisitionTime": "10:00:00"})
	bold := writeEntry(t, root, "sub-01/func/sub-01_task-rest_bold.nii.gz", bids.Metadata{"AcquisitionTime": "n/a"})

	_, err := Complete(Options{DatasetRoot: root, Subjects: []string{"01"}, Shape: fixedShape})
	var mf *bids.MissingFieldError
	if !errors.As(err, &mf) || mf.Field != "AcquisitionTime" {
		t.Fatalf("error = %v, want MissingFieldError for AcquisitionTime", err)
	}
	if mf.Path != bold {
		t.Errorf("MissingFieldError path = %s, want %s", mf.Path, bold)
	}
}
