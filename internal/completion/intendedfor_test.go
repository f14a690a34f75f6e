package completion

import (
	"errors"
	"path"
	"reflect"
	"testing"

	"github.com/mrsinham/bidsify/internal/bids"
)

// scan builds an in-memory entry; clock may be empty for a missing time.
func scan(t *testing.T, datatype, name, clock string) *bids.Entry {
	t.Helper()
	ents, err := bids.ParseFilename(name)
	if err != nil {
		t.Fatalf("ParseFilename(%q): %v", name, err)
	}
	ents[bids.EntityDatatype] = datatype

	meta := bids.Metadata{}
	if clock != "" {
		meta["AcquisitionTime"] = clock
	}
	ts, _, err := bids.ParseTimestamp(meta)
	if err != nil {
		t.Fatal(err)
	}

	dir := path.Join("/data/sub-"+ents.Subject(), datatype)
	if ses := ents.Session(); ses != "" {
		dir = path.Join("/data/sub-"+ents.Subject(), "ses-"+ses, datatype)
	}
	return &bids.Entry{
		Entities:        ents,
		AcquisitionTime: ts,
		ImagePath:       path.Join(dir, name),
		SidecarPath:     path.Join(dir, bids.Stem(name)+".json"),
		Metadata:        meta,
	}
}

func TestIntendedFor_ClosedByMatchingFieldMap(t *testing.T) {
	f1 := scan(t, "fmap", "sub-01_acq-func_dir-AP_run-1_epi.nii.gz", "10:00:00")
	bold := scan(t, "func", "sub-01_task-rest_bold.nii.gz", "10:05:00")
	f2 := scan(t, "fmap", "sub-01_acq-func_dir-AP_run-2_epi.nii.gz", "10:10:00")
	later := scan(t, "func", "sub-01_task-nback_bold.nii.gz", "10:15:00")
	all := []*bids.Entry{later, f2, bold, f1}

	got, err := IntendedFor(f1, all)
	if err != nil {
		t.Fatalf("IntendedFor: %v", err)
	}
	want := []string{"func/sub-01_task-rest_bold.nii.gz"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("IntendedFor(run-1) = %v, want %v", got, want)
	}

	got, err = IntendedFor(f2, all)
	if err != nil {
		t.Fatalf("IntendedFor: %v", err)
	}
	want = []string{"func/sub-01_task-nback_bold.nii.gz"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("IntendedFor(run-2) = %v, want %v", got, want)
	}
}

func TestIntendedFor_EmptyResults(t *testing.T) {
	tests := []struct {
		name string
		all  func(f *bids.Entry) []*bids.Entry
	}{
		{"no other scans", func(f *bids.Entry) []*bids.Entry { return []*bids.Entry{f} }},
		{"only earlier scans", func(f *bids.Entry) []*bids.Entry {
			return []*bids.Entry{f, scan(t, "func", "sub-01_task-rest_bold.nii.gz", "09:00:00")}
		}},
		{"scan at the same time", func(f *bids.Entry) []*bids.Entry {
			return []*bids.Entry{f, scan(t, "func", "sub-01_task-rest_bold.nii.gz", "10:00:00")}
		}},
		{"immediate closure", func(f *bids.Entry) []*bids.Entry {
			return []*bids.Entry{
				f,
				scan(t, "fmap", "sub-01_dir-AP_run-2_epi.nii.gz", "10:01:00"),
				scan(t, "func", "sub-01_task-rest_bold.nii.gz", "10:02:00"),
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := scan(t, "fmap", "sub-01_dir-AP_run-1_epi.nii.gz", "10:00:00")
			got, err := IntendedFor(f, tt.all(f))
			if err != nil {
				t.Fatalf("IntendedFor: %v", err)
			}
			if got == nil || len(got) != 0 {
				t.Errorf("IntendedFor = %#v, want empty non-nil list", got)
			}
		})
	}
}

func TestIntendedFor_UnrelatedFieldMapIsSkipped(t *testing.T) {
	ap := scan(t, "fmap", "sub-01_dir-AP_epi.nii.gz", "10:00:00")
	pa := scan(t, "fmap", "sub-01_dir-PA_epi.nii.gz", "10:01:00")
	bold := scan(t, "func", "sub-01_task-rest_bold.nii.gz", "10:02:00")

	got, err := IntendedFor(ap, []*bids.Entry{ap, pa, bold})
	if err != nil {
		t.Fatalf("IntendedFor: %v", err)
	}
	want := []string{"func/sub-01_task-rest_bold.nii.gz"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("IntendedFor = %v, want %v", got, want)
	}
}

func TestIntendedFor_AcquisitionTypeMismatch(t *testing.T) {
	f := scan(t, "fmap", "sub-01_acq-dwi_dir-AP_epi.nii.gz", "10:00:00")
	bold := scan(t, "func", "sub-01_task-rest_bold.nii.gz", "10:01:00")
	dwi := scan(t, "dwi", "sub-01_dir-AP_dwi.nii.gz", "10:02:00")
	bold2 := scan(t, "func", "sub-01_task-nback_bold.nii.gz", "10:03:00")

	got, err := IntendedFor(f, []*bids.Entry{f, bold, dwi, bold2})
	if err != nil {
		t.Fatalf("IntendedFor: %v", err)
	}
	want := []string{"dwi/sub-01_dir-AP_dwi.nii.gz"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("IntendedFor = %v, want %v", got, want)
	}
}

func TestIntendedFor_TiedBucketAndSorting(t *testing.T) {
	f := scan(t, "fmap", "sub-01_dir-AP_epi.nii.gz", "10:00:00")
	sbref := scan(t, "func", "sub-01_task-rest_sbref.nii.gz", "10:05:00.5")
	bold := scan(t, "func", "sub-01_task-rest_bold.nii.gz", "10:05:00.5")
	dwi := scan(t, "dwi", "sub-01_dwi.nii.gz", "10:01:00")

	got, err := IntendedFor(f, []*bids.Entry{sbref, f, bold, dwi})
	if err != nil {
		t.Fatalf("IntendedFor: %v", err)
	}
	want := []string{
		"dwi/sub-01_dwi.nii.gz",
		"func/sub-01_task-rest_bold.nii.gz",
		"func/sub-01_task-rest_sbref.nii.gz",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("IntendedFor = %v, want %v", got, want)
	}
}

func TestIntendedFor_MixedBucketCountsAsFieldMap(t *testing.T) {
	f := scan(t, "fmap", "sub-01_dir-AP_run-1_epi.nii.gz", "10:00:00")
	otherFmap := scan(t, "fmap", "sub-01_dir-PA_epi.nii.gz", "10:05:00")
	tiedBold := scan(t, "func", "sub-01_task-rest_bold.nii.gz", "10:05:00")
	laterBold := scan(t, "func", "sub-01_task-nback_bold.nii.gz", "10:10:00")
	closing := scan(t, "fmap", "sub-01_dir-AP_run-2_epi.nii.gz", "10:15:00")
	closingBold := scan(t, "func", "sub-01_task-motor_bold.nii.gz", "10:15:00")

	got, err := IntendedFor(f, []*bids.Entry{f, otherFmap, tiedBold, laterBold, closing, closingBold})
	if err != nil {
		t.Fatalf("IntendedFor: %v", err)
	}
	want := []string{"func/sub-01_task-nback_bold.nii.gz"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("IntendedFor = %v, want %v", got, want)
	}
}

func TestIntendedFor_SessionScoping(t *testing.T) {
	f := scan(t, "fmap", "sub-01_ses-1_dir-AP_epi.nii.gz", "10:00:00")
	same := scan(t, "func", "sub-01_ses-1_task-rest_bold.nii.gz", "10:05:00")
	other := scan(t, "func", "sub-01_ses-2_task-rest_bold.nii.gz", "10:06:00")

	got, err := IntendedFor(f, []*bids.Entry{f, same, other})
	if err != nil {
		t.Fatalf("IntendedFor: %v", err)
	}
	want := []string{"ses-1/func/sub-01_ses-1_task-rest_bold.nii.gz"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("IntendedFor = %v, want %v", got, want)
	}
}

func TestIntendedFor_MissingAcquisitionTime(t *testing.T) {
	f := scan(t, "fmap", "sub-01_dir-AP_epi.nii.gz", "10:00:00")
	untimed := scan(t, "func", "sub-01_task-rest_bold.nii.gz", "")

	_, err := IntendedFor(f, []*bids.Entry{f, untimed})
	var mf *bids.MissingFieldError
	if !errors.As(err, &mf) || mf.Field != "AcquisitionTime" {
		t.Errorf("IntendedFor error = %v, want MissingFieldError for AcquisitionTime", err)
	}

	_, err = IntendedFor(scan(t, "fmap", "sub-01_dir-PA_epi.nii.gz", ""), []*bids.Entry{f})
	if !errors.As(err, &mf) {
		t.Errorf("untimed field map: error = %v, want MissingFieldError", err)
	}
}
