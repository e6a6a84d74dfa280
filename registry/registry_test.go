package registry

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTypeForSerial(t *testing.T) {
	cases := []struct {
		serial string
		id     string
		ok     bool
	}{
		{"27123456", "KDC101", true},
		{"28000001", "KBD101", true},
		{"83051234", "TDC001", true},
		{"97654321", "KIM101", true},
		{"29500123", "KPZ101", true},
		{"81004567", "TPZ001", true},
		{"99000001", "", false},
		{"5", "", false},
		{"ab123456", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.serial, func(t *testing.T) {
			dt, ok := TypeForSerial(tc.serial)
			if ok != tc.ok {
				t.Fatalf("TypeForSerial(%q) ok = %v, want %v", tc.serial, ok, tc.ok)
			}
			if dt.ID != tc.id {
				t.Errorf("TypeForSerial(%q) = %s, want %s", tc.serial, dt.ID, tc.id)
			}
		})
	}
}

func TestUnknownPrefixHasUnknownKind(t *testing.T) {
	dt, _ := TypeForSerial("99000001")
	if dt.Kind != Unknown {
		t.Errorf("zero DeviceType Kind = %v, want Unknown", dt.Kind)
	}
	if dt.Kind.String() != "unknown" {
		t.Errorf("Unknown.String() = %s", dt.Kind.String())
	}
}

func TestChannelCounts(t *testing.T) {
	for _, dt := range Types() {
		want := 1
		if dt.ID == "KIM101" {
			want = 4
		}
		if dt.Channels != want {
			t.Errorf("%s has %d channels, want %d", dt.ID, dt.Channels, want)
		}
	}
}

func TestLegacySupport(t *testing.T) {
	cases := []struct {
		id     string
		hwType int
	}{
		{"KDC101", 42},
		{"TDC001", 27},
		{"KPZ101", 29},
		{"TPZ001", 81},
		{"KBD101", 0},
		{"KIM101", 0},
	}
	for _, tc := range cases {
		dt, ok := TypeByID(tc.id)
		if !ok {
			t.Fatalf("TypeByID(%q) missing", tc.id)
		}
		if dt.APTHWType != tc.hwType {
			t.Errorf("%s APTHWType = %d, want %d", tc.id, dt.APTHWType, tc.hwType)
		}
	}
}

func TestCompatibleStages(t *testing.T) {
	got := CompatibleStages("KIM101")
	want := []string{"PIA13", "PIA25", "PIA50", "PIAK10", "PIAK25"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CompatibleStages(KIM101) mismatch (-want +got):\n%s", diff)
	}
	got = CompatibleStages("KBD101")
	want = []string{"DDS100", "DDS220", "DDS300", "DDS600", "DDSM100"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CompatibleStages(KBD101) mismatch (-want +got):\n%s", diff)
	}
	if got := CompatibleStages("NOPE999"); len(got) != 0 {
		t.Errorf("CompatibleStages(NOPE999) = %v, want empty", got)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		stage string
		typ   string
		ok    bool
		msg   string
	}{
		{"Z825B", "KDC101", true, "Z825B is compatible with KDC101"},
		{"Z825B", "KIM101", false, "Z825B requires KDC101 or TDC001, but controller is KIM101"},
		{"NOSUCH", "KDC101", false, "Unknown stage: NOSUCH"},
		{"DDS100", "KBD101", true, "DDS100 is compatible with KBD101"},
		{"PIA13", "KPZ101", false, "PIA13 requires KIM101, but controller is KPZ101"},
	}
	for _, tc := range cases {
		t.Run(tc.stage+"/"+tc.typ, func(t *testing.T) {
			ok, msg := Validate(tc.stage, tc.typ)
			if ok != tc.ok {
				t.Errorf("Validate(%s, %s) ok = %v, want %v", tc.stage, tc.typ, ok, tc.ok)
			}
			if msg != tc.msg {
				t.Errorf("Validate(%s, %s) msg = %q, want %q", tc.stage, tc.typ, msg, tc.msg)
			}
		})
	}
}

func TestMatchStageName(t *testing.T) {
	cases := []struct {
		reported string
		want     string
		ok       bool
	}{
		// exact part numbers win outright
		{"PRM1Z8", "PRM1Z8", true},
		{"PRM1/MZ8", "PRM1/MZ8", true},
		// metric suffixes are stripped before the containment check
		{"MTS50-Z8/M", "MTS50-Z8", true},
		{"Z825B/M", "Z825B", true},
		// device EEPROMs pad names with extra text
		{"HS LTS150 150mm Stage", "LTS150", true},
		{"z825b", "Z825B", true},
		{"", "", false},
		{"FROBNITZ-9000", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.reported, func(t *testing.T) {
			got, ok := MatchStageName(tc.reported)
			if ok != tc.ok {
				t.Fatalf("MatchStageName(%q) ok = %v, want %v", tc.reported, ok, tc.ok)
			}
			if got != tc.want {
				t.Errorf("MatchStageName(%q) = %s, want %s", tc.reported, got, tc.want)
			}
		})
	}
}

func TestStagesSorted(t *testing.T) {
	ss := Stages()
	for i := 1; i < len(ss); i++ {
		if ss[i-1].ID >= ss[i].ID {
			t.Fatalf("Stages() out of order at %d: %s >= %s", i, ss[i-1].ID, ss[i].ID)
		}
	}
	if len(ss) != 28 {
		t.Errorf("expected 28 stages, got %d", len(ss))
	}
}

func TestTypesByKind(t *testing.T) {
	got := TypesByKind(DCServo)
	want := []string{"KDC101", "TDC001"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("TypesByKind(DCServo) mismatch (-want +got):\n%s", diff)
	}
	got = TypesByKind(Piezo)
	want = []string{"KPZ101", "TPZ001"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("TypesByKind(Piezo) mismatch (-want +got):\n%s", diff)
	}
}
