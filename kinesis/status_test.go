package kinesis_test

import (
	"testing"

	"github.com/bdube/stagehand/kinesis"
)

func TestStatusBits(t *testing.T) {
	cases := []struct {
		name string
		word uint32
		get  func(kinesis.Status) bool
	}{
		{"FwdLimit", 0x00000001, kinesis.Status.FwdLimit},
		{"RevLimit", 0x00000002, kinesis.Status.RevLimit},
		{"MovingFwd", 0x00000010, kinesis.Status.MovingFwd},
		{"MovingRev", 0x00000020, kinesis.Status.MovingRev},
		{"JoggingFwd", 0x00000040, kinesis.Status.JoggingFwd},
		{"JoggingRev", 0x00000080, kinesis.Status.JoggingRev},
		{"Homing", 0x00000200, kinesis.Status.Homing},
		{"Homed", 0x00000400, kinesis.Status.Homed},
		{"Enabled", 0x80000000, kinesis.Status.Enabled},
	}
	for _, tc := range cases {
		if !tc.get(kinesis.Status(tc.word)) {
			t.Errorf("%s not reported for %#08x", tc.name, tc.word)
		}
		if tc.get(kinesis.Status(^tc.word)) {
			t.Errorf("%s reported for %#08x", tc.name, ^tc.word)
		}
	}
}

func TestStatusMoving(t *testing.T) {
	moving := []uint32{0x10, 0x20, 0x40, 0x80, 0x200}
	for _, word := range moving {
		if !kinesis.Status(word).Moving() {
			t.Errorf("Moving() = false for %#08x", word)
		}
	}
	still := kinesis.Status(0x80000403) // enabled, homed, on both limits
	if still.Moving() {
		t.Errorf("Moving() = true for %#08x", uint32(still))
	}
}
