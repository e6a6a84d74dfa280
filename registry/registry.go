// Package registry holds the static tables describing supported motion
// controllers and the stages or actuators they can drive.  The tables are
// data, not behavior; nothing in this package talks to hardware.
package registry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind classifies what a controller drives, which determines the set of
// operations that apply to it.
type Kind int

const (
	// Unknown is the zero Kind, returned for unrecognized serial prefixes
	Unknown Kind = iota

	// DCServo is a closed-loop brushed DC servo driver
	DCServo

	// Brushless is a closed-loop brushless DC driver
	Brushless

	// Inertial is an open-loop stick-slip piezo driver, positioned by step counting
	Inertial

	// Piezo is a piezo voltage amplifier, open loop or strain-gauge closed loop
	Piezo
)

func (k Kind) String() string {
	switch k {
	case DCServo:
		return "dc_servo"
	case Brushless:
		return "brushless"
	case Inertial:
		return "inertial"
	case Piezo:
		return "piezo"
	default:
		return "unknown"
	}
}

// DefaultStepSize is the displacement per inertial step assumed when no
// stage is bound to the channel, 20 nanometers in millimeters.
const DefaultStepSize = 0.00002

// DeviceType describes one controller model.  A zero APTHWType means the
// legacy command API cannot drive the model at all.
type DeviceType struct {
	// ID is the model name, e.g. "KDC101"
	ID string `json:"id"`

	// Prefix is the leading two digits of serial numbers for this model
	Prefix int `json:"prefix"`

	// Channels is the number of independently driven channels
	Channels int `json:"channels"`

	// Kind is the capability class of the model
	Kind Kind `json:"motor_type"`

	// Description is the vendor's human readable name
	Description string `json:"description"`

	// APTHWType is the hardware type code used by the legacy command API,
	// zero if the model predates or postdates that API
	APTHWType int `json:"apt_hw_type"`

	// Homes is true if the model supports a homing cycle
	Homes bool `json:"supports_homing"`

	// Encoded is true if the model has absolute position feedback
	Encoded bool `json:"supports_position"`

	// MaxVelocity and MaxAccel bound motion for servo and brushless models,
	// in stage units per second (squared)
	MaxVelocity float64 `json:"max_velocity,omitempty"`
	MaxAccel    float64 `json:"max_acceleration,omitempty"`

	// MaxStepRate and MaxStepAccel bound motion for inertial models,
	// in steps per second (squared)
	MaxStepRate  int `json:"max_step_rate,omitempty"`
	MaxStepAccel int `json:"max_step_acceleration,omitempty"`

	// VoltageMin and VoltageMax bound the output of piezo models, in volts
	VoltageMin float64 `json:"voltage_min,omitempty"`
	VoltageMax float64 `json:"voltage_max,omitempty"`
}

// MarshalText renders k as its lowercase name, used for the JSON dumps
// served over HTTP.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

var types = map[string]DeviceType{
	"KDC101": {
		ID:          "KDC101",
		Prefix:      27,
		Channels:    1,
		Kind:        DCServo,
		Description: "K-Cube DC Servo Motor Driver",
		APTHWType:   42,
		Homes:       true,
		Encoded:     true,
		MaxVelocity: 2.6,
		MaxAccel:    4.0,
	},
	"KBD101": {
		ID:          "KBD101",
		Prefix:      28,
		Channels:    1,
		Kind:        Brushless,
		Description: "K-Cube Brushless DC Motor Driver",
		APTHWType:   0,
		Homes:       true,
		Encoded:     true,
		MaxVelocity: 500.0,
		MaxAccel:    1000.0,
	},
	"TDC001": {
		ID:          "TDC001",
		Prefix:      83,
		Channels:    1,
		Kind:        DCServo,
		Description: "T-Cube DC Servo Motor Driver (Legacy)",
		APTHWType:   27,
		Homes:       true,
		Encoded:     true,
		MaxVelocity: 2.6,
		MaxAccel:    4.0,
	},
	"KIM101": {
		ID:           "KIM101",
		Prefix:       97,
		Channels:     4,
		Kind:         Inertial,
		Description:  "K-Cube Inertial Motor Driver (4-channel)",
		APTHWType:    0,
		Homes:        false,
		Encoded:      false,
		MaxStepRate:  2000,
		MaxStepAccel: 100000,
	},
	"KPZ101": {
		ID:          "KPZ101",
		Prefix:      29,
		Channels:    1,
		Kind:        Piezo,
		Description: "K-Cube Piezo Driver",
		APTHWType:   29,
		Homes:       false,
		Encoded:     true,
		VoltageMin:  0,
		VoltageMax:  75,
	},
	"TPZ001": {
		ID:          "TPZ001",
		Prefix:      81,
		Channels:    1,
		Kind:        Piezo,
		Description: "T-Cube Piezo Driver (Legacy)",
		APTHWType:   81,
		Homes:       false,
		Encoded:     true,
		VoltageMin:  0,
		VoltageMax:  75,
	},
}

var prefixes = map[int]string{}

func init() {
	for name, t := range types {
		if other, ok := prefixes[t.Prefix]; ok {
			panic(fmt.Sprintf("registry: prefix %d claimed by both %s and %s", t.Prefix, other, name))
		}
		prefixes[t.Prefix] = name
	}
}

// TypeByID looks up a controller model by name, e.g. "KDC101".
func TypeByID(id string) (DeviceType, bool) {
	t, ok := types[id]
	return t, ok
}

// TypeForSerial determines the controller model from the first two digits of
// a serial number.  Unrecognized prefixes return ok=false with a zero
// DeviceType, whose Kind is Unknown.
func TypeForSerial(serial string) (DeviceType, bool) {
	if len(serial) < 2 {
		return DeviceType{}, false
	}
	prefix, err := strconv.Atoi(serial[:2])
	if err != nil {
		return DeviceType{}, false
	}
	id, ok := prefixes[prefix]
	if !ok {
		return DeviceType{}, false
	}
	return types[id], true
}

// Types returns every known controller model, sorted by name.
func Types() []DeviceType {
	out := make([]DeviceType, 0, len(types))
	for _, id := range typeIDs() {
		out = append(out, types[id])
	}
	return out
}

// TypesByKind returns the model names of every controller of the given kind,
// sorted.
func TypesByKind(k Kind) []string {
	out := []string{}
	for _, id := range typeIDs() {
		if types[id].Kind == k {
			out = append(out, id)
		}
	}
	return out
}

func typeIDs() []string {
	ids := make([]string, 0, len(types))
	for id := range types {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stage describes one actuator or stage that can hang off a controller.
// Fields that do not apply to a given family are zero.
type Stage struct {
	// ID is the part number, e.g. "PRM1Z8"
	ID string `json:"id"`

	// Compatible lists the controller models that can drive this stage
	Compatible []string `json:"compatible_controllers"`

	// Description is the vendor's human readable name
	Description string `json:"description"`

	// Travel is the mechanical range in Units, zero when the range is
	// unbounded or not meaningful for the stage
	Travel float64 `json:"travel"`

	// Units is the position unit, one of "deg", "mm", "steps", "V"
	Units string `json:"units"`

	// Continuous is true for rotation stages with no end stops
	Continuous bool `json:"continuous_rotation,omitempty"`

	// MaxVelocity and MaxAccel are the mechanical limits in Units/s and
	// Units/s^2 for servo and brushless stages
	MaxVelocity float64 `json:"velocity_max,omitempty"`
	MaxAccel    float64 `json:"acceleration_max,omitempty"`

	// JogStep is the default jog increment in Units (steps for inertial)
	JogStep float64 `json:"jog_step_default"`

	// HomeDir is "reverse" or "forward", empty when the stage cannot home
	HomeDir string `json:"home_direction,omitempty"`

	// CountsPerUnit is the encoder resolution, zero for open loop stages
	CountsPerUnit float64 `json:"encoder_counts_per_unit,omitempty"`

	// Backlash is the backlash compensation distance in Units
	Backlash float64 `json:"backlash_compensation,omitempty"`

	// StepSize is the displacement per inertial step in mm
	StepSize float64 `json:"step_size,omitempty"`

	// MaxStepRate and MaxStepAccel bound inertial drives in steps/s and steps/s^2
	MaxStepRate  int `json:"step_rate_max,omitempty"`
	MaxStepAccel int `json:"step_acceleration_max,omitempty"`

	// VoltageMin and VoltageMax bound piezo stages in volts
	VoltageMin float64 `json:"voltage_min,omitempty"`
	VoltageMax float64 `json:"voltage_max,omitempty"`
}

var stages = map[string]Stage{
	// rotation, KDC101/TDC001
	"PRM1Z8": {
		ID:            "PRM1Z8",
		Compatible:    []string{"KDC101", "TDC001"},
		Description:   "Motorized Rotation Mount, Ø1\" Optics, 360° Continuous",
		Travel:        360.0,
		Units:         "deg",
		Continuous:    true,
		MaxVelocity:   25.0,
		MaxAccel:      25.0,
		JogStep:       1.0,
		HomeDir:       "reverse",
		CountsPerUnit: 1919.64,
	},
	"PRM1/MZ8": {
		ID:            "PRM1/MZ8",
		Compatible:    []string{"KDC101", "TDC001"},
		Description:   "Motorized Rotation Mount, Ø1\" Optics, Magnetic Encoder",
		Travel:        360.0,
		Units:         "deg",
		Continuous:    true,
		MaxVelocity:   25.0,
		MaxAccel:      25.0,
		JogStep:       1.0,
		HomeDir:       "reverse",
		CountsPerUnit: 1919.64,
	},
	"HDR50": {
		ID:            "HDR50",
		Compatible:    []string{"KDC101", "TDC001"},
		Description:   "Heavy Duty Motorized Rotation Stage, 50mm Aperture",
		Travel:        360.0,
		Units:         "deg",
		Continuous:    true,
		MaxVelocity:   20.0,
		MaxAccel:      20.0,
		JogStep:       1.0,
		HomeDir:       "reverse",
		CountsPerUnit: 4096.0,
	},
	"K10CR1": {
		ID:            "K10CR1",
		Compatible:    []string{"KDC101", "TDC001"},
		Description:   "Motorized Rotation Mount, Cage System Compatible",
		Travel:        360.0,
		Units:         "deg",
		Continuous:    true,
		MaxVelocity:   20.0,
		MaxAccel:      20.0,
		JogStep:       1.0,
		HomeDir:       "reverse",
		CountsPerUnit: 2218.0,
	},
	"DDR25": {
		ID:            "DDR25",
		Compatible:    []string{"KDC101", "TDC001"},
		Description:   "Direct Drive Rotation Stage, 25mm Aperture",
		Travel:        360.0,
		Units:         "deg",
		Continuous:    true,
		MaxVelocity:   180.0,
		MaxAccel:      500.0,
		JogStep:       1.0,
		HomeDir:       "reverse",
		CountsPerUnit: 5555.56,
	},
	"DDR100": {
		ID:            "DDR100",
		Compatible:    []string{"KDC101", "TDC001"},
		Description:   "Direct Drive Rotation Stage, 100mm Aperture",
		Travel:        360.0,
		Units:         "deg",
		Continuous:    true,
		MaxVelocity:   80.0,
		MaxAccel:      200.0,
		JogStep:       1.0,
		HomeDir:       "reverse",
		CountsPerUnit: 5555.56,
	},

	// linear, KDC101/TDC001
	"Z825B": {
		ID:            "Z825B",
		Compatible:    []string{"KDC101", "TDC001"},
		Description:   "Motorized Actuator, 25mm Travel",
		Travel:        25.0,
		Units:         "mm",
		MaxVelocity:   2.3,
		MaxAccel:      1.5,
		JogStep:       0.1,
		HomeDir:       "reverse",
		CountsPerUnit: 34304.0,
		Backlash:      0.012,
	},
	"Z812B": {
		ID:            "Z812B",
		Compatible:    []string{"KDC101", "TDC001"},
		Description:   "Motorized Actuator, 12mm Travel",
		Travel:        12.0,
		Units:         "mm",
		MaxVelocity:   2.3,
		MaxAccel:      1.5,
		JogStep:       0.1,
		HomeDir:       "reverse",
		CountsPerUnit: 34304.0,
		Backlash:      0.012,
	},
	"Z612B": {
		ID:            "Z612B",
		Compatible:    []string{"KDC101", "TDC001"},
		Description:   "Motorized Actuator, 6mm Travel",
		Travel:        6.0,
		Units:         "mm",
		MaxVelocity:   2.3,
		MaxAccel:      1.5,
		JogStep:       0.05,
		HomeDir:       "reverse",
		CountsPerUnit: 34304.0,
		Backlash:      0.012,
	},
	"MTS25-Z8": {
		ID:            "MTS25-Z8",
		Compatible:    []string{"KDC101", "TDC001"},
		Description:   "25mm Motorized Translation Stage",
		Travel:        25.0,
		Units:         "mm",
		MaxVelocity:   2.4,
		MaxAccel:      3.0,
		JogStep:       0.1,
		HomeDir:       "reverse",
		CountsPerUnit: 34555.0,
		Backlash:      0.02,
	},
	"MTS50-Z8": {
		ID:            "MTS50-Z8",
		Compatible:    []string{"KDC101", "TDC001"},
		Description:   "50mm Motorized Translation Stage",
		Travel:        50.0,
		Units:         "mm",
		MaxVelocity:   3.0,
		MaxAccel:      4.5,
		JogStep:       0.1,
		HomeDir:       "reverse",
		CountsPerUnit: 34555.0,
		Backlash:      0.02,
	},
	"LTS150": {
		ID:            "LTS150",
		Compatible:    []string{"KDC101", "TDC001"},
		Description:   "150mm Long Travel Stage",
		Travel:        150.0,
		Units:         "mm",
		MaxVelocity:   3.0,
		MaxAccel:      2.0,
		JogStep:       1.0,
		HomeDir:       "reverse",
		CountsPerUnit: 409600.0,
		Backlash:      0.05,
	},
	"LTS300": {
		ID:            "LTS300",
		Compatible:    []string{"KDC101", "TDC001"},
		Description:   "300mm Long Travel Stage",
		Travel:        300.0,
		Units:         "mm",
		MaxVelocity:   3.0,
		MaxAccel:      2.0,
		JogStep:       1.0,
		HomeDir:       "reverse",
		CountsPerUnit: 409600.0,
		Backlash:      0.05,
	},
	"PT1-Z8": {
		ID:            "PT1-Z8",
		Compatible:    []string{"KDC101", "TDC001"},
		Description:   "25mm Motorized Translation Stage (PT Series)",
		Travel:        25.0,
		Units:         "mm",
		MaxVelocity:   2.6,
		MaxAccel:      4.0,
		JogStep:       0.1,
		HomeDir:       "reverse",
		CountsPerUnit: 34555.0,
		Backlash:      0.02,
	},

	// direct drive, KBD101
	"DDS100": {
		ID:            "DDS100",
		Compatible:    []string{"KBD101"},
		Description:   "100mm Direct Drive Stage",
		Travel:        100.0,
		Units:         "mm",
		MaxVelocity:   500.0,
		MaxAccel:      5000.0,
		JogStep:       1.0,
		HomeDir:       "reverse",
		CountsPerUnit: 20000.0,
	},
	"DDSM100": {
		ID:            "DDSM100",
		Compatible:    []string{"KBD101"},
		Description:   "100mm Direct Drive Stage (M Series)",
		Travel:        100.0,
		Units:         "mm",
		MaxVelocity:   500.0,
		MaxAccel:      5000.0,
		JogStep:       1.0,
		HomeDir:       "reverse",
		CountsPerUnit: 20000.0,
	},
	"DDS220": {
		ID:            "DDS220",
		Compatible:    []string{"KBD101"},
		Description:   "220mm Direct Drive Stage",
		Travel:        220.0,
		Units:         "mm",
		MaxVelocity:   500.0,
		MaxAccel:      5000.0,
		JogStep:       1.0,
		HomeDir:       "reverse",
		CountsPerUnit: 20000.0,
	},
	"DDS300": {
		ID:            "DDS300",
		Compatible:    []string{"KBD101"},
		Description:   "300mm Direct Drive Stage",
		Travel:        300.0,
		Units:         "mm",
		MaxVelocity:   500.0,
		MaxAccel:      5000.0,
		JogStep:       1.0,
		HomeDir:       "reverse",
		CountsPerUnit: 20000.0,
	},
	"DDS600": {
		ID:            "DDS600",
		Compatible:    []string{"KBD101"},
		Description:   "600mm Direct Drive Stage",
		Travel:        600.0,
		Units:         "mm",
		MaxVelocity:   500.0,
		MaxAccel:      5000.0,
		JogStep:       1.0,
		HomeDir:       "reverse",
		CountsPerUnit: 20000.0,
	},

	// inertial, KIM101
	"PIA13": {
		ID:           "PIA13",
		Compatible:   []string{"KIM101"},
		Description:  "Piezo Inertia Actuator, 13mm Travel",
		Travel:       13.0,
		Units:        "mm",
		StepSize:     0.00002,
		MaxStepRate:  2000,
		MaxStepAccel: 100000,
		JogStep:      100,
	},
	"PIA25": {
		ID:           "PIA25",
		Compatible:   []string{"KIM101"},
		Description:  "Piezo Inertia Actuator, 25mm Travel",
		Travel:       25.0,
		Units:        "mm",
		StepSize:     0.00002,
		MaxStepRate:  2000,
		MaxStepAccel: 100000,
		JogStep:      100,
	},
	"PIA50": {
		ID:           "PIA50",
		Compatible:   []string{"KIM101"},
		Description:  "Piezo Inertia Actuator, 50mm Travel",
		Travel:       50.0,
		Units:        "mm",
		StepSize:     0.00002,
		MaxStepRate:  2000,
		MaxStepAccel: 100000,
		JogStep:      100,
	},
	"PIAK10": {
		ID:           "PIAK10",
		Compatible:   []string{"KIM101"},
		Description:  "Piezo Inertia Actuator for K10CR Mirror Mount",
		Units:        "steps",
		StepSize:     0.00002,
		MaxStepRate:  2000,
		MaxStepAccel: 100000,
		JogStep:      100,
	},
	"PIAK25": {
		ID:           "PIAK25",
		Compatible:   []string{"KIM101"},
		Description:  "Piezo Inertia Actuator for Larger Mirror Mounts",
		Units:        "steps",
		StepSize:     0.00002,
		MaxStepRate:  2000,
		MaxStepAccel: 100000,
		JogStep:      100,
	},

	// piezo, KPZ101/TPZ001
	"PK4FA7P1": {
		ID:          "PK4FA7P1",
		Compatible:  []string{"KPZ101", "TPZ001"},
		Description: "Piezo Stack Actuator, 7µm Travel",
		Travel:      0.007,
		Units:       "mm",
		VoltageMin:  0,
		VoltageMax:  75,
		JogStep:     0.001,
	},
	"PAZ005": {
		ID:          "PAZ005",
		Compatible:  []string{"KPZ101", "TPZ001"},
		Description: "Amplified Piezo Actuator, 5µm Travel",
		Travel:      0.005,
		Units:       "mm",
		VoltageMin:  0,
		VoltageMax:  75,
		JogStep:     0.0005,
	},
	"PAZ015": {
		ID:          "PAZ015",
		Compatible:  []string{"KPZ101", "TPZ001"},
		Description: "Amplified Piezo Actuator, 15µm Travel",
		Travel:      0.015,
		Units:       "mm",
		VoltageMin:  0,
		VoltageMax:  150,
		JogStep:     0.001,
	},
	"POLARIS-K1PZ": {
		ID:          "POLARIS-K1PZ",
		Compatible:  []string{"KPZ101", "TPZ001"},
		Description: "Piezo Mirror Mount, 1\" Optic",
		Units:       "V",
		VoltageMin:  0,
		VoltageMax:  75,
		JogStep:     1.0,
	},
}

// StageByID looks up a stage by part number.
func StageByID(id string) (Stage, bool) {
	s, ok := stages[id]
	return s, ok
}

// Stages returns every known stage, sorted by part number.
func Stages() []Stage {
	out := make([]Stage, 0, len(stages))
	for _, id := range stageIDs() {
		out = append(out, stages[id])
	}
	return out
}

// CompatibleStages returns the part numbers of every stage the given
// controller model can drive, sorted.
func CompatibleStages(typeID string) []string {
	out := []string{}
	for _, id := range stageIDs() {
		for _, c := range stages[id].Compatible {
			if c == typeID {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

func stageIDs() []string {
	ids := make([]string, 0, len(stages))
	for id := range stages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks whether a stage can be driven by a controller model.  The
// message is human readable and suitable to surface directly; ok=false with
// a populated message is a warning, not an error, and callers are expected
// to proceed anyway after logging it.
func Validate(stageID, typeID string) (bool, string) {
	s, known := stages[stageID]
	if !known {
		return false, fmt.Sprintf("Unknown stage: %s", stageID)
	}
	for _, c := range s.Compatible {
		if c == typeID {
			return true, fmt.Sprintf("%s is compatible with %s", stageID, typeID)
		}
	}
	return false, fmt.Sprintf("%s requires %s, but controller is %s",
		stageID, strings.Join(s.Compatible, " or "), typeID)
}

// normalizeStageName uppercases a reported stage name and strips the metric
// part number suffixes so that e.g. "MTS50-Z8/M" compares equal to
// "MTS50-Z8".
func normalizeStageName(name string) string {
	name = strings.ToUpper(name)
	name = strings.Replace(name, "/M", "", -1)
	name = strings.Replace(name, "-M", "", -1)
	return name
}

// MatchStageName resolves the stage name a device reports from its EEPROM
// against the known stage table.  Exact matches win; otherwise the reported
// name is normalized and matched by containment in either direction.  The
// search order is deterministic.
func MatchStageName(reported string) (string, bool) {
	if reported == "" {
		return "", false
	}
	if _, ok := stages[reported]; ok {
		return reported, true
	}
	norm := normalizeStageName(reported)
	for _, id := range stageIDs() {
		known := strings.ToUpper(id)
		if strings.Contains(norm, known) || strings.Contains(known, norm) {
			return id, true
		}
	}
	return "", false
}
