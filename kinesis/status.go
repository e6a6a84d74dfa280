package kinesis

// Status is the 32-bit device status word the gateway reports, using the
// vendor's standard bit assignments.  Bits not broken out here are
// reserved or model-specific.
type Status uint32

func (s Status) FwdLimit() bool   { return s&0x00000001 != 0 }
func (s Status) RevLimit() bool   { return s&0x00000002 != 0 }
func (s Status) MovingFwd() bool  { return s&0x00000010 != 0 }
func (s Status) MovingRev() bool  { return s&0x00000020 != 0 }
func (s Status) JoggingFwd() bool { return s&0x00000040 != 0 }
func (s Status) JoggingRev() bool { return s&0x00000080 != 0 }
func (s Status) Homing() bool     { return s&0x00000200 != 0 }
func (s Status) Homed() bool      { return s&0x00000400 != 0 }
func (s Status) Enabled() bool    { return s&0x80000000 != 0 }

// Moving folds every motion bit, homing included
func (s Status) Moving() bool {
	return s.MovingFwd() || s.MovingRev() || s.JoggingFwd() || s.JoggingRev() || s.Homing()
}
