package apt

import "github.com/google/gousb"

// TLVID is the vendor's USB vendor ID
const TLVID = 0x1313

// usbPresent reports whether any device from the vendor is on the bus.
// The scan matches descriptors without opening anything; a present device
// is enough to consider the legacy runtime usable on this host.
func usbPresent() bool {
	ctx := gousb.NewContext()
	defer ctx.Close()
	found := false
	devs, _ := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor == gousb.ID(TLVID) {
			found = true
		}
		return false
	})
	for _, d := range devs {
		d.Close()
	}
	return found
}
