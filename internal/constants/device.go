package constants

// Capability is a sensing capability of an X-Sense device.
type Capability string

const (
	CapabilitySmoke          Capability = "smoke"
	CapabilityCarbonMonoxide Capability = "co"
)

// ModelCapabilities maps a device model prefix to what the device can sense.
// Models not listed are assumed to sense both.
var ModelCapabilities = []struct {
	Prefix       string
	Capabilities []Capability
}{
	{"SC06-WX", []Capability{CapabilitySmoke, CapabilityCarbonMonoxide}},
	{"SC07-WX", []Capability{CapabilitySmoke, CapabilityCarbonMonoxide}},
	{"XP0A-MR", []Capability{CapabilitySmoke, CapabilityCarbonMonoxide}},
	{"XC0C-iR", []Capability{CapabilityCarbonMonoxide}},
	{"XC01-M", []Capability{CapabilityCarbonMonoxide}},
	{"XC04-WX", []Capability{CapabilityCarbonMonoxide}},
	{"XP02S-MR", []Capability{CapabilitySmoke}},
	{"XS01-M", []Capability{CapabilitySmoke}},
	{"XS01-WX", []Capability{CapabilitySmoke}},
	{"XS03-iWX", []Capability{CapabilitySmoke}},
	{"XS03-WX", []Capability{CapabilitySmoke}},
	{"XS0D-MR", []Capability{CapabilitySmoke}},
}
