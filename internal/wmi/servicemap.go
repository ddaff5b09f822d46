package wmi

// Service is one optional firmware capability advertised in the service
// bitmap exchanged at connection time. Optional behaviors in the driver are
// gated on the corresponding bit, never assumed.
type Service int

const (
	ServiceScanOffload Service = iota
	ServiceBeaconOffload
	ServiceRoamOffload
	ServiceTDLS
	ServiceExtResourceConfig
	ServiceRadarDetect
	ServiceStaPSWorkaround

	serviceMax
)

const serviceMapWords = (int(serviceMax) + 31) / 32

// ServiceMap is the fixed-size capability bit vector supplied by firmware.
type ServiceMap struct {
	bits [serviceMapWords]uint32
}

// NewServiceMap builds a ServiceMap from the raw bitmap words of the
// service-ready event. Extra words are ignored; missing words read as zero.
func NewServiceMap(words []uint32) ServiceMap {
	var m ServiceMap
	copy(m.bits[:], words)
	return m
}

// Has reports whether the firmware advertised the service.
func (m ServiceMap) Has(s Service) bool {
	if s < 0 || s >= serviceMax {
		return false
	}
	return m.bits[int(s)/32]&(1<<(uint(s)%32)) != 0
}

// With returns a copy of the map with the service bit set. Used by tests
// and the simulator to assemble capability sets.
func (m ServiceMap) With(s Service) ServiceMap {
	if s >= 0 && s < serviceMax {
		m.bits[int(s)/32] |= 1 << (uint(s) % 32)
	}
	return m
}

// Words returns the raw bitmap words.
func (m ServiceMap) Words() []uint32 {
	out := make([]uint32, serviceMapWords)
	copy(out, m.bits[:])
	return out
}
