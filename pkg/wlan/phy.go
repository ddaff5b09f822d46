package wlan

import "fmt"

// PHYMode is the negotiated physical-layer mode pushed to firmware with the
// peer-association parameters.
type PHYMode int

const (
	Mode11B PHYMode = iota
	Mode11G
	Mode11A
	Mode11NG_HT20
	Mode11NG_HT40
	Mode11NA_HT20
	Mode11NA_HT40
	Mode11AC_VHT20
	Mode11AC_VHT40
	Mode11AC_VHT80
	Mode11AC_VHT160
	Mode11AC_VHT80P80
)

// String returns the string representation of a PHYMode.
func (m PHYMode) String() string {
	switch m {
	case Mode11B:
		return "11b"
	case Mode11G:
		return "11g"
	case Mode11A:
		return "11a"
	case Mode11NG_HT20:
		return "11ng-ht20"
	case Mode11NG_HT40:
		return "11ng-ht40"
	case Mode11NA_HT20:
		return "11na-ht20"
	case Mode11NA_HT40:
		return "11na-ht40"
	case Mode11AC_VHT20:
		return "11ac-vht20"
	case Mode11AC_VHT40:
		return "11ac-vht40"
	case Mode11AC_VHT80:
		return "11ac-vht80"
	case Mode11AC_VHT160:
		return "11ac-vht160"
	case Mode11AC_VHT80P80:
		return "11ac-vht80+80"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// DerivePHYMode selects the PHY mode for a channel descriptor and the peer's
// negotiated HT/VHT support. Legacy-only peers on 2.4 GHz get 11g (11b when
// the peer advertised only DSSS rates, which the caller signals via
// legacyOnly).
func DerivePHYMode(d ChannelDesc, ht, vht, legacyOnly bool) PHYMode {
	is2G := d.Channel.Band == Band2GHz

	if vht && !is2G {
		switch d.Width {
		case CBW160:
			return Mode11AC_VHT160
		case CBW80P80:
			return Mode11AC_VHT80P80
		case CBW80:
			return Mode11AC_VHT80
		case CBW40Above, CBW40Below:
			return Mode11AC_VHT40
		default:
			return Mode11AC_VHT20
		}
	}

	if ht {
		wide := d.Width == CBW40Above || d.Width == CBW40Below
		if is2G {
			if wide {
				return Mode11NG_HT40
			}
			return Mode11NG_HT20
		}
		if wide {
			return Mode11NA_HT40
		}
		return Mode11NA_HT20
	}

	if is2G {
		if legacyOnly {
			return Mode11B
		}
		return Mode11G
	}
	return Mode11A
}
