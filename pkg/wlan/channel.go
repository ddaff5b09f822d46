// Package wlan holds the shared 802.11 model types used across the driver
// core: channels and bandwidths, vdev roles, cipher suites, PHY modes, and
// management-frame parsing. Everything here is pure data and pure functions;
// no package in wlan talks to firmware.
package wlan

import "fmt"

// Band identifies a radio frequency band.
type Band int

const (
	Band2GHz Band = iota
	Band5GHz
	Band6GHz
)

// String returns the string representation of a Band.
func (b Band) String() string {
	switch b {
	case Band2GHz:
		return "2.4GHz"
	case Band5GHz:
		return "5GHz"
	case Band6GHz:
		return "6GHz"
	default:
		return fmt.Sprintf("unknown(%d)", int(b))
	}
}

// Channel flags reported by the regulatory/channel table.
const (
	ChanFlagDFS       = 1 << 0 // Radar detection required before transmit.
	ChanFlagNoIR      = 1 << 1 // Passive scan only; no initiating radiation.
	ChanFlagDisabled  = 1 << 2
	ChanFlagHT40Plus  = 1 << 3
	ChanFlagHT40Minus = 1 << 4
)

// Channel is one entry of the externally supplied channel table.
type Channel struct {
	Band    Band   `yaml:"band"`
	Number  int    `yaml:"number"`
	FreqMHz uint32 `yaml:"freq_mhz"`
	Flags   uint32 `yaml:"flags"`
	// MaxPowerDBm is the regulatory transmit-power ceiling.
	MaxPowerDBm int `yaml:"max_power_dbm"`
}

// Radar reports whether the channel requires a channel-availability check
// before transmitting.
func (c Channel) Radar() bool { return c.Flags&ChanFlagDFS != 0 }

// Passive reports whether active probing is forbidden on the channel.
func (c Channel) Passive() bool { return c.Flags&ChanFlagNoIR != 0 }

func (c Channel) String() string {
	return fmt.Sprintf("ch%d (%d MHz, %s)", c.Number, c.FreqMHz, c.Band)
}

// ChannelWidth is the operating bandwidth of a channel descriptor.
type ChannelWidth int

const (
	CBW20 ChannelWidth = iota
	CBW40Above
	CBW40Below
	CBW80
	CBW160
	CBW80P80
)

// String returns the string representation of a ChannelWidth.
func (w ChannelWidth) String() string {
	switch w {
	case CBW20:
		return "20MHz"
	case CBW40Above:
		return "40MHz+"
	case CBW40Below:
		return "40MHz-"
	case CBW80:
		return "80MHz"
	case CBW160:
		return "160MHz"
	case CBW80P80:
		return "80+80MHz"
	default:
		return fmt.Sprintf("unknown(%d)", int(w))
	}
}

// CenterFreq1 computes the segment-1 center frequency for a primary channel
// frequency and bandwidth. The offsets are protocol-defined constants: the
// firmware expects exactly these values, they are not derived from channel
// geometry at runtime.
func CenterFreq1(primaryMHz uint32, w ChannelWidth) uint32 {
	switch w {
	case CBW40Above:
		return primaryMHz + 10
	case CBW40Below:
		return primaryMHz - 10
	case CBW80, CBW80P80:
		return primaryMHz + 30
	case CBW160:
		return primaryMHz + 70
	default:
		return primaryMHz
	}
}

// ChannelDesc is the channel descriptor handed to vdev start/restart. For
// CBW80P80 the caller supplies the second segment's center frequency; for
// every other width CenterFreq2MHz is zero.
type ChannelDesc struct {
	Channel        Channel
	Width          ChannelWidth
	CenterFreq2MHz uint32
}

// CenterFreq1 returns the segment-1 center frequency of the descriptor.
func (d ChannelDesc) CenterFreq1() uint32 {
	return CenterFreq1(d.Channel.FreqMHz, d.Width)
}
