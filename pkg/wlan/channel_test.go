package wlan

import "testing"

func TestCenterFreq1Offsets(t *testing.T) {
	tests := []struct {
		name    string
		primary uint32
		width   ChannelWidth
		want    uint32
	}{
		{"20MHz no offset", 5180, CBW20, 5180},
		{"40MHz above", 5180, CBW40Above, 5190},
		{"40MHz below", 5200, CBW40Below, 5190},
		{"80MHz", 5180, CBW80, 5210},
		{"80+80MHz segment 1", 5180, CBW80P80, 5210},
		{"160MHz", 5180, CBW160, 5250},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CenterFreq1(tt.primary, tt.width); got != tt.want {
				t.Errorf("CenterFreq1(%d, %s) = %d, want %d",
					tt.primary, tt.width, got, tt.want)
			}
		})
	}
}

func TestChannelDescCenterFreq1(t *testing.T) {
	d := ChannelDesc{
		Channel: Channel{Band: Band5GHz, Number: 36, FreqMHz: 5180},
		Width:   CBW80,
	}
	if got := d.CenterFreq1(); got != 5210 {
		t.Errorf("CenterFreq1() = %d, want 5210", got)
	}
}

func TestChannelFlags(t *testing.T) {
	dfs := Channel{Number: 52, FreqMHz: 5260, Flags: ChanFlagDFS}
	if !dfs.Radar() {
		t.Error("Radar() = false for DFS channel")
	}
	if dfs.Passive() {
		t.Error("Passive() = true without NoIR flag")
	}

	noIR := Channel{Number: 100, FreqMHz: 5500, Flags: ChanFlagNoIR}
	if !noIR.Passive() {
		t.Error("Passive() = false for NoIR channel")
	}
}

func TestDerivePHYMode(t *testing.T) {
	ch2g := Channel{Band: Band2GHz, Number: 6, FreqMHz: 2437}
	ch5g := Channel{Band: Band5GHz, Number: 36, FreqMHz: 5180}

	tests := []struct {
		name       string
		desc       ChannelDesc
		ht, vht    bool
		legacyOnly bool
		want       PHYMode
	}{
		{"2.4GHz legacy DSSS", ChannelDesc{Channel: ch2g, Width: CBW20}, false, false, true, Mode11B},
		{"2.4GHz legacy OFDM", ChannelDesc{Channel: ch2g, Width: CBW20}, false, false, false, Mode11G},
		{"5GHz legacy", ChannelDesc{Channel: ch5g, Width: CBW20}, false, false, false, Mode11A},
		{"2.4GHz HT20", ChannelDesc{Channel: ch2g, Width: CBW20}, true, false, false, Mode11NG_HT20},
		{"2.4GHz HT40", ChannelDesc{Channel: ch2g, Width: CBW40Above}, true, false, false, Mode11NG_HT40},
		{"5GHz HT40", ChannelDesc{Channel: ch5g, Width: CBW40Below}, true, false, false, Mode11NA_HT40},
		{"5GHz VHT80", ChannelDesc{Channel: ch5g, Width: CBW80}, true, true, false, Mode11AC_VHT80},
		{"5GHz VHT160", ChannelDesc{Channel: ch5g, Width: CBW160}, true, true, false, Mode11AC_VHT160},
		{"VHT ignored on 2.4GHz", ChannelDesc{Channel: ch2g, Width: CBW20}, true, true, false, Mode11NG_HT20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DerivePHYMode(tt.desc, tt.ht, tt.vht, tt.legacyOnly)
			if got != tt.want {
				t.Errorf("DerivePHYMode() = %s, want %s", got, tt.want)
			}
		})
	}
}
