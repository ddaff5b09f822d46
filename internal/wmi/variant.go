package wmi

import "fmt"

// Variant identifies one of the incompatible WMI command-id spaces. It is
// negotiated once, when the firmware's service-ready event arrives, and is
// immutable for the life of the connection.
type Variant int

const (
	VariantMain Variant = iota
	Variant10_1
	Variant10_2
	Variant10_4
	VariantTLV
)

// String returns the string representation of a Variant.
func (v Variant) String() string {
	switch v {
	case VariantMain:
		return "main"
	case Variant10_1:
		return "10.1"
	case Variant10_2:
		return "10.2"
	case Variant10_4:
		return "10.4"
	case VariantTLV:
		return "tlv"
	default:
		return fmt.Sprintf("unknown(%d)", int(v))
	}
}

// Op is a logical WMI operation, independent of any variant's numbering.
type Op int

const (
	OpVdevCreate Op = iota
	OpVdevDelete
	OpVdevStart
	OpVdevRestart
	OpVdevStop
	OpVdevUp
	OpVdevDown
	OpPeerCreate
	OpPeerDelete
	OpPeerAssoc
	OpPeerSetParam
	OpKeyInstall
	OpScanStart
	OpScanStop
	OpSetTxPower
	OpSetRegDomain
	OpExtResourceConfig
)

// String returns the string representation of an Op.
func (o Op) String() string {
	switch o {
	case OpVdevCreate:
		return "vdev-create"
	case OpVdevDelete:
		return "vdev-delete"
	case OpVdevStart:
		return "vdev-start"
	case OpVdevRestart:
		return "vdev-restart"
	case OpVdevStop:
		return "vdev-stop"
	case OpVdevUp:
		return "vdev-up"
	case OpVdevDown:
		return "vdev-down"
	case OpPeerCreate:
		return "peer-create"
	case OpPeerDelete:
		return "peer-delete"
	case OpPeerAssoc:
		return "peer-assoc"
	case OpPeerSetParam:
		return "peer-set-param"
	case OpKeyInstall:
		return "key-install"
	case OpScanStart:
		return "scan-start"
	case OpScanStop:
		return "scan-stop"
	case OpSetTxPower:
		return "set-tx-power"
	case OpSetRegDomain:
		return "set-regdomain"
	case OpExtResourceConfig:
		return "ext-resource-config"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// Command ids are 24-bit values. Each variant numbers the same logical
// operations differently; a missing entry means the variant has no
// equivalent command.
const cmdIDMask = 0x00ffffff

// cmdTables maps each variant to its command-id table. The tables are the
// whole of protocol-version handling: nothing outside this file branches on
// wire numbering.
var cmdTables = map[Variant]map[Op]uint32{
	VariantMain: {
		OpVdevCreate:   0x9100,
		OpVdevDelete:   0x9101,
		OpVdevStart:    0x9102,
		OpVdevRestart:  0x9103,
		OpVdevStop:     0x9104,
		OpVdevUp:       0x9105,
		OpVdevDown:     0x9106,
		OpPeerCreate:   0x9200,
		OpPeerDelete:   0x9201,
		OpPeerAssoc:    0x9202,
		OpPeerSetParam: 0x9203,
		OpKeyInstall:   0x9300,
		OpScanStart:    0x9001,
		OpScanStop:     0x9002,
		OpSetTxPower:   0x9400,
		OpSetRegDomain: 0x9401,
	},
	Variant10_1: {
		OpVdevCreate:   0x9402,
		OpVdevDelete:   0x9403,
		OpVdevStart:    0x9404,
		OpVdevRestart:  0x9405,
		OpVdevStop:     0x9406,
		OpVdevUp:       0x9407,
		OpVdevDown:     0x9408,
		OpPeerCreate:   0x9500,
		OpPeerDelete:   0x9501,
		OpPeerAssoc:    0x9502,
		OpPeerSetParam: 0x9503,
		OpKeyInstall:   0x9600,
		OpScanStart:    0x9801,
		OpScanStop:     0x9802,
		OpSetTxPower:   0x9700,
		OpSetRegDomain: 0x9701,
	},
	Variant10_4: {
		OpVdevCreate:        0xa100,
		OpVdevDelete:        0xa101,
		OpVdevStart:         0xa102,
		OpVdevRestart:       0xa103,
		OpVdevStop:          0xa104,
		OpVdevUp:            0xa105,
		OpVdevDown:          0xa106,
		OpPeerCreate:        0xa200,
		OpPeerDelete:        0xa201,
		OpPeerAssoc:         0xa202,
		OpPeerSetParam:      0xa203,
		OpKeyInstall:        0xa300,
		OpScanStart:         0xa001,
		OpScanStop:          0xa002,
		OpSetTxPower:        0xa400,
		OpSetRegDomain:      0xa401,
		OpExtResourceConfig: 0xa402,
	},
	VariantTLV: {
		OpVdevCreate:        0x010100,
		OpVdevDelete:        0x010101,
		OpVdevStart:         0x010102,
		OpVdevRestart:       0x010103,
		OpVdevStop:          0x010104,
		OpVdevUp:            0x010105,
		OpVdevDown:          0x010106,
		OpPeerCreate:        0x010200,
		OpPeerDelete:        0x010201,
		OpPeerAssoc:         0x010202,
		OpPeerSetParam:      0x010203,
		OpKeyInstall:        0x010300,
		OpScanStart:         0x010001,
		OpScanStop:          0x010002,
		OpSetTxPower:        0x010400,
		OpSetRegDomain:      0x010401,
		OpExtResourceConfig: 0x010402,
	},
}

func init() {
	// 10.2 is 10.1 with a handful of renumbered peer commands.
	t := make(map[Op]uint32, len(cmdTables[Variant10_1]))
	for op, id := range cmdTables[Variant10_1] {
		t[op] = id
	}
	t[OpPeerAssoc] = 0x9504
	t[OpKeyInstall] = 0x9601
	cmdTables[Variant10_2] = t
}

// CommandID resolves op in the variant's id space. ok is false when the
// variant has no equivalent command.
func (v Variant) CommandID(op Op) (uint32, bool) {
	id, ok := cmdTables[v][op]
	return id & cmdIDMask, ok
}

// Supports reports whether the variant defines a command for op.
func (v Variant) Supports(op Op) bool {
	_, ok := cmdTables[v][op]
	return ok
}
