package binder

import (
	"encoding/binary"
	"path"
)

// Protocol is the RPC-header dialect of a binder domain. Outbound
// requests are prefixed with an interface token; the symmetric extractor
// recovers the token from inbound payloads so transactions can be routed
// by interface. Dialects are collaborators of the core; the session only
// selects one by device path at open time.
type Protocol interface {
	Name() string

	// WriteRPCHeader prefixes an outbound request with the dialect's
	// interface token. Must be the first write into the request.
	WriteRPCHeader(req *LocalRequest, iface string)

	// ExtractInterface recovers the interface token from an inbound
	// payload, or "" when no valid header is present.
	ExtractInterface(payload []byte) string
}

// protocolForDevice picks the dialect by device basename. The hardware
// domain speaks the bare token dialect; everything else gets the default
// dialect with its strict-mode word.
func protocolForDevice(dev string) Protocol {
	if path.Base(dev) == "hwbinder" {
		return hwProtocol{}
	}
	return defaultProtocol{}
}

// strictModeWord is the policy word the default dialect places before the
// interface token.
const strictModeWord = 0x100

// defaultProtocol is the dialect of /dev/binder and /dev/vndbinder:
// a strict-mode policy word, then the length-prefixed interface token,
// padded to a 4-byte boundary.
type defaultProtocol struct{}

func (defaultProtocol) Name() string { return "aidl" }

func (defaultProtocol) WriteRPCHeader(req *LocalRequest, iface string) {
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], strictModeWord)
	req.Append(word[:])
	appendToken(req, iface)
}

func (defaultProtocol) ExtractInterface(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	return extractToken(payload[4:])
}

// hwProtocol is the dialect of /dev/hwbinder: the bare length-prefixed
// interface token, no policy word.
type hwProtocol struct{}

func (hwProtocol) Name() string { return "hidl" }

func (hwProtocol) WriteRPCHeader(req *LocalRequest, iface string) {
	appendToken(req, iface)
}

func (hwProtocol) ExtractInterface(payload []byte) string {
	return extractToken(payload)
}

func appendToken(req *LocalRequest, iface string) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(iface)))
	req.Append(n[:])
	req.Append([]byte(iface))
	if pad := (4 - len(iface)%4) % 4; pad > 0 {
		req.Append(make([]byte, pad))
	}
}

func extractToken(b []byte) string {
	if len(b) < 4 {
		return ""
	}
	n := binary.LittleEndian.Uint32(b)
	if n == 0 || uint64(n) > uint64(len(b)-4) {
		return ""
	}
	return string(b[4 : 4+n])
}
