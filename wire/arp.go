package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ARP opcodes, per RFC 826.
const (
	ARPOpRequest uint16 = 1
	ARPOpReply   uint16 = 2
)

const (
	arpHardwareTypeEthernet uint16 = 1
	arpProtocolTypeIPv4     uint16 = 0x0800
	arpMessageLen                  = 28
)

// ARPMessage is an ARP request or reply for Ethernet/IPv4.
type ARPMessage struct {
	Opcode             uint16
	SenderEthernetAddr EthernetAddress
	SenderIP           uint32
	TargetEthernetAddr EthernetAddress
	TargetIP           uint32
}

// EncodeARPMessage serializes an ARP message to wire bytes.
func EncodeARPMessage(m ARPMessage) []byte {
	buf := make([]byte, arpMessageLen)
	binary.BigEndian.PutUint16(buf[0:2], arpHardwareTypeEthernet)
	binary.BigEndian.PutUint16(buf[2:4], arpProtocolTypeIPv4)
	buf[4] = 6 // hardware address length
	buf[5] = 4 // protocol address length
	binary.BigEndian.PutUint16(buf[6:8], m.Opcode)
	copy(buf[8:14], m.SenderEthernetAddr[:])
	binary.BigEndian.PutUint32(buf[14:18], m.SenderIP)
	copy(buf[18:24], m.TargetEthernetAddr[:])
	binary.BigEndian.PutUint32(buf[24:28], m.TargetIP)
	return buf
}

// DecodeARPMessage parses wire bytes into an ARP message. Messages with an
// unsupported hardware/protocol type are rejected rather than silently
// misinterpreted.
func DecodeARPMessage(data []byte) (ARPMessage, error) {
	if len(data) < arpMessageLen {
		return ARPMessage{}, errors.Errorf("arp message too short: %d bytes", len(data))
	}
	hwType := binary.BigEndian.Uint16(data[0:2])
	protoType := binary.BigEndian.Uint16(data[2:4])
	if hwType != arpHardwareTypeEthernet || protoType != arpProtocolTypeIPv4 || data[4] != 6 || data[5] != 4 {
		return ARPMessage{}, errors.New("unsupported arp hardware/protocol type")
	}
	var m ARPMessage
	m.Opcode = binary.BigEndian.Uint16(data[6:8])
	copy(m.SenderEthernetAddr[:], data[8:14])
	m.SenderIP = binary.BigEndian.Uint32(data[14:18])
	copy(m.TargetEthernetAddr[:], data[18:24])
	m.TargetIP = binary.BigEndian.Uint32(data[24:28])
	return m, nil
}
