package packet

import (
	"bytes"
	"io"
)

// PublishPacket carries a topic and payload at a given QoS.
type PublishPacket struct {
	Dup      bool
	QoS      byte
	Retain   bool
	Topic    string
	PacketID uint16
	Payload  []byte
}

func (p *PublishPacket) Type() Type { return PUBLISH }

func (p *PublishPacket) Encode() []byte {
	var body bytes.Buffer
	body.Write(writeUTF8String(p.Topic))
	if p.QoS > 0 {
		body.Write(writeU16(p.PacketID))
	}
	body.Write(p.Payload)

	var flags byte
	if p.Retain {
		flags |= 0x01
	}
	flags |= (p.QoS & 0x03) << 1
	if p.Dup {
		flags |= 0x08
	}
	return append(writeFixedHeader(PUBLISH, flags, body.Len()), body.Bytes()...)
}

func decodePublish(r io.Reader, flags byte) (*PublishPacket, error) {
	pkt := &PublishPacket{
		Dup:    flags&0x08 != 0,
		QoS:    (flags >> 1) & 0x03,
		Retain: flags&0x01 != 0,
	}
	topic, err := readUTF8String(r)
	if err != nil {
		return nil, err
	}
	pkt.Topic = topic

	if pkt.QoS > 0 {
		id, err := readU16(r)
		if err != nil {
			return nil, err
		}
		pkt.PacketID = id
	}

	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	pkt.Payload = payload
	return pkt, nil
}

// idAckPacket is the shape shared by PUBACK, PUBREC, PUBREL and PUBCOMP:
// a fixed header and a bare packet id.
type idAckPacket struct {
	packetType Type
	PacketID   uint16
}

func (p idAckPacket) Encode() []byte {
	return append(writeFixedHeader(p.packetType, flagsFor(p.packetType), 2), writeU16(p.PacketID)...)
}

// flagsFor returns the fixed flag nibble PUBREL requires (0x02); every
// other packet type in this family uses 0.
func flagsFor(t Type) byte {
	if t == PUBREL {
		return 0x02
	}
	return 0
}

func decodeIDAck(r io.Reader) (uint16, error) {
	return readU16(r)
}

// PubackPacket acknowledges a QoS 1 PUBLISH.
type PubackPacket struct{ PacketID uint16 }

func (p *PubackPacket) Type() Type   { return PUBACK }
func (p *PubackPacket) Encode() []byte { return idAckPacket{PUBACK, p.PacketID}.Encode() }

func decodePuback(r io.Reader) (*PubackPacket, error) {
	id, err := decodeIDAck(r)
	if err != nil {
		return nil, err
	}
	return &PubackPacket{PacketID: id}, nil
}

// PubrecPacket is the first half of the QoS 2 handshake, sent by the
// receiver.
type PubrecPacket struct{ PacketID uint16 }

func (p *PubrecPacket) Type() Type   { return PUBREC }
func (p *PubrecPacket) Encode() []byte { return idAckPacket{PUBREC, p.PacketID}.Encode() }

func decodePubrec(r io.Reader) (*PubrecPacket, error) {
	id, err := decodeIDAck(r)
	if err != nil {
		return nil, err
	}
	return &PubrecPacket{PacketID: id}, nil
}

// PubrelPacket is the second half of the QoS 2 handshake, sent by the
// original publisher in response to PUBREC.
type PubrelPacket struct{ PacketID uint16 }

func (p *PubrelPacket) Type() Type   { return PUBREL }
func (p *PubrelPacket) Encode() []byte { return idAckPacket{PUBREL, p.PacketID}.Encode() }

func decodePubrel(r io.Reader) (*PubrelPacket, error) {
	id, err := decodeIDAck(r)
	if err != nil {
		return nil, err
	}
	return &PubrelPacket{PacketID: id}, nil
}

// PubcompPacket completes the QoS 2 handshake.
type PubcompPacket struct{ PacketID uint16 }

func (p *PubcompPacket) Type() Type   { return PUBCOMP }
func (p *PubcompPacket) Encode() []byte { return idAckPacket{PUBCOMP, p.PacketID}.Encode() }

func decodePubcomp(r io.Reader) (*PubcompPacket, error) {
	id, err := decodeIDAck(r)
	if err != nil {
		return nil, err
	}
	return &PubcompPacket{PacketID: id}, nil
}
