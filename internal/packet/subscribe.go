package packet

import (
	"bytes"
	"io"
)

// SubFailure is the SUBACK return code for a rejected subscription request.
const SubFailure byte = 0x80

// Subscription is one (filter, requested qos) pair within a SUBSCRIBE.
type Subscription struct {
	Filter string
	QoS    byte
}

// SubscribePacket requests one or more topic subscriptions.
type SubscribePacket struct {
	PacketID uint16
	Subs     []Subscription
}

func (s *SubscribePacket) Type() Type { return SUBSCRIBE }

func (s *SubscribePacket) Encode() []byte {
	var body bytes.Buffer
	body.Write(writeU16(s.PacketID))
	for _, sub := range s.Subs {
		body.Write(writeUTF8String(sub.Filter))
		body.Write(writeU8(sub.QoS))
	}
	return append(writeFixedHeader(SUBSCRIBE, 0x02, body.Len()), body.Bytes()...)
}

func decodeSubscribe(r io.Reader) (*SubscribePacket, error) {
	pkt := &SubscribePacket{}
	id, err := readU16(r)
	if err != nil {
		return nil, err
	}
	pkt.PacketID = id

	for {
		filter, err := readUTF8String(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		qos, err := readU8(r)
		if err != nil {
			return nil, err
		}
		pkt.Subs = append(pkt.Subs, Subscription{Filter: filter, QoS: qos})
	}
	return pkt, nil
}

// SubackPacket carries, in order, the outcome of each request in a
// SUBSCRIBE: an accepted qos or SubFailure.
type SubackPacket struct {
	PacketID    uint16
	ReturnCodes []byte
}

func (s *SubackPacket) Type() Type { return SUBACK }

func (s *SubackPacket) Encode() []byte {
	body := make([]byte, 2+len(s.ReturnCodes))
	copy(body, writeU16(s.PacketID))
	copy(body[2:], s.ReturnCodes)
	return append(writeFixedHeader(SUBACK, 0, len(body)), body...)
}

func decodeSuback(r io.Reader) (*SubackPacket, error) {
	id, err := readU16(r)
	if err != nil {
		return nil, err
	}
	codes, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return &SubackPacket{PacketID: id, ReturnCodes: codes}, nil
}

// UnsubscribePacket removes one or more filters.
type UnsubscribePacket struct {
	PacketID uint16
	Filters  []string
}

func (u *UnsubscribePacket) Type() Type { return UNSUBSCRIBE }

func (u *UnsubscribePacket) Encode() []byte {
	var body bytes.Buffer
	body.Write(writeU16(u.PacketID))
	for _, f := range u.Filters {
		body.Write(writeUTF8String(f))
	}
	return append(writeFixedHeader(UNSUBSCRIBE, 0x02, body.Len()), body.Bytes()...)
}

func decodeUnsubscribe(r io.Reader) (*UnsubscribePacket, error) {
	pkt := &UnsubscribePacket{}
	id, err := readU16(r)
	if err != nil {
		return nil, err
	}
	pkt.PacketID = id

	for {
		filter, err := readUTF8String(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		pkt.Filters = append(pkt.Filters, filter)
	}
	return pkt, nil
}

// UnsubackPacket acknowledges an UNSUBSCRIBE.
type UnsubackPacket struct{ PacketID uint16 }

func (u *UnsubackPacket) Type() Type { return UNSUBACK }

func (u *UnsubackPacket) Encode() []byte {
	return append(writeFixedHeader(UNSUBACK, 0, 2), writeU16(u.PacketID)...)
}

func decodeUnsuback(r io.Reader) (*UnsubackPacket, error) {
	id, err := readU16(r)
	if err != nil {
		return nil, err
	}
	return &UnsubackPacket{PacketID: id}, nil
}
