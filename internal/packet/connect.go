package packet

import (
	"bytes"
	"io"
)

// Connect return codes (CONNACK byte 2).
const (
	ConnectAccepted               byte = 0x00
	ConnectRefusedProtocolVersion byte = 0x01
	ConnectRefusedIdentifier      byte = 0x02
	ConnectRefusedServerUnavail   byte = 0x03
	ConnectRefusedBadCredentials  byte = 0x04
	ConnectRefusedNotAuthorized   byte = 0x05
)

// ConnectPacket is the first packet a client must send.
type ConnectPacket struct {
	ProtocolName    string
	ProtocolVersion byte
	CleanSession    bool
	WillFlag        bool
	WillQoS         byte
	WillRetain      bool
	UsernameFlag    bool
	PasswordFlag    bool
	KeepAlive       uint16
	ClientID        string
	WillTopic       string
	WillMessage     []byte
	Username        string
	Password        []byte
}

func (c *ConnectPacket) Type() Type { return CONNECT }

func (c *ConnectPacket) Encode() []byte {
	var body bytes.Buffer
	body.Write(writeUTF8String(c.ProtocolName))
	body.Write(writeU8(c.ProtocolVersion))

	var flags byte
	if c.UsernameFlag {
		flags |= 0x80
	}
	if c.PasswordFlag {
		flags |= 0x40
	}
	if c.WillRetain {
		flags |= 0x20
	}
	flags |= (c.WillQoS & 0x03) << 3
	if c.WillFlag {
		flags |= 0x04
	}
	if c.CleanSession {
		flags |= 0x02
	}
	body.Write(writeU8(flags))
	body.Write(writeU16(c.KeepAlive))
	body.Write(writeUTF8String(c.ClientID))
	if c.WillFlag {
		body.Write(writeUTF8String(c.WillTopic))
		body.Write(writeBytesWithLength(c.WillMessage))
	}
	if c.UsernameFlag {
		body.Write(writeUTF8String(c.Username))
	}
	if c.PasswordFlag {
		body.Write(writeBytesWithLength(c.Password))
	}
	return append(writeFixedHeader(CONNECT, 0, body.Len()), body.Bytes()...)
}

func decodeConnect(r io.Reader) (*ConnectPacket, error) {
	pkt := &ConnectPacket{}

	name, err := readUTF8String(r)
	if err != nil {
		return nil, err
	}
	pkt.ProtocolName = name

	version, err := readU8(r)
	if err != nil {
		return nil, err
	}
	pkt.ProtocolVersion = version

	flags, err := readU8(r)
	if err != nil {
		return nil, err
	}
	pkt.UsernameFlag = flags&0x80 != 0
	pkt.PasswordFlag = flags&0x40 != 0
	pkt.WillRetain = flags&0x20 != 0
	pkt.WillQoS = (flags >> 3) & 0x03
	pkt.WillFlag = flags&0x04 != 0
	pkt.CleanSession = flags&0x02 != 0

	keepAlive, err := readU16(r)
	if err != nil {
		return nil, err
	}
	pkt.KeepAlive = keepAlive

	clientID, err := readUTF8String(r)
	if err != nil {
		return nil, err
	}
	pkt.ClientID = clientID

	if pkt.WillFlag {
		pkt.WillTopic, err = readUTF8String(r)
		if err != nil {
			return nil, err
		}
		pkt.WillMessage, err = readBytesWithLength(r)
		if err != nil {
			return nil, err
		}
	}
	if pkt.UsernameFlag {
		pkt.Username, err = readUTF8String(r)
		if err != nil {
			return nil, err
		}
	}
	if pkt.PasswordFlag {
		pkt.Password, err = readBytesWithLength(r)
		if err != nil {
			return nil, err
		}
	}
	return pkt, nil
}

// ConnackPacket acknowledges a CONNECT.
type ConnackPacket struct {
	SessionPresent bool
	ReturnCode     byte
}

func (c *ConnackPacket) Type() Type { return CONNACK }

func (c *ConnackPacket) Encode() []byte {
	body := make([]byte, 2)
	if c.SessionPresent {
		body[0] = 1
	}
	body[1] = c.ReturnCode
	return append(writeFixedHeader(CONNACK, 0, len(body)), body...)
}

func decodeConnack(r io.Reader) (*ConnackPacket, error) {
	flags, err := readU8(r)
	if err != nil {
		return nil, err
	}
	code, err := readU8(r)
	if err != nil {
		return nil, err
	}
	return &ConnackPacket{SessionPresent: flags&0x01 != 0, ReturnCode: code}, nil
}
