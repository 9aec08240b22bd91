package packet

// PingreqPacket is a keep-alive probe sent by the client.
type PingreqPacket struct{}

func (p *PingreqPacket) Type() Type    { return PINGREQ }
func (p *PingreqPacket) Encode() []byte { return writeFixedHeader(PINGREQ, 0, 0) }

// PingrespPacket answers a PINGREQ.
type PingrespPacket struct{}

func (p *PingrespPacket) Type() Type    { return PINGRESP }
func (p *PingrespPacket) Encode() []byte { return writeFixedHeader(PINGRESP, 0, 0) }

// DisconnectPacket is a clean, client-initiated connection close. Its
// presence (vs. the connection simply dropping) tells the handler not to
// publish the client's last will.
type DisconnectPacket struct{}

func (d *DisconnectPacket) Type() Type    { return DISCONNECT }
func (d *DisconnectPacket) Encode() []byte { return writeFixedHeader(DISCONNECT, 0, 0) }
