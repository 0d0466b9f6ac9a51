package wire

import "fmt"

// EncodeHeader writes h in its fixed 40-byte wire layout.
func EncodeHeader(s *Serializer, h MessageHeader) {
	s.WriteInt32(h.Type)
	s.WriteUint16(h.ProtoMajor)
	s.WriteUint16(h.ProtoMinor)
	s.WriteUint32(h.ServerID.Extended)
	s.WriteUint32(h.ServerID.Local)
	s.WriteUint32(h.ClientID.Extended)
	s.WriteUint32(h.ClientID.Local)
	s.WriteUint32(uint32(h.Cmd))
	s.WriteUint32(h.Flags)
	s.WriteUint32(h.PacketLength)
	s.WriteInt32(h.Reserved)
}

// DecodeHeader reads a MessageHeader, leaving d positioned at the first
// byte following it. A short or malformed read sets d's sticky error.
func DecodeHeader(d *Deserializer) MessageHeader {
	var h MessageHeader
	h.Type = d.ReadInt32()
	h.ProtoMajor = d.ReadUint16()
	h.ProtoMinor = d.ReadUint16()
	h.ServerID.Extended = d.ReadUint32()
	h.ServerID.Local = d.ReadUint32()
	h.ClientID.Extended = d.ReadUint32()
	h.ClientID.Local = d.ReadUint32()
	h.Cmd = Command(d.ReadUint32())
	h.Flags = d.ReadUint32()
	h.PacketLength = d.ReadUint32()
	h.Reserved = d.ReadInt32()
	return h
}

// EncodeEventInfo writes e in its fixed 16-byte wire layout. resultSide
// selects whether the union field is the RequestType or the ResultType;
// callers pass true for DataResponse messages.
func EncodeEventInfo(s *Serializer, e EventInfo, resultSide bool) {
	s.WriteUint32(e.IfVersion)
	if resultSide {
		s.WriteUint32(uint32(e.ResultType))
	} else {
		s.WriteUint32(uint32(e.RequestType))
	}
	s.WriteUint32(e.RequestID)
	s.WriteInt32(e.SequenceNumber)
}

// DecodeEventInfo reads an EventInfo, populating both RequestType and
// ResultType with the raw union word reinterpreted as each -- the caller
// reads whichever one the enclosing header's Cmd selects.
func DecodeEventInfo(d *Deserializer) EventInfo {
	var e EventInfo
	e.IfVersion = d.ReadUint32()
	raw := d.ReadUint32()
	e.RequestType = RequestType(raw)
	e.ResultType = ResultType(raw)
	e.RequestID = d.ReadUint32()
	e.SequenceNumber = d.ReadInt32()
	return e
}

// Fragment splits payload into one or more wire packets per spec.md 4.A:
// the first packet carries header + EventInfo + up to
// PAYLOAD_SIZE-EventInfoSize bytes of payload with FlagMoreData set unless
// it is also the last; each subsequent packet repeats the header (same
// cmd/serverID/clientID, no EventInfo) and carries up to PAYLOAD_SIZE
// further bytes, the last with FlagMoreData cleared.
func Fragment(serverID, clientID PartyID, cmd Command, protoMinor uint16, info EventInfo, resultSide bool, payload []byte) [][]byte {
	var packets [][]byte

	first := NewSerializer()
	EncodeEventInfo(first, info, resultSide)
	firstBudget := PAYLOAD_SIZE - EventInfoSize
	n := len(payload)
	if n > firstBudget {
		n = firstBudget
	}
	first.buf.Write(payload[:n])
	rest := payload[n:]

	more := len(rest) > 0
	packets = append(packets, buildPacket(serverID, clientID, cmd, protoMinor, more, first.Bytes()))

	for len(rest) > 0 {
		chunkLen := len(rest)
		if chunkLen > PAYLOAD_SIZE {
			chunkLen = PAYLOAD_SIZE
		}
		chunk := rest[:chunkLen]
		rest = rest[chunkLen:]
		packets = append(packets, buildPacket(serverID, clientID, cmd, protoMinor, len(rest) > 0, chunk))
	}

	return packets
}

func buildPacket(serverID, clientID PartyID, cmd Command, protoMinor uint16, more bool, body []byte) []byte {
	h := NewMessageHeader(serverID, clientID, cmd, protoMinor, uint32(len(body)))
	if more {
		h.Flags |= FlagMoreData
	}
	s := NewSerializer()
	EncodeHeader(s, h)
	s.buf.Write(body)
	return s.Bytes()
}

// Reassembler accumulates the packets of one fragmented message and
// exposes the concatenated payload once the final packet arrives.
type Reassembler struct {
	header  MessageHeader
	info    EventInfo
	payload []byte
	started bool
	done    bool
}

// NewReassembler returns an empty Reassembler; the packets of one message
// are then handed to it one at a time through Feed.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Feed processes one packet's header and body (the bytes after the fixed
// header). For the first packet of a message, body must still contain the
// EventInfo prefix. Feed returns true once the message is complete.
func (r *Reassembler) Feed(h MessageHeader, body []byte) (bool, error) {
	if r.done {
		return false, fmt.Errorf("wire: reassembler already complete")
	}
	if !r.started {
		d := NewDeserializer(body)
		r.info = DecodeEventInfo(d)
		if d.Err() != nil {
			return false, fmt.Errorf("wire: decoding EventInfo: %w", d.Err())
		}
		r.header = h
		r.payload = append(r.payload, body[EventInfoSize:]...)
		r.started = true
	} else {
		r.payload = append(r.payload, body...)
	}

	if !h.HasMoreData() {
		r.done = true
		return true, nil
	}
	return false, nil
}

// Header returns the header of the first packet (cmd/serverID/clientID are
// stable across all packets of one message).
func (r *Reassembler) Header() MessageHeader { return r.header }

// Info returns the EventInfo decoded from the first packet.
func (r *Reassembler) Info() EventInfo { return r.info }

// Payload returns the concatenated user payload once Feed has reported
// completion.
func (r *Reassembler) Payload() []byte { return r.payload }
