// Package wire implements the DSI wire protocol: the fixed message header,
// the per-request EventInfo block, primitive/sequence/mapping/union payload
// encoding, partial-update encoding for sequence attributes, and multi-packet
// fragmentation.
package wire

// Command identifies the kind of message a MessageHeader carries.
type Command uint32

const (
	CmdInvalid           Command = 0
	CmdDataRequest       Command = 7
	CmdDataResponse      Command = 8
	CmdConnectRequest    Command = 9
	CmdDisconnectRequest Command = 10
	CmdConnectResponse   Command = 11
)

func (c Command) String() string {
	switch c {
	case CmdDataRequest:
		return "DataRequest"
	case CmdDataResponse:
		return "DataResponse"
	case CmdConnectRequest:
		return "ConnectRequest"
	case CmdDisconnectRequest:
		return "DisconnectRequest"
	case CmdConnectResponse:
		return "ConnectResponse"
	default:
		return "Invalid"
	}
}

// RequestType discriminates a DataRequest's EventInfo.
type RequestType uint32

const (
	REQUEST                          RequestType = 0x0100
	REQUEST_NOTIFY                   RequestType = 0x0101
	REQUEST_STOP_NOTIFY              RequestType = 0x0102
	REQUEST_LOAD_COMPONENT           RequestType = 0x0103
	REQUEST_STOP_ALL_NOTIFY          RequestType = 0x0104
	REQUEST_REGISTER_NOTIFY          RequestType = 0x0105
	REQUEST_STOP_REGISTER_NOTIFY     RequestType = 0x0106
	REQUEST_STOP_ALL_REGISTER_NOTIFY RequestType = 0x0107
)

// ResultType discriminates a DataResponse's EventInfo.
type ResultType uint32

const (
	RESULT_OK            ResultType = 0x0200
	RESULT_INVALID       ResultType = 0x0201
	RESULT_DATA_OK       ResultType = 0x0202
	RESULT_DATA_INVALID  ResultType = 0x0203
	RESULT_REQUEST_ERROR ResultType = 0x0204
	RESULT_REQUEST_BUSY  ResultType = 0x0205
)

// UpdateType discriminates a partial-update payload for a sequence attribute.
type UpdateType int32

const (
	UpdateNone     UpdateType = -1
	UpdateComplete UpdateType = 0
	UpdateInsert   UpdateType = 1
	UpdateReplace  UpdateType = 2
	UpdateDelete   UpdateType = 3
)

// Request/response/attribute ID ranges (spec.md 4.F).
const (
	RequestIDFirst   uint32 = 0x00000000
	RequestIDLast    uint32 = 0x7FFFFFFF
	ResponseIDFirst  uint32 = 0x80000000
	ResponseIDLast   uint32 = 0xBFFFFFFF
	AttributeIDFirst uint32 = 0xC0000000
	AttributeIDLast  uint32 = 0xFFFFFFFF

	InvalidSequenceNr  int32 = 0
	InvalidSessionID   int32 = -1
	InvalidNotifyID    int32 = -1
	InvalidID          uint32 = AttributeIDLast
)

func IsRequestID(id uint32) bool   { return id <= RequestIDLast }
func IsResponseID(id uint32) bool  { return id >= ResponseIDFirst && id <= ResponseIDLast }
func IsAttributeID(id uint32) bool { return id >= AttributeIDFirst }

// ProtocolVersionMajor/Minor are the runtime's own negotiated version.
// A peer's minor version is negotiated down via min(local, peer). The
// major version is written into every header; no receiver in this runtime
// compares it with its own.
const (
	ProtocolVersionMajor uint16 = 1
	ProtocolVersionMinor uint16 = 0
)

// MessageMagic is the Type value NewMessageHeader puts in every header, so
// a TCP connect-response that starts with it is a full header; the attach
// state machine reads any other reply as the legacy bare shape, which has
// no header (spec.md 4.E.5).
const MessageMagic uint32 = 0x200

// PartyID identifies a client or server endpoint. The extended part
// distinguishes engines on different hosts/processes; the local part is an
// index private to the owning engine.
type PartyID struct {
	Extended uint32
	Local    uint32
}

func (p PartyID) IsZero() bool { return p.Extended == 0 && p.Local == 0 }

// HeaderSize is the on-wire size in bytes of MessageHeader.
const HeaderSize = 4 /*Type*/ + 2 /*ProtoMajor*/ + 2 /*ProtoMinor*/ +
	8 /*ServerID*/ + 8 /*ClientID*/ +
	4 /*Cmd*/ + 4 /*Flags*/ + 4 /*PacketLength*/ + 4 /*Reserved*/

// FlagMoreData marks a fragmented message's non-final packet.
const FlagMoreData uint32 = 0x1

// MessageHeader is transmitted at the start of every packet.
type MessageHeader struct {
	Type         int32
	ProtoMajor   uint16
	ProtoMinor   uint16
	ServerID     PartyID
	ClientID     PartyID
	Cmd          Command
	Flags        uint32
	PacketLength uint32
	Reserved     int32
}

// NewMessageHeader builds a header with the runtime's own protocol major
// version and the given (already negotiated) minor version.
func NewMessageHeader(serverID, clientID PartyID, cmd Command, protoMinor uint16, packetLength uint32) MessageHeader {
	return MessageHeader{
		Type:         int32(MessageMagic),
		ProtoMajor:   ProtocolVersionMajor,
		ProtoMinor:   protoMinor,
		ServerID:     serverID,
		ClientID:     clientID,
		Cmd:          cmd,
		PacketLength: packetLength,
	}
}

func (h MessageHeader) HasMoreData() bool { return h.Flags&FlagMoreData != 0 }

// EventInfoSize is the on-wire size in bytes of EventInfo.
const EventInfoSize = 4 /*IfVersion*/ + 4 /*RequestType|ResultType*/ + 4 /*RequestID*/ + 4 /*SequenceNumber*/

// EventInfo carries per-request bookkeeping, present only in the first
// packet of a fragmented message.
type EventInfo struct {
	IfVersion uint32

	// Exactly one of RequestType/ResultType is meaningful, selected by the
	// enclosing MessageHeader.Cmd (DataRequest uses RequestType, DataResponse
	// uses ResultType) -- the C++ original overlays them in a union; Go has
	// no anonymous union, so both fields live side by side and callers read
	// the one that applies.
	RequestType RequestType
	ResultType  ResultType

	RequestID      uint32
	SequenceNumber int32
}

// PAYLOAD_SIZE is the maximum number of payload bytes (EventInfo + user data
// on the first packet, user data alone on continuation packets) that fit in
// one 4KiB packet after the fixed header.
const PAYLOAD_SIZE = 4096 - HeaderSize
