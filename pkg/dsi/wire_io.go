package dsi

import (
	"errors"

	"github.com/dsi-runtime/dsi/internal/channel"
	"github.com/dsi-runtime/dsi/internal/wire"
)

var (
	errNoCurrentRequest = errors.New("dsi: no request is currently being processed")
	errClientGone       = errors.New("dsi: client connection no longer exists")
	errRequestBusy      = errors.New("dsi: a call with this request id is already pending")
)

// sendDataMessage writes one DataRequest or DataResponse, fragmenting as
// needed, shared by Proxy's request issuing and Stub's response/notification
// emission.
func sendDataMessage(ch channel.Channel, serverID, clientID wire.PartyID, cmd wire.Command, resultOrRequestType uint32, id uint32, seqNr int32, protoMinor uint16, payload []byte) error {
	info := wire.EventInfo{RequestID: id, SequenceNumber: seqNr}
	resultSide := cmd == wire.CmdDataResponse
	if resultSide {
		info.ResultType = wire.ResultType(resultOrRequestType)
	} else {
		info.RequestType = wire.RequestType(resultOrRequestType)
	}
	for _, pkt := range wire.Fragment(serverID, clientID, cmd, protoMinor, info, resultSide, payload) {
		if err := ch.SendAll(pkt); err != nil {
			return err
		}
	}
	return nil
}
