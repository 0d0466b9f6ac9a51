// Copyright (2012) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// dsi-pong is the server half of the ping/pong smoke test: it registers a
// "ping" interface with the registry and answers every requestPing with a
// responsePong, unless told to fail on purpose.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dsi-runtime/dsi/internal/config"
	"github.com/dsi-runtime/dsi/internal/registry"
	"github.com/dsi-runtime/dsi/internal/wire"
	"github.com/dsi-runtime/dsi/pkg/dsi"
	log "github.com/dsi-runtime/dsi/pkg/dsilog"
)

const (
	requestPing   uint32 = wire.RequestIDFirst
	responsePong  uint32 = wire.ResponseIDFirst
	interfaceName        = "ping"
)

var (
	f_errorOnRequest  = flag.Bool("error-on-request", false, "answer every requestPing with RESULT_REQUEST_ERROR")
	f_errorOnResponse = flag.Bool("error-on-response", false, "answer every requestPing with RESULT_INVALID instead of a pong")
	f_verbose         = flag.Int("v", int(log.INFO), "log level (0=debug .. 3=error)")
)

func main() {
	flag.Parse()
	log.AddLogger("stdout", os.Stderr, log.Level(*f_verbose))

	cfg := config.FromEnvironment()
	reg, err := registry.Dial(cfg.ServiceBrokerPath)
	if err != nil {
		log.Fatal("dial registry: %v", err)
	}
	defer reg.Close()

	eng := dsi.NewEngine(cfg, reg, int32(os.Getpid()))
	defer eng.Close()

	desc := registry.InterfaceDescriptor{Name: interfaceName, Major: 1, Minor: 0}
	stub, err := eng.AddServer(desc, "")
	if err != nil {
		log.Fatal("register %s: %v", interfaceName, err)
	}

	stub.OnConnect = func(clientID wire.PartyID) {
		log.Info("client %v attached", clientID)
	}
	stub.OnDisconnect = func(clientID wire.PartyID) {
		log.Info("client %v detached", clientID)
	}
	stub.OnRequest = func(s *dsi.Stub, id uint32, payload []byte) {
		if id != requestPing {
			s.SendError()
			return
		}

		message := wire.NewDeserializer(payload).ReadString()
		fmt.Printf("---> Ping %s\n", message)

		switch {
		case *f_errorOnRequest:
			if err := s.Respond(wire.RESULT_REQUEST_ERROR, nil); err != nil {
				log.Warn("respond: %v", err)
			}
		case *f_errorOnResponse:
			if err := s.Respond(wire.RESULT_INVALID, nil); err != nil {
				log.Warn("respond: %v", err)
			}
		default:
			reply := wire.NewSerializer()
			reply.WriteString("from stub")
			if err := s.Respond(wire.RESULT_OK, reply.Bytes()); err != nil {
				log.Warn("respond: %v", err)
			}
		}
	}

	log.Info("pong server started, pid %d", os.Getpid())
	os.Exit(eng.Run())
}
