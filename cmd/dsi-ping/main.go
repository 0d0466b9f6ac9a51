// Copyright (2012) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// dsi-ping is the client half of the ping/pong smoke test. With -pings it
// sends that many automatic pings and exits; without it, it drops into an
// interactive prompt where each line typed is sent as a ping message.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/dsi-runtime/dsi/internal/config"
	"github.com/dsi-runtime/dsi/internal/registry"
	"github.com/dsi-runtime/dsi/internal/wire"
	"github.com/dsi-runtime/dsi/pkg/dsi"
	log "github.com/dsi-runtime/dsi/pkg/dsilog"

	"github.com/peterh/liner"
)

const (
	requestPing   uint32 = wire.RequestIDFirst
	interfaceName        = "ping"
)

var (
	f_pings   = flag.Int("pings", 0, "send this many automatic pings and exit, instead of prompting interactively")
	f_verbose = flag.Int("v", int(log.INFO), "log level (0=debug .. 3=error)")
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

	c := &client{eng: eng, attached: make(chan struct{}), done: make(chan struct{})}

	desc := registry.InterfaceDescriptor{Name: interfaceName, Major: 1, Minor: 0}
	c.proxy = eng.AddClient(desc, dsi.Callbacks{
		ComponentConnected:    c.connected,
		ComponentDisconnected: c.disconnected,
	})

	go func() {
		if err := c.proxy.Attach(); err != nil {
			log.Fatal("attach: %v", err)
		}
	}()
	go eng.Run()

	select {
	case <-c.attached:
	case <-c.done:
		return
	}

	if *f_pings > 0 {
		c.automatic(*f_pings)
	} else {
		c.interactive()
	}
}

// client drives one Proxy attached to the "ping" interface, in either
// automatic (-pings=N) or interactive mode.
type client struct {
	eng   *dsi.Engine
	proxy *dsi.Proxy

	attached chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func (c *client) connected(p *dsi.Proxy) {
	fmt.Println("Proxy connected to server")
	close(c.attached)
}

func (c *client) disconnected(p *dsi.Proxy) {
	fmt.Println("client and server are disconnected")
	c.doneOnce.Do(func() { close(c.done) })
	c.eng.Stop(0)
}

// ping sends message and waits for the matching pong, returning "" if the
// server answered with anything but RESULT_OK.
func (c *client) ping(message string) string {
	req := wire.NewSerializer()
	req.WriteString(message)

	result, payload, err := c.proxy.Call(requestPing, req.Bytes())
	if err != nil {
		log.Warn("requestPing failed: %v", err)
		return ""
	}
	if result != wire.RESULT_OK {
		return ""
	}
	return wire.NewDeserializer(payload).ReadString()
}

func (c *client) automatic(n int) {
	for i := 0; i < n; i++ {
		reply := c.ping("from proxy")
		if reply == "" {
			fmt.Println("Request 'Ping' failed")
			break
		}
		fmt.Printf("<--- Pong %s\n", reply)
	}
	c.eng.RemoveClient(c.proxy)
	c.eng.Stop(0)
}

func (c *client) interactive() {
	fmt.Println("type a message and press enter to send a ping; ^d to quit")

	input := liner.NewLiner()
	defer input.Close()

	input.SetCtrlCAborts(true)
	input.SetTabCompletionStyle(liner.TabPrints)

	for {
		line, err := input.Prompt("dsi-ping$ ")
		if err == liner.ErrPromptAborted {
			continue
		} else if err == io.EOF {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		input.AppendHistory(line)

		reply := c.ping(line)
		if reply == "" {
			fmt.Println("Request 'Ping' failed")
			continue
		}
		fmt.Printf("<--- Pong %s\n", reply)
	}

	c.eng.RemoveClient(c.proxy)
	c.eng.Stop(0)
}
