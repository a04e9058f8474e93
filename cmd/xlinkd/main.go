package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/luxonis/xlink"
	"github.com/luxonis/xlink/transport"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

const echoStream = "xlinkd-echo"

func main() {
	app := cli.NewApp()
	app.Name = "xlinkd"
	app.Usage = "exercise an xlink link over TCP"
	app.Version = VERSION
	app.Commands = []cli.Command{
		{
			Name:  "serve",
			Usage: "accept one peer and echo every packet it writes",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "addr", Value: ":29900", Usage: "listen address"},
				cli.BoolFlag{Name: "compress", Usage: "wrap the connection in snappy framing"},
			},
			Action: serveAction,
		},
		{
			Name:  "connect",
			Usage: "dial a peer, open a stream, and pump stdin lines over it",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "addr", Value: "127.0.0.1:29900", Usage: "server address"},
				cli.BoolFlag{Name: "compress", Usage: "wrap the connection in snappy framing"},
			},
			Action: connectAction,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

func wrap(t transport.Transport, compress bool) transport.Transport {
	if compress {
		return transport.NewCompressed(t)
	}
	return t
}

func serveAction(c *cli.Context) error {
	ln, err := transport.ListenTCP(c.String("addr"))
	if err != nil {
		return err
	}
	defer ln.Close()
	log.Printf("xlinkd: listening on %s", ln.Addr())

	conn, err := ln.Accept()
	if err != nil {
		return err
	}
	log.Printf("xlinkd: accepted %s", conn.Peer().MxID)

	api := xlink.New()
	if err := api.Initialize(nil); err != nil {
		return err
	}
	api.AddLinkDownCallback(func(id uint8) {
		log.Printf("xlinkd: link %d down", id)
	})

	linkID, err := api.Server(wrap(conn, c.Bool("compress")))
	if err != nil {
		return err
	}
	h, err := api.OpenStream(linkID, echoStream, 1<<20)
	if err != nil {
		return err
	}

	for {
		pkt, err := api.ReadData(h)
		if err != nil {
			return err
		}
		line := append([]byte(nil), pkt.Data...)
		if err := api.ReleaseData(h); err != nil {
			return err
		}
		log.Printf("xlinkd: echoing %d bytes", len(line))
		if err := api.WriteData(h, line); err != nil {
			return err
		}
	}
}

func connectAction(c *cli.Context) error {
	conn, err := transport.DialTCP(c.String("addr"))
	if err != nil {
		return err
	}

	api := xlink.New()
	if err := api.Initialize(nil); err != nil {
		return err
	}

	linkID, err := api.Connect(wrap(conn, c.Bool("compress")))
	if err != nil {
		return err
	}
	h, err := api.OpenStream(linkID, echoStream, 1<<20)
	if err != nil {
		return err
	}

	go func() {
		for {
			pkt, err := api.ReadDataWithTimeout(h, 5*time.Second)
			if err != nil {
				continue
			}
			fmt.Printf("< %s\n", pkt.Data)
			_ = api.ReleaseData(h)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := api.WriteData(h, scanner.Bytes()); err != nil {
			return err
		}
	}
	return api.CloseStream(h)
}
