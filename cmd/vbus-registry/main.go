// Command vbus-registry runs the directory process participants join before
// dialing each other (spec §4.3). It holds no simulation state of its own.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/vbus-sim/vbus/registry"
)

func main() {
	addrFlag := flag.String("addr", "0.0.0.0:8500", "Address to listen on for participant joins")
	verboseFlag := flag.Bool("verbose", false, "Enable debug-level logging")

	flag.Usage = printUsage
	flag.Parse()

	log := logrus.StandardLogger()
	if *verboseFlag {
		log.SetLevel(logrus.DebugLevel)
	}

	ln, err := net.Listen("tcp", *addrFlag)
	if err != nil {
		log.WithError(err).Fatal("vbus-registry: listen failed")
	}

	srv := registry.NewServer(registry.NewDefault(), registry.WithLogger(log))

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("vbus-registry: shutting down")
		cancel()
	}()

	log.WithField("addr", ln.Addr().String()).Info("vbus-registry: listening")
	if err := srv.Serve(ctx, ln); err != nil {
		log.WithError(err).Fatal("vbus-registry: serve failed")
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: vbus-registry [flags]\n\n")
	flag.PrintDefaults()
}
