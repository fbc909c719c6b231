package main

// A software EtherDream used to exercise galvo without laser hardware.  It
// announces itself on the broadcast port and accepts a streaming client on
// the usual TCP port

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mgutz/logxi"

	"github.com/TeamNorCal/galvo/etherdream"
	"github.com/karlmutch/envflag"
)

var (
	listen    = flag.String("listen", ":"+strconv.Itoa(etherdream.StreamPort), "Address to accept streaming connections on")
	capacity  = flag.Uint("capacity", 1799, "Size of the simulated point buffer")
	maxRate   = flag.Uint("rate", 100000, "Maximum point rate advertised by the simulated DAC")
	announce  = flag.Duration("broadcast", time.Second, "Interval between DAC announcements, 0 disables them")
	reportEvr = flag.Duration("report", 5*time.Second, "Interval between status log lines")

	// create Logger interface
	logW = logxi.NewLogger(logxi.NewConcurrentWriter(os.Stdout), "galvo-dacsim")
)

func main() {

	if !flag.Parsed() {
		envflag.Parse()
	}

	if *capacity == 0 || *capacity > 0xFFFF {
		logW.Fatal("capacity must be between 1 and 65535", "capacity", *capacity)
		os.Exit(-1)
	}

	sim := etherdream.NewSimulator(uint16(*capacity), uint32(*maxRate))
	// A long running simulator does not retain the points it plays
	sim.RecordLimit = 0

	quitC := make(chan struct{})
	go func() {
		sigC := make(chan os.Signal, 1)
		signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
		<-sigC
		close(quitC)
	}()

	listener, errGo := net.Listen("tcp", *listen)
	if errGo != nil {
		logW.Fatal(errGo.Error(), "listen", *listen)
		os.Exit(-1)
	}

	if *announce > 0 {
		go broadcast(sim, *announce, quitC)
	}
	go report(sim, *reportEvr, quitC)

	logW.Info("simulated DAC ready", "listen", listener.Addr().String(), "dac", sim.Info.String())
	if err := sim.Serve(listener, quitC); err != nil {
		logW.Warn(err.Error())
	}
}

func broadcast(sim *etherdream.Simulator, interval time.Duration, quitC <-chan struct{}) {
	conn, errGo := net.ListenPacket("udp4", ":0")
	if errGo != nil {
		logW.Warn(errGo.Error())
		return
	}
	defer conn.Close()

	addr := &net.UDPAddr{IP: net.IPv4bcast, Port: etherdream.BroadcastPort}

	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		if err := sim.Announce(conn, addr); err != nil {
			logW.Warn(err.Error())
		}
		select {
		case <-tick.C:
		case <-quitC:
			return
		}
	}
}

func report(sim *etherdream.Simulator, interval time.Duration, quitC <-chan struct{}) {
	if interval <= 0 {
		return
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			status := sim.Status()
			logW.Info(fmt.Sprintf("playback %d buffer %d rate %d played %d underflows %d",
				status.Playback, status.BufferFullness, status.PointRate, status.PointCount, sim.Underflows()))
		case <-quitC:
			return
		}
	}
}
