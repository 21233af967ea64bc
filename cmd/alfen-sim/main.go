// alfen-sim 模拟一台 Alfen 充电桩的 Modbus 从站，用于没有硬件时调试
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"app-alfen-go/internal/pkg/logger"
	"app-alfen-go/internal/pkg/simulator"
)

func main() {
	var (
		mode     = flag.String("type", simulator.TypeTCP, "TCP or RTU")
		address  = flag.String("addr", "0.0.0.0:502", "TCP listen address")
		device   = flag.String("serial-port", "/dev/ttyUSB0", "serial device for rtu")
		baud     = flag.Int("baud", 19200, "serial baud rate")
		sockets  = flag.Int("sockets", 1, "number of sockets")
		serial   = flag.String("serial-number", "", "station serial number")
		logLevel = flag.String("log-level", "INFO", "log level")
	)
	flag.Parse()

	lc := logger.NewClient(*logLevel)
	sim, err := simulator.New(simulator.Config{
		Type:    strings.ToUpper(*mode),
		Address: *address,
		Serial: simulator.SerialConfig{
			Port:     *device,
			BaudRate: *baud,
			DataBits: 8,
			StopBits: 1,
			Parity:   "N",
		},
		Sockets:      *sockets,
		SerialNumber: *serial,
	}, lc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create simulator: %v\n", err)
		os.Exit(-1)
	}
	if err := sim.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start simulator: %v\n", err)
		os.Exit(-1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	lc.Info("Received signal", "signal", sig.String())
	sim.Stop()
}
