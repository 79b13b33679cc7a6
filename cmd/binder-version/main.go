package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	binder "github.com/droidipc/go-binder"
	"github.com/droidipc/go-binder/internal/logging"
)

func main() {
	var (
		dev     = flag.String("dev", binder.DefaultDevice, "Binder device to open")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logging.SetDefault(logging.NewLogger(logConfig))

	d, err := binder.Open(*dev)
	if err != nil {
		log.Fatalf("open %s: %v", *dev, err)
	}
	defer d.Release()

	fmt.Printf("device:        %s\n", d.Dev())
	fmt.Printf("abi version:   %d\n", d.IO().Version())
	fmt.Printf("pointer width: %d bytes\n", d.IO().PointerWidth())
	fmt.Printf("fd:            %d\n", d.FD())

	os.Exit(0)
}
