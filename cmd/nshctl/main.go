package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/veesix-networks/osvnsh/pkg/config"
)

var (
	serverAddr = flag.String("server", config.DefaultAPIAddress, "osvnsh API address")
	format     = flag.String("o", string(FormatCLI), "Output format: cli, json or yaml")
)

func main() {
	flag.Parse()

	client := NewClient(*serverAddr)
	cli := NewCLI(client, *serverAddr, os.Stdout)
	if !contains(formats, *format) {
		fmt.Fprintf(os.Stderr, "Unknown output format %q\n", *format)
		os.Exit(2)
	}
	cli.format = OutputFormat(*format)

	// A command on the command line runs once without the shell.
	if flag.NArg() > 0 {
		if err := cli.processCommand(strings.Join(flag.Args(), " ")); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cli.Stop()
		os.Exit(0)
	}()

	if err := cli.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
