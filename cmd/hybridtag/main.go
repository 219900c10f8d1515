package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"hybridtag/internal/cli"
	"hybridtag/internal/util"
)

func main() {
	logFile, err := os.OpenFile("hybridtag.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err == nil {
		log.SetOutput(logFile)
		defer logFile.Close()
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	printLogo()

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	var c cli.CLI
	kctx := kong.Parse(&c,
		kong.Name("hybridtag"),
		kong.Description("Dual-identity BLE location tag: alternately a Find My and an FMDN accessory."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	if err := kctx.Run(&c); err != nil {
		util.Linef("[ERROR]", util.ColorYellow, "%v", err)
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		// Drain second signal to avoid goroutine leaks in some shells.
		select {
		case <-ch:
		default:
		}
	}()
	return ctx, cancel
}

func printLogo() {
	logo := `
    _/_/_/_/_/      _/_/        _/_/_/
       _/        _/    _/    _/
      _/        _/_/_/_/    _/  _/_/
     _/        _/    _/    _/    _/
    _/        _/    _/      _/_/_/
`
	fmt.Println(logo)
	fmt.Println("hybridtag - dual-identity location tag")
}
