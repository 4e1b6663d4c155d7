package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pewprobe/internal/app"
)

func main() {
	var (
		cfgPath string
		rawURL  string
		once    bool
		outPath string
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json")
	flag.StringVar(&rawURL, "url", "", "probe a single URL and exit")
	flag.BoolVar(&once, "once", false, "run one probe round for the configured targets and exit")
	flag.StringVar(&outPath, "out", "", "write results as JSON to this file or directory")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if rawURL != "" || once {
		err := a.RunOnce(ctx, rawURL, outPath)
		_ = a.Close()
		if err != nil {
			fmt.Println("fatal:", err)
			os.Exit(1)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		_ = a.Close()
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	<-ctx.Done()
	_ = a.Stop(context.Background())
}
