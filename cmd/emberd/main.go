package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/emberchat/emberd/internal/config"
	"github.com/emberchat/emberd/internal/daemon"
	"github.com/emberchat/emberd/internal/paths"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default ~/.emberd/config.toml)")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = paths.ConfigPath()
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(cfg),
	)

	app.Run()
}
