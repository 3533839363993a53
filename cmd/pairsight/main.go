package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	jsoniter "github.com/json-iterator/go"

	"github.com/pairsight/pairsight/internal/config"
	"github.com/pairsight/pairsight/internal/initializer"
)

func main() {
	cfgPath := "./config.json"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfgFile, err := os.Open(cfgPath)
	if err != nil {
		fmt.Println("ERROR : Not able to find config file :", cfgPath)
		os.Exit(1)
	}
	var cfg config.Config
	if err = jsoniter.NewDecoder(cfgFile).Decode(&cfg); err != nil {
		fmt.Println("ERROR : Not able to parse JSON from config file :", cfgPath)
		os.Exit(1)
	}
	cfgFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := initializer.Start(ctx, &cfg); err != nil && ctx.Err() == nil {
		fmt.Println("ERROR :", err)
		os.Exit(1)
	}
}
