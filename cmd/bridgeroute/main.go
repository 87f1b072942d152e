package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"bridgeroute/internal/config"
	"bridgeroute/internal/engine"
	"bridgeroute/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "config file path")
		route      = flag.Bool("route", false, "compute one route, print it as JSON and exit")
		spread     = flag.Bool("spread", false, "score the spread of -asset between -from and -to and exit")
		from       = flag.String("from", "", "source venue")
		fromCur    = flag.String("from-currency", "", "source currency")
		to         = flag.String("to", "", "destination venue")
		toCur      = flag.String("to-currency", "", "destination currency")
		amount     = flag.Float64("amount", 0, "amount held at the source venue")
		strategy   = flag.String("strategy", "cheapest", "cheapest, fastest or balanced")
		asset      = flag.String("asset", "", "asset for -spread")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	appLog := logger.Init(cfg.Logging).WithFields(map[string]interface{}{
		"app": cfg.App.Name,
		"env": cfg.App.Env,
	})
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := newService(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("Startup failed", "error", err)
		os.Exit(1)
	}

	code := 0
	switch {
	case *route:
		res, err := svc.engine.FindOptimalRoute(ctx, engine.RouteRequest{
			SourceVenue:    *from,
			SourceCurrency: *fromCur,
			DestVenue:      *to,
			DestCurrency:   *toCur,
			Amount:         *amount,
			Strategy:       *strategy,
		})
		code = printResult(res, err)
	case *spread:
		res, err := svc.engine.ScoreSpread(ctx, *from, *to, parseAsset(*asset))
		code = printResult(res, err)
	default:
		appLog.Info("Starting bridgeroute", "version", cfg.App.Version)
		if err := svc.run(ctx, *configPath); err != nil {
			appLog.Error("Service stopped with error", "error", err)
			code = 1
		} else {
			appLog.Info("Shutdown complete")
		}
	}

	if err := svc.Close(); err != nil {
		appLog.Warn("Close failed", "error", err)
	}
	stop()
	os.Exit(code)
}

// printResult writes v as JSON, or the error, and returns the exit code
func printResult(v interface{}, err error) int {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
