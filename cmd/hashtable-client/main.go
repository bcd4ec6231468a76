package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/outofforest/logger"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/shadowcpy/hashtable/client"
	"github.com/shadowcpy/hashtable/types"
)

type args struct {
	Outer      uint64  `arg:"positional" default:"1000" help:"outer loop iterations, 0 for infinite"`
	Inner      uint64  `arg:"positional" default:"100" help:"operations per phase per iteration"`
	Seed       *uint32 `arg:"--seed" help:"deterministic seed for key generation"`
	DebugPrint bool    `arg:"--debug-print" help:"ask the server to dump its table and exit"`
}

func (args) Description() string {
	return "Shared memory hash table client"
}

func main() {
	os.Exit(run())
}

func run() int {
	var a args
	arg.MustParse(&a)

	ctx := logger.WithLogger(context.Background(), logger.New(logger.DefaultConfig))
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logger.Get(ctx)

	c, err := client.Connect(ctx)
	if err != nil {
		log.Error("attach failed", zap.Error(err))
		return 1
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Error("leaving session failed", zap.Error(err))
		}
	}()

	if a.DebugPrint {
		if err := c.DebugPrint(0); err != nil {
			log.Error("debug print failed", zap.Error(err))
			return 2
		}
		var resp types.Response
		if err := c.Recv(ctx, &resp); err != nil {
			log.Error("debug print failed", zap.Error(err))
			return 2
		}
		return 0
	}

	workload := client.Workload{
		Outer: a.Outer,
		Inner: a.Inner,
		Seed:  a.Seed,
	}
	if err := workload.Run(ctx, c); err != nil {
		switch {
		case errors.Is(err, client.ErrVerification):
			log.Error("verification failed", zap.Error(err))
			return 2
		case errors.Is(err, context.Canceled):
			log.Info("interrupted")
			return 0
		default:
			log.Error("workload failed", zap.Error(err))
			return 2
		}
	}

	log.Info("verification passed")
	return 0
}
