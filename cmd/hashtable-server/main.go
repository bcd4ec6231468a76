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

	"github.com/shadowcpy/hashtable/server"
)

type args struct {
	Buckets uint64 `arg:"-s,--size,required" help:"number of hash table buckets"`
	Workers uint64 `arg:"-n,--num-threads,required" help:"number of worker threads"`
}

func (args) Description() string {
	return "Shared memory hash table server"
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

	srv, closeFn, err := server.New(server.Config{
		Buckets: a.Buckets,
		Workers: a.Workers,
	})
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return 1
	}
	defer closeFn()

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server failed", zap.Error(err))
		return 2
	}

	log.Info("server stopped")
	return 0
}
