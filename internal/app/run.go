package app

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/kafka"
	"golang.org/x/sync/errgroup"
)

// Run serves metrics and drives the consumers and any extra loops until ctx
// is cancelled or one of them fails. A failed consumer cancels the rest so
// the process exits with its uncommitted message still on the topic.
func (a *App) Run(ctx context.Context, consumers []*kafka.Consumer, loops ...func(context.Context) error) error {
	shutdown := a.ServeMetrics()
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range consumers {
		g.Go(func() error { return c.Start(gctx) })
	}
	for _, loop := range loops {
		g.Go(func() error { return loop(gctx) })
	}
	err := g.Wait()

	sctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	if serr := shutdown(sctx); serr != nil {
		a.logger.Error("metrics server shutdown error", "error", serr)
	}
	return err
}
