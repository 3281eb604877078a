package workgroup

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Group runs long lived workers sharing a context. Workers are independent:
// one returning does not stop the others.
type Group struct {
	ctx   context.Context
	log   logrus.FieldLogger
	group errgroup.Group
}

func WithContext(ctx context.Context, log logrus.FieldLogger) *Group {
	return &Group{ctx: ctx, log: log}
}

// Work starts fn in its own goroutine. A non-nil error is logged and returned
// from Wait, annotated with name.
func (g *Group) Work(name string, fn func(context.Context) error) {
	log := g.log.WithField("worker", name)
	g.group.Go(func() error {
		log.Debug("starting")
		err := fn(g.ctx)
		if err != nil {
			log.WithError(err).Error("worker failed")
			return errors.WithMessage(err, name)
		}
		log.Debug("finished")
		return nil
	})
}

// Wait blocks until every worker returned and reports the first failure.
func (g *Group) Wait() error {
	return g.group.Wait()
}
