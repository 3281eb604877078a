package sigcontext

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
)

// WithSignalCancel returns a context that is cancelled when the process
// receives one of sigs, or SIGINT and SIGTERM when none are given. Only the
// first signal is handled here: the handlers are released as soon as the
// context is done, so a second ^C terminates a stuck shutdown. The returned
// cancel must be called.
func WithSignalCancel(ctx context.Context, log logrus.FieldLogger, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	sigctx, ctxcancel := context.WithCancel(ctx)

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, sigs...)

	var once sync.Once
	release := func() {
		once.Do(func() { signal.Stop(sigchan) })
	}
	cancel := func() {
		ctxcancel()
		release()
	}

	go func() {
		defer release()
		select {
		case <-sigctx.Done():
		case sig := <-sigchan:
			log.WithField("signal", sig.String()).Info("received signal, shutting down")
			ctxcancel()
		}
	}()

	return sigctx, cancel
}
