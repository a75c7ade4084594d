package worker

import (
	"context"
	"sync"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/health"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Runnable is a long-running loop. Run returns nil when ctx is cancelled and
// a non-nil error when the loop cannot continue.
type Runnable interface {
	Run(ctx context.Context) error
}

type options struct {
	waitReady        bool
	waitTrafficReady bool
	shutdownOnError  bool
}

type Option func(*options)

// WithReady delays Run until every registered component is ready.
func WithReady() Option {
	return func(o *options) { o.waitReady = true }
}

// WithTrafficReady delays Run until the service receives traffic.
func WithTrafficReady() Option {
	return func(o *options) { o.waitTrafficReady = true }
}

// WithShutdown stops the application with exit code 1 when Run fails.
func WithShutdown() Option {
	return func(o *options) { o.shutdownOnError = true }
}

// Worker is what Register puts into the "workers" value group.
type Worker interface {
	Name() string
}

type worker struct {
	name       string
	run        func(ctx context.Context) error
	log        *zap.Logger
	readiness  health.ReadinessWaiter
	shutdowner fx.Shutdowner
	opts       options

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (w *worker) Name() string { return w.name }

func (w *worker) start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
}

func (w *worker) loop(ctx context.Context) {
	if w.opts.waitReady {
		if err := w.readiness.WaitReady(ctx); err != nil {
			w.log.Info("worker cancelled before components were ready")
			return
		}
	}
	if w.opts.waitTrafficReady {
		if err := w.readiness.WaitForTrafficReady(ctx); err != nil {
			w.log.Info("worker cancelled before traffic readiness")
			return
		}
	}

	w.log.Info("worker started")
	err := w.run(ctx)
	if err == nil {
		w.log.Info("worker stopped")
		return
	}

	w.log.Error("worker failed", zap.Error(err))
	if w.opts.shutdownOnError {
		if shutdownErr := w.shutdowner.Shutdown(fx.ExitCode(1)); shutdownErr != nil {
			w.log.Error("failed to initiate shutdown", zap.Error(shutdownErr))
		}
	}
}

func (w *worker) stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func newWorker(name string, run func(ctx context.Context) error, log *zap.Logger,
	readiness health.ReadinessWaiter, shutdowner fx.Shutdowner, opts ...Option) *worker {
	w := &worker{
		name:       name,
		run:        run,
		log:        log.With(zap.String("worker", name)),
		readiness:  readiness,
		shutdowner: shutdowner,
	}
	for _, opt := range opts {
		opt(&w.opts)
	}
	return w
}

// Register returns an fx constructor that runs T.Run for the lifetime of the
// application. Use it inside fx.Provide:
//
//	fx.Provide(worker.Register[*outbox.Relay]("outbox-relay", worker.WithReady(), worker.WithShutdown()))
func Register[T Runnable](name string, opts ...Option) any {
	return fx.Annotate(
		func(lc fx.Lifecycle, log *zap.Logger, shutdowner fx.Shutdowner, readiness health.ReadinessWaiter, dep T) Worker {
			w := newWorker(name, dep.Run, log, readiness, shutdowner, opts...)
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					w.start()
					return nil
				},
				OnStop: func(context.Context) error {
					w.stop()
					return nil
				},
			})
			return w
		},
		fx.ResultTags(`group:"workers"`),
	)
}

// Params collects every registered worker. Depending on it forces the
// worker constructors to run.
type Params struct {
	fx.In

	Workers []Worker `group:"workers"`
}

// NewModule instantiates all registered workers.
func NewModule() fx.Option {
	return fx.Module("workers",
		fx.Invoke(func(p Params, log *zap.Logger) {
			for _, w := range p.Workers {
				log.Debug("worker registered", zap.String("worker", w.Name()))
			}
		}),
	)
}
