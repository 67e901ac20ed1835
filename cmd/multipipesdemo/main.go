package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bigchaindb/multipipes"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/xerrors"
)

var (
	appName = "multipipes-demo"
	appSha  = "populated-at-link-time"
	logger  *logrus.Entry
)

func main() {
	host, _ := os.Hostname()
	rootLogger := logrus.New()
	rootLogger.SetFormatter(new(logrus.JSONFormatter))
	logger = rootLogger.WithFields(logrus.Fields{
		"app":  appName,
		"sha":  appSha,
		"host": host,
	})

	if err := makeApp().Run(os.Args); err != nil {
		logger.WithField("err", err).Error("shutting down due to error")
		_ = os.Stderr.Sync()
		os.Exit(1)
	}
}

func makeApp() *cli.App {
	app := cli.NewApp()
	app.Name = appName
	app.Version = appSha
	app.Flags = []cli.Flag{
		cli.IntFlag{
			Name:   "count",
			Value:  20,
			EnvVar: "MULTIPIPES_DEMO_COUNT",
			Usage:  "The number of (dividend, divisor) pairs to push through the pipeline",
		},
		cli.DurationFlag{
			Name:   "shutdown-timeout",
			Value:  5 * time.Second,
			EnvVar: "MULTIPIPES_DEMO_SHUTDOWN_TIMEOUT",
			Usage:  "How long to wait for pipeline stages to drain on shutdown",
		},
		cli.BoolFlag{
			Name:   "debug",
			EnvVar: "MULTIPIPES_DEBUG",
			Usage:  "Escalate unhandled target errors to the log at Error level",
		},
	}
	app.Action = runMain
	return app
}

// runMain assembles the divide-then-increment pipeline and drives it with a
// small generated workload, reporting every exception the Manager records
// before shutting down.
func runMain(appCtx *cli.Context) error {
	multipipes.SetDebug(appCtx.Bool("debug"))

	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	manager := multipipes.NewManager(multipipes.ManagerConfig{
		Logger:         logger.Logger,
		RestartOnError: false,
	})
	defer manager.Stop()

	divideNode, err := multipipes.NewNode(multipipes.NodeConfig{
		Name:    "divide",
		Manager: manager,
		Target: multipipes.FuncN(2, func(ctx context.Context, args []interface{}) (interface{}, error) {
			a, b := args[0].(float64), args[1].(float64)
			if b == 0 {
				return nil, xerrors.New("division by zero")
			}
			return a / b, nil
		}),
	})
	if err != nil {
		return xerrors.Errorf("build divide node: %w", err)
	}

	incNode, err := multipipes.NewNode(multipipes.NodeConfig{
		Name:    "inc",
		Manager: manager,
		Target: multipipes.Func1(func(ctx context.Context, arg interface{}) (interface{}, error) {
			return arg.(float64) + 1, nil
		}),
	})
	if err != nil {
		return xerrors.Errorf("build inc node: %w", err)
	}

	pipeline, err := multipipes.New([]interface{}{divideNode, incNode}, manager, appName)
	if err != nil {
		return xerrors.Errorf("wire pipeline: %w", err)
	}

	in := multipipes.NewChannel(64)
	out := multipipes.NewChannel(64)
	pipeline.Setup(in, out)

	if err := pipeline.Start(ctx); err != nil {
		return xerrors.Errorf("start pipeline: %w", err)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig.String()).Info("shutting down due to signal")
			cancelFn()
		case <-ctx.Done():
		}
	}()

	count := appCtx.Int("count")
	go func() {
		for i := 1; i <= count; i++ {
			_ = in.Put(multipipes.Sequence{float64(i), float64(i % 5)}, 0)
		}
	}()

	for i := 0; i < count; i++ {
		v, err := out.Get(appCtx.Duration("shutdown-timeout"))
		if err != nil {
			break
		}
		fmt.Println(v)
	}

	pipeline.Stop(appCtx.Duration("shutdown-timeout"))

	for _, err := range manager.Errors() {
		logger.WithField("err", err).Warn("target raised an exception during the run")
	}
	return nil
}
