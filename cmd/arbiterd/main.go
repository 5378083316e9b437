// File: cmd/arbiterd/main.go
// Author: momentics <momentics@gmail.com>
//
// arbiterd partitions a machine's CPU cores between cooperating
// processes: clients register over a Unix socket, declare per-priority
// core demand, and receive exclusive cpuset-backed cores in return.
package main

import (
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli"

	"github.com/momentics/corearbiterd/affinity"
	"github.com/momentics/corearbiterd/arbiter"
	"github.com/momentics/corearbiterd/control"
	"github.com/momentics/corearbiterd/cpuset"
)

const usage = `arbiterd grants registered threads exclusive access to CPU cores,
reclaiming them through cooperative release requests with a hard
preemption fallback when demand shifts.`

func main() {
	app := cli.NewApp()
	app.Name = "arbiterd"
	app.Usage = usage
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "socket",
			Usage: "path of the listening Unix socket",
			Value: "/var/run/arbiterd.sock",
		},
		cli.StringFlag{
			Name:  "shm-dir",
			Usage: "directory for per-process shared-memory files",
			Value: "/dev/shm/arbiterd",
		},
		cli.StringFlag{
			Name:  "cores",
			Usage: "exclusive CPU ids in cpuset list format, e.g.: --cores 2-5,8",
		},
		cli.IntFlag{
			Name:  "priorities",
			Usage: "number of priority levels",
			Value: 8,
		},
		cli.IntFlag{
			Name:  "preemption-timeout",
			Usage: "milliseconds a process has to release a core voluntarily",
			Value: arbiter.DefaultPreemptionTimeoutMillis,
		},
		cli.BoolFlag{
			Name:  "deferred",
			Usage: "build the cpuset hierarchy on first client contact instead of at startup",
		},
		cli.IntFlag{
			Name:  "pin-cpu",
			Usage: "pin the event loop thread to this CPU (-1 disables)",
			Value: -1,
		},
		cli.StringFlag{
			Name:  "debug-listen",
			Usage: "loopback address for the metrics/debug listener (empty disables)",
			Value: "127.0.0.1:9090",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "trace, debug, info, warn, or error",
			Value: "info",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		hclog.Default().Error("arbiterd failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	log := hclog.New(&hclog.LoggerOptions{
		Name:  "arbiter",
		Level: hclog.LevelFromString(ctx.String("log-level")),
	})

	cores, err := cpuset.Parse(ctx.String("cores"))
	if err != nil {
		return err
	}
	cfg := control.Config{
		SocketPath:              ctx.String("socket"),
		ShmDir:                  ctx.String("shm-dir"),
		ExclusiveCores:          cores.ToSlice(),
		NumPriorities:           ctx.Int("priorities"),
		ImmediateArbitration:    !ctx.Bool("deferred"),
		PreemptionTimeoutMillis: ctx.Int("preemption-timeout"),
		DebugListenAddr:         ctx.String("debug-listen"),
		PinCPU:                  ctx.Int("pin-cpu"),
	}
	store, err := control.NewStore(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.ShmDir, 0o755); err != nil {
		return err
	}

	driver, err := cpuset.NewPlatformDriver()
	if err != nil {
		return err
	}
	ctl, err := cpuset.NewController(log, driver, cfg.ExclusiveCores)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := control.NewMetrics(reg)

	srv, err := arbiter.NewServer(log, arbiter.Config{
		SocketPath:              cfg.SocketPath,
		ShmDir:                  cfg.ShmDir,
		ExclusiveCores:          cfg.ExclusiveCores,
		NumPriorities:           cfg.NumPriorities,
		ImmediateArbitration:    cfg.ImmediateArbitration,
		PreemptionTimeoutMillis: cfg.PreemptionTimeoutMillis,
	}, ctl, metrics)
	if err != nil {
		return err
	}
	store.OnReloadConfig(func(c control.Config) {
		srv.SetPreemptionTimeout(c.PreemptionTimeoutMillis)
		log.Info("preemption timeout updated", "ms", c.PreemptionTimeoutMillis)
	})

	probes := control.NewDebugProbes()
	control.RegisterPlatformProbes(probes)
	probes.RegisterProbe("arbiter.state", func() any { return srv.DebugState() })

	var debug *control.DebugServer
	if cfg.DebugListenAddr != "" {
		debug = control.NewDebugServer(log, cfg.DebugListenAddr, reg, store, probes)
		if err := debug.Start(); err != nil {
			return err
		}
		defer debug.Shutdown()
	}

	// The handler only pokes the termination eventfd; all teardown work
	// happens on the event loop's exit path.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		log.Info("shutting down on signal", "signal", sig.String())
		srv.Signal()
	}()

	if cfg.PinCPU >= 0 {
		runtime.LockOSThread()
		if err := affinity.SetAffinity(cfg.PinCPU); err != nil {
			log.Warn("failed to pin event loop thread", "cpu", cfg.PinCPU, "error", err)
		}
	}

	if err := srv.Start(); err != nil {
		return err
	}
	runErr := srv.Run()
	if err := srv.Shutdown(); err != nil {
		log.Warn("shutdown incomplete", "error", err)
	}
	return runErr
}
