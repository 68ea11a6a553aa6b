// File: cmd/strandecho/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// strandecho is a TCP echo server demonstrating the runtime: one long-lived
// accept task, one task per connection, clean drain on SIGINT/SIGTERM.

package main

import (
	"context"
	"errors"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/strandio/strand/api"
	"github.com/strandio/strand/sched"
	"github.com/strandio/strand/transport"
)

type config struct {
	Addr    string `toml:"addr"`
	Workers int    `toml:"workers"`
	Backend string `toml:"backend"`
	Pin     bool   `toml:"pin"`
	Grace   string `toml:"grace"`
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := config{Addr: "127.0.0.1:7777", Grace: "5s"}
	var cfgPath string

	root := &cobra.Command{
		Use:   "strandecho",
		Short: "TCP echo server on the strand runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgPath != "" {
				// Explicit flags win over the config file.
				var fileCfg config
				if _, err := toml.DecodeFile(cfgPath, &fileCfg); err != nil {
					return err
				}
				if !cmd.Flags().Changed("addr") && fileCfg.Addr != "" {
					cfg.Addr = fileCfg.Addr
				}
				if !cmd.Flags().Changed("workers") && fileCfg.Workers != 0 {
					cfg.Workers = fileCfg.Workers
				}
				if !cmd.Flags().Changed("backend") && fileCfg.Backend != "" {
					cfg.Backend = fileCfg.Backend
				}
				if !cmd.Flags().Changed("pin") {
					cfg.Pin = fileCfg.Pin
				}
				if fileCfg.Grace != "" {
					cfg.Grace = fileCfg.Grace
				}
			}
			return run(cmd.Context(), log, cfg)
		},
	}
	root.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	root.Flags().IntVar(&cfg.Workers, "workers", 0, "worker threads (0 = all cores)")
	root.Flags().StringVar(&cfg.Backend, "backend", "auto", "io backend: auto, io_uring, epoll, kqueue")
	root.Flags().BoolVar(&cfg.Pin, "pin", false, "pin workers to CPUs")
	root.Flags().StringVar(&cfgPath, "config", "", "TOML config file (flags override)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		log.WithError(err).Fatal("exiting")
	}
}

func run(ctx context.Context, log *logrus.Logger, cfg config) error {
	grace, err := time.ParseDuration(cfg.Grace)
	if err != nil {
		grace = sched.DefaultShutdownGrace
	}
	rt, err := sched.New(
		sched.WithWorkers(cfg.Workers),
		sched.WithBackend(api.ParseBackend(cfg.Backend)),
		sched.WithPinning(cfg.Pin),
		sched.WithShutdownGrace(grace),
		sched.WithLogger(log),
	)
	if err != nil {
		return err
	}

	l, err := transport.Listen(cfg.Addr)
	if err != nil {
		rt.Close()
		return err
	}
	log.WithField("addr", l.Addr().String()).Info("listening")

	acceptTask, err := sched.Spawn[struct{}](rt.Handle(), &acceptLoop{l: l})
	if err != nil {
		rt.Close()
		return err
	}

	<-ctx.Done()
	log.Info("signal received, draining")
	acceptTask.Cancel()
	l.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*grace)
	defer cancel()
	return rt.Shutdown(shutdownCtx)
}

// acceptLoop accepts forever, spawning one echoConn sibling per connection
// on its own worker.
type acceptLoop struct {
	l   *transport.Listener
	acc *transport.AcceptFuture
}

func (a *acceptLoop) Poll(cx *sched.Context) (struct{}, bool, error) {
	for {
		if a.acc == nil {
			a.acc = a.l.Accept()
		}
		got, done, err := a.acc.Poll(cx)
		if err != nil {
			return struct{}{}, true, err
		}
		if !done {
			return struct{}{}, false, nil
		}
		a.acc = nil
		conn := &echoConn{conn: got.Conn}
		sched.SpawnAt[struct{}](cx, conn).Detach()
	}
}

// echoConn copies inbound bytes back out until EOF.
type echoConn struct {
	conn  *transport.TCPStream
	buf   []byte
	rd    *transport.ReadFuture
	wr    *transport.WriteAllFuture
	n     int
	write bool
}

func (e *echoConn) Poll(cx *sched.Context) (struct{}, bool, error) {
	if e.buf == nil {
		e.buf = make([]byte, 32*1024)
	}
	for {
		if !e.write {
			if e.rd == nil {
				e.rd = e.conn.Read(e.buf)
			}
			n, done, err := e.rd.Poll(cx)
			if errors.Is(err, io.EOF) {
				_ = e.conn.Close(cx)
				return struct{}{}, true, nil
			}
			if err != nil {
				_ = e.conn.Close(cx)
				return struct{}{}, true, err
			}
			if !done {
				return struct{}{}, false, nil
			}
			e.rd, e.n, e.write = nil, n, true
		}
		if e.wr == nil {
			e.wr = e.conn.WriteAll(e.buf[:e.n])
		}
		_, done, err := e.wr.Poll(cx)
		if err != nil {
			_ = e.conn.Close(cx)
			return struct{}{}, true, err
		}
		if !done {
			return struct{}{}, false, nil
		}
		e.wr, e.write = nil, false
	}
}
