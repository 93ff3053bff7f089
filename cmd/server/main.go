package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"dex/api/grpcserver"
	"dex/config"
	"dex/domain/orderbook"
	"dex/infra/kafka"
	"dex/infra/logging"
	"dex/infra/metrics"
	"dex/infra/outbox"
	"dex/infra/sequence"
	"dex/infra/store"
	"dex/infra/wal/entry"
	"dex/jobs/broadcaster"
	"dex/service"
	"dex/snapshot"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "dexd",
		Short:         "Escrowed limit order book with a gRPC front end",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (yaml, toml or json)")

	load := func() (*config.Config, *zap.Logger, error) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, nil, err
		}
		log, err := logging.New(cfg.Log.Env, cfg.Log.Level)
		if err != nil {
			return nil, nil, err
		}
		return cfg, log, nil
	}

	root.AddCommand(
		newInitCmd(load),
		newServeCmd(load),
		newJournalCmd(load),
		newSnapshotCmd(load),
	)
	return root
}

type loader func() (*config.Config, *zap.Logger, error)

// ---------------- init ----------------

func newInitCmd(load loader) *cobra.Command {
	var authority string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the book and record its authority",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			defer log.Sync()

			e, err := openEngine(cfg, log, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.svc.Initialize(cmd.Context(), orderbook.Identity(authority)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized with authority %s\n", authority)
			return nil
		},
	}
	cmd.Flags().StringVar(&authority, "authority", "", "identity allowed to run matching")
	_ = cmd.MarkFlagRequired("authority")
	return cmd
}

// ---------------- serve ----------------

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC API, metrics endpoint and background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	m := metrics.New()
	e, err := openEngine(cfg, log, m)
	if err != nil {
		return err
	}
	defer e.Close()

	box := outbox.New(e.store.DB())
	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	// ---------------- Background Jobs ----------------

	if cfg.Kafka.Enabled {
		pub, err := kafka.NewPublisher(cfg.Kafka.Client, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return errors.Wrap(err, "kafka publisher")
		}
		defer pub.Close()
		bc := broadcaster.New(box, pub, cfg.Broadcaster.Interval, log,
			broadcaster.WithPublishCounter(m.OutboxPublished))
		run(func() { bc.Run(ctx) })
	} else {
		log.Info("kafka disabled, events stay in the outbox")
	}

	snaps := &snapshot.Writer{Dir: cfg.Snapshot.Dir}
	run(func() { e.svc.RunSnapshots(ctx, snaps, box, cfg.Snapshot.Interval) })

	// ---------------- Metrics ----------------

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	metricsSrv := &http.Server{
		Addr:              cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	run(func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server exited", zap.Error(err))
		}
	})

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.GRPC.Listen)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.GRPC.Listen)
	}
	gs := grpcserver.NewGRPCServer(e.svc, log)

	serveErr := make(chan error, 1)
	go func() { serveErr <- gs.Serve(lis) }()
	log.Info("dexd running",
		zap.String("grpc", cfg.GRPC.Listen),
		zap.String("metrics", cfg.Metrics.Listen))

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-serveErr:
		log.Error("gRPC server exited", zap.Error(err))
	}

	gs.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	wg.Wait()

	if _, serr := e.svc.TakeSnapshot(snaps, box); serr != nil && !errors.Is(serr, store.ErrNotInitialized) {
		log.Warn("final snapshot failed", zap.Error(serr))
	}
	return err
}

// ---------------- journal ----------------

func newJournalCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "journal",
		Short: "Print the command journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			defer log.Sync()

			out := cmd.OutOrStdout()
			last, err := service.ReadJournal(cfg.Journal.Dir, func(je service.JournalEntry) error {
				c := je.Command
				_, err := fmt.Fprintf(out, "%d\t%s\t%s\tcaller=%s owner=%s order=%d side=%d amount=%d price=%d asset=%d fills=%d pruned=%d\n",
					je.Seq, time.Unix(0, je.Time).UTC().Format(time.RFC3339Nano), je.Type,
					c.Caller, c.Owner, c.OrderID, c.Side, c.Amount, c.Price, c.Asset, c.Fills, c.Pruned)
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "last seq %d\n", last)
			return nil
		},
	}
}

// ---------------- snapshot ----------------

func newSnapshotCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Show the latest snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			defer log.Sync()

			w := &snapshot.Writer{Dir: cfg.Snapshot.Dir}
			s, err := snapshot.Load(w.Path())
			if err != nil {
				return err
			}
			book, err := s.Book(cfg.Book.MaxOrders)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "seq %d taken %s authority %s next id %d\n",
				s.Seq, s.Created.Format(time.RFC3339), book.Authority(), book.NextID())
			for _, o := range book.Orders() {
				fmt.Fprintln(out, o)
			}
			return nil
		},
	}
}

// ---------------- wiring ----------------

type engine struct {
	store   *store.Store
	journal *entry.WAL
	svc     *service.OrderService
}

func openEngine(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) (*engine, error) {
	st, err := store.Open(cfg.StoreDir(), log)
	if err != nil {
		return nil, err
	}

	journal, err := entry.Open(entry.Config{
		Dir:         cfg.Journal.Dir,
		SegmentSize: cfg.Journal.SegmentSize,
		SyncWrites:  cfg.Journal.Sync,
	})
	if err != nil {
		st.Close()
		return nil, errors.Wrap(err, "open journal")
	}

	seq := sequence.New(0)
	if _, err := service.Recover(st, cfg.Journal.Dir, seq, log); err != nil {
		journal.Close()
		st.Close()
		return nil, err
	}

	svc, err := service.NewOrderService(st, journal, seq, m, cfg.Book.MaxOrders, log)
	if err != nil {
		journal.Close()
		st.Close()
		return nil, err
	}
	return &engine{store: st, journal: journal, svc: svc}, nil
}

func (e *engine) Close() {
	_ = e.journal.Close()
	_ = e.store.Close()
}
