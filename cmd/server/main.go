package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"payment_reconciliation/internal/clock"
	"payment_reconciliation/internal/config"
	httpd "payment_reconciliation/internal/delivery/http"
	"payment_reconciliation/internal/domain"
	"payment_reconciliation/internal/notify"
	"payment_reconciliation/internal/parser"
	"payment_reconciliation/internal/registry"
	"payment_reconciliation/internal/repository"
	"payment_reconciliation/internal/scheduler"
	"payment_reconciliation/internal/source"
	"payment_reconciliation/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	loc, _ := cfg.Location()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewSQLiteRepo(cfg.SQLiteDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer repo.Close()

	clk := clock.Real()
	reg := registry.New(clk,
		registry.WithStore(repo),
		registry.WithCurrency(cfg.Currency),
		registry.WithCodeLength(cfg.CodeLength),
	)
	if err := reg.Load(ctx); err != nil {
		log.Fatalf("restore registry: %v", err)
	}

	svc := usecase.NewReconcileService(reg,
		parser.New(cfg.Currency, parser.WithLocation(loc)),
		notify.NewPublisher(reg),
		repo,
		clk,
		usecase.WithWindow(domain.ChannelBankTransfer, cfg.BankWindow),
		usecase.WithWindow(domain.ChannelWalletQR, cfg.WalletWindow),
		usecase.WithPayee(cfg.Payee),
		usecase.WithCountry(cfg.Country),
	)

	sched := scheduler.New(reg, clk,
		scheduler.WithInterval(cfg.SweepInterval),
		scheduler.WithVerbose(cfg.Verbose),
	)
	go sched.Run(ctx)

	if cfg.SpoolDir != "" {
		spool, err := source.NewSpoolWatcher(cfg.SpoolDir, svc)
		if err != nil {
			log.Fatalf("spool: %v", err)
		}
		go func() {
			if err := spool.Run(ctx); err != nil {
				log.Printf("ERROR: Spool watcher stopped: %v", err)
			}
		}()
	}

	if len(cfg.Operators) == 0 {
		log.Printf("WARN: No operators configured, operator console is unreachable")
	}

	h := httpd.NewHandler(svc, cfg.Currency, httpd.WithHealthCheck(repo.Ping))
	r := h.Routes(httpd.RouteConfig{
		Sig: httpd.SigConfig{
			Secret:        cfg.HMACSecret,
			MaxAgeSeconds: cfg.SigMaxAgeSeconds,
		},
		Operators:      cfg.Operators,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// Open event streams end when the process is signalled.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("ERROR: Shutdown: %v", err)
		}
	}()

	log.Printf("Server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	log.Printf("INFO: Server stopped")
}
