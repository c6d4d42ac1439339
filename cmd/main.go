// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server and the
// background settlement loops.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/catalog"
	"github.com/Shivanand-hulikatti/campus-ticketing/internal/clock"
	"github.com/Shivanand-hulikatti/campus-ticketing/internal/config"
	"github.com/Shivanand-hulikatti/campus-ticketing/internal/database"
	"github.com/Shivanand-hulikatti/campus-ticketing/internal/events"
	"github.com/Shivanand-hulikatti/campus-ticketing/internal/gateway"
	"github.com/Shivanand-hulikatti/campus-ticketing/internal/handler"
	"github.com/Shivanand-hulikatti/campus-ticketing/internal/obs"
	"github.com/Shivanand-hulikatti/campus-ticketing/internal/repository"
	"github.com/Shivanand-hulikatti/campus-ticketing/internal/repository/memstore"
	"github.com/Shivanand-hulikatti/campus-ticketing/internal/service"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const serviceName = "campus-ticketing"

func main() {
	flags := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	catalogPath := flags.String("catalog", "", "YAML catalogue of events and tiers to seed at startup")
	migrateOnly := flags.Bool("migrate-only", false, "apply database migrations and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(*catalogPath, *migrateOnly); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

// stores groups the persistence ports of one backend.
type stores struct {
	catalog service.Catalog
	seeder  catalog.Seeder
	ledger  service.Ledger
	orders  service.OrderStore
	tickets service.TicketStore
	close   func()
}

func run(catalogPath string, migrateOnly bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := obs.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, serviceName, cfg.Env, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(tctx); err != nil {
			log.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	clk := clock.NewSystem()

	// ── 1. Storage ────────────────────────────────────────────────────────
	st, err := openStores(ctx, cfg, clk, log)
	if err != nil {
		return err
	}
	defer st.close()
	if migrateOnly {
		log.Info("migrations applied")
		return nil
	}

	if catalogPath != "" {
		tiers, err := catalog.LoadFile(catalogPath, cfg.Currency)
		if err != nil {
			return err
		}
		if err := catalog.Seed(ctx, st.seeder, tiers, log); err != nil {
			return err
		}
	}

	// ── 2. Payment gateway ────────────────────────────────────────────────
	verifier := gateway.NewVerifier(cfg.GatewaySecret)
	var (
		provider gateway.Provider
		sandbox  handler.SandboxPayer
	)
	switch cfg.Gateway {
	case config.GatewayOmise:
		omise, err := gateway.NewOmise(cfg.OmisePublicKey, cfg.OmiseSecretKey, cfg.OmiseSourceType)
		if err != nil {
			return fmt.Errorf("omise: %w", err)
		}
		provider = omise
	default:
		sb := gateway.NewSandbox(verifier)
		provider, sandbox = sb, sb
		log.Warn("sandbox payment gateway enabled")
	}
	gw := gateway.NewAdapter(provider, verifier, gateway.Options{
		Timeout:     cfg.GatewayTimeout,
		MaxAttempts: cfg.GatewayMaxAttempts,
		Backoff:     cfg.GatewayBackoff,
	}, log)

	// ── 3. Events ─────────────────────────────────────────────────────────
	var publisher service.EventPublisher = service.NopPublisher{}
	if cfg.AMQPURL != "" {
		pub, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		defer func() { _ = pub.Close() }()
		publisher = pub
	}

	// ── 4. Wire up layers ─────────────────────────────────────────────────
	issuer := service.NewTicketIssuer(st.tickets, clk)
	reservations := service.NewReservationManager(st.ledger, st.orders, st.catalog, clk, log,
		service.WithHoldTTL(cfg.HoldTTL),
		service.WithMaxPerOrder(cfg.MaxPerOrder))
	settlement := service.NewSettlement(st.ledger, st.orders, issuer, gw, publisher, clk, log)
	booking := service.NewBookingService(reservations, settlement, issuer, st.orders, st.ledger)
	sweeper := service.NewSweeper(st.ledger, settlement, clk, cfg.SweepInterval, log)
	reconciler := service.NewReconciler(st.orders, settlement, clk, cfg.ReconcileInterval, cfg.HoldTTL+cfg.ReconcileGrace, log)

	orderHandler := handler.NewOrderHandler(booking, log, sandbox)

	// ── 5. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(handler.Logger(log))     // structured access log
	r.Use(handler.CORS(cfg.CORSOrigins))

	orderHandler.Routes(r, handler.Authenticate([]byte(cfg.JWTSecret)))

	// ── 6. Start server and loops with graceful shutdown ─────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return reconciler.Run(gctx) })

	if cfg.AMQPURL != "" {
		consumer, err := events.NewConsumer(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPCallbackQueue, booking, log)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		defer func() { _ = consumer.Close() }()
		g.Go(func() error { return consumer.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// openStores connects the configured storage backend. For postgres it
// also applies pending migrations.
func openStores(ctx context.Context, cfg config.Config, clk clock.Clock, log *zap.Logger) (stores, error) {
	if cfg.Storage == config.StorageMemory {
		mem := memstore.New(clk)
		log.Warn("using in-memory storage; state is lost on restart")
		return stores{
			catalog: mem, seeder: mem, ledger: mem, orders: mem, tickets: mem,
			close: func() {},
		}, nil
	}

	pool, err := database.NewPool(ctx, database.Options{DSN: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns}, log)
	if err != nil {
		return stores{}, fmt.Errorf("database: %w", err)
	}
	log.Info("connected to postgres")
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return stores{}, fmt.Errorf("migrate: %w", err)
	}

	tiers := repository.NewTierRepository(pool)
	return stores{
		catalog: tiers,
		seeder:  tiers,
		ledger:  repository.NewInventoryRepository(pool, clk),
		orders:  repository.NewOrderRepository(pool),
		tickets: repository.NewTicketRepository(pool),
		close:   pool.Close,
	}, nil
}
