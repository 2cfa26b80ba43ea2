// Package server wires the docseal components together and runs them until
// the process is told to stop.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/docseal/internal/dbx"
	"github.com/dmitrijs2005/docseal/internal/logging"
	"github.com/dmitrijs2005/docseal/internal/server/auth"
	"github.com/dmitrijs2005/docseal/internal/server/broker"
	"github.com/dmitrijs2005/docseal/internal/server/config"
	"github.com/dmitrijs2005/docseal/internal/server/events"
	"github.com/dmitrijs2005/docseal/internal/server/httpapi"
	"github.com/dmitrijs2005/docseal/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/docseal/internal/server/sealing"
	"github.com/dmitrijs2005/docseal/internal/server/services"
	"github.com/dmitrijs2005/docseal/internal/server/storage"
	"github.com/dmitrijs2005/docseal/internal/server/worker"
	"github.com/dmitrijs2005/docseal/internal/timex"

	gs "github.com/dmitrijs2005/docseal/internal/server/grpc"
)

const shutdownTimeout = 30 * time.Second

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	producer *broker.Producer
	consumer *broker.Consumer
	router   *events.Router
	pool     *worker.Pool
	http     *httpapi.HTTPServer
	grpc     *gs.GRPCServer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(c.LogLevel))
	for _, name := range c.PlaceholderSecrets() {
		logger.Warn(ctx, "using development placeholder secret, configure it before production", "setting", name)
	}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}
	runner := dbx.NewSQLRunner(db, nil)

	docs, err := storage.NewS3Storage(ctx, storage.Config{
		Region:       c.S3Region,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		Bucket:       c.S3Bucket,
		BaseEndpoint: c.S3BaseEndpoint,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	cert, err := sealing.LoadCertificate(c.CertificatePath, c.PrivateKeyPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("certificate error: %w", err)
	}
	if cert.Key == nil {
		logger.Warn(ctx, "no private key configured, sealing will fail", "certificate", c.CertificatePath)
	}

	issuer, err := auth.NewIssuer([]byte(c.SecretKey), timex.UTCNow)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("token issuer error: %w", err)
	}

	producer := broker.NewProducer(c.KafkaBrokers, c.KafkaOutboundTopic)
	pool := worker.NewPool(c.SealWorkers, logger)

	signing := services.NewSigningService(runner, rm, issuer, producer, docs, c, cert.Thumbprint, logger)
	sealer := services.NewSealingService(docs, sealing.NewSealer(nil), cert, pool, producer, logger)
	preview, err := services.NewPreviewService(runner, rm, docs, c, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("preview service error: %w", err)
	}

	router := events.NewRouter(logger)
	router.Handle(events.TypeDocumentReadyToSeal, sealer.HandleReadyToSeal)
	router.Handle(events.TypeSecureDownloadSignedDocument, preview.HandleSecureDownload)
	router.Handle(events.TypeSecureDocumentAccessRequested, preview.HandleSecureDownload)
	router.Ignore(
		events.TypeDocumentPartiallySigned,
		events.TypeDocumentFullySigned,
		events.TypeSignatureRequestRejected,
		events.TypeDocumentSealed,
	)

	topics := []string{c.KafkaOutboundTopic, c.KafkaInboundTopic}
	consumer := broker.NewConsumer(c.KafkaBrokers, topics, c.KafkaGroupID, logger)

	return &App{
		config:   c,
		logger:   logger,
		db:       db,
		producer: producer,
		consumer: consumer,
		router:   router,
		pool:     pool,
		http:     httpapi.NewHTTPServer(c.EndpointAddrHTTP, logger, signing, preview),
		grpc:     gs.NewGRPCServer(c.EndpointAddrGRPC, logger),
	}, nil
}

// Run serves until SIGINT/SIGTERM/SIGQUIT or until a component fails, then
// drains the sealing pool and releases resources.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	app.logger.Info(ctx, "Starting app...")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.http.Run(gctx) })
	g.Go(func() error { return app.grpc.Run(gctx) })
	g.Go(func() error { return app.consumer.Run(gctx, app.router) })

	err := g.Wait()
	app.logger.Info(ctx, "Stopping app...")
	app.shutdown(context.WithoutCancel(ctx))
	return err
}

func (app *App) shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := app.pool.Close(ctx); err != nil {
		app.logger.Error(ctx, "sealing jobs did not finish", "error", err)
	}
	if err := app.consumer.Close(); err != nil {
		app.logger.Error(ctx, "consumer close failed", "error", err)
	}
	if err := app.producer.Close(); err != nil {
		app.logger.Error(ctx, "producer close failed", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close failed", "error", err)
	}
}
