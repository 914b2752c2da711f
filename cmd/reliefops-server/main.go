package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/OutllierRejects/reliefops/internal/config"
	"github.com/OutllierRejects/reliefops/internal/event"
	"github.com/OutllierRejects/reliefops/internal/eventbus"
	"github.com/OutllierRejects/reliefops/internal/notification"
	notificationrepo "github.com/OutllierRejects/reliefops/internal/notification/repositoryimpl"
	"github.com/OutllierRejects/reliefops/internal/orchestrator"
	"github.com/OutllierRejects/reliefops/internal/pipeline"
	"github.com/OutllierRejects/reliefops/internal/pushnotification"
	pushsubrepo "github.com/OutllierRejects/reliefops/internal/pushsubscription/repositoryimpl"
	"github.com/OutllierRejects/reliefops/internal/request"
	requestrepo "github.com/OutllierRejects/reliefops/internal/request/repositoryimpl"
	"github.com/OutllierRejects/reliefops/internal/resource"
	resourcerepo "github.com/OutllierRejects/reliefops/internal/resource/repositoryimpl"
	"github.com/OutllierRejects/reliefops/internal/server"
	stagelogrepo "github.com/OutllierRejects/reliefops/internal/stagelog/repositoryimpl"
	"github.com/OutllierRejects/reliefops/internal/task"
	taskrepo "github.com/OutllierRejects/reliefops/internal/task/repositoryimpl"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
	"github.com/OutllierRejects/reliefops/pkg/clog"
)

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.IsLocal() {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	store, closeStore, err := openStorage(ctx, &env.StorageEnv)
	if err != nil {
		slog.Error("failed to open storage", "type", env.StorageEnv.Type, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// Setup event bus
	bus := eventbus.New()

	// Setup repositories
	requestRepo := requestrepo.NewYAMLRepository(store)
	resourceRepo := resourcerepo.NewYAMLRepository(store)
	taskRepo := taskrepo.NewYAMLRepository(store)
	notificationRepo := notificationrepo.NewYAMLRepository(store)
	stageLogRepo := stagelogrepo.NewYAMLRepository(store)
	pushSubRepo := pushsubrepo.NewYAMLRepository(store)

	allocator := resource.NewAllocator(resourceRepo, bus)
	lifecycle := task.NewLifecycle(taskRepo, requestRepo, allocator, bus)

	// Setup optional AI and location services
	model := newModel(&env.LLMEnv)
	extractor, resolver, closeGeo := newGeo(ctx, &env.GeoEnv)
	defer closeGeo()

	// Setup notification transports
	pushSender := pushnotification.NewSender(&env.VAPIDEnv, pushSubRepo)
	transports := newTransports(env, bus, pushSender)
	deliverer := notification.NewDeliverer(notificationRepo, transports, bus, notification.DelivererConfig{
		MaxAttempts: env.NotifyEnv.MaxAttempts,
		Backoff:     env.NotifyEnv.RetryBackoff,
		Concurrency: env.NotifyEnv.Concurrency,
		Lease:       env.NotifyEnv.SendLease,
	})

	// Setup pipeline
	intakeOpts := []pipeline.IntakeOption{pipeline.WithLocationExtractor(extractor)}
	if model != nil {
		intakeOpts = append(intakeOpts, pipeline.WithIntakeLLM(model))
	}
	if resolver != nil {
		intakeOpts = append(intakeOpts, pipeline.WithGeocoder(resolver))
	}
	coordinator := pipeline.NewCoordinator(requestRepo, resourceRepo, stageLogRepo, lifecycle, pipeline.Stages{
		Intake:      pipeline.NewIntake(env.MinDescriptionLength, intakeOpts...),
		Prioritizer: pipeline.NewPrioritizer(model),
		Assigner: pipeline.NewAssigner(resourceRepo, allocator, taskRepo, lifecycle, pipeline.NewGate(), model, bus,
			pipeline.AssignerConfig{ClaimAttempts: env.ClaimAttempts}),
		Communicator: pipeline.NewCommunicator(notificationRepo, taskRepo, deliverer, transports, model, bus),
	}, bus, pipeline.CoordinatorConfig{
		Retry: pipeline.RetryPolicy{
			MaxRetries:     env.MaxRetries,
			InitialBackoff: env.InitialBackoff,
			MaxBackoff:     env.MaxBackoff,
			Retryable:      cerr.IsRetryable,
		},
		StageTimeout:        env.StageTimeout,
		ConfidenceThreshold: env.ConfidenceThreshold,
	})

	orch := orchestrator.New(bus, requestRepo, coordinator, deliverer, orchestrator.Config{
		Workers:        env.Workers,
		SweepSchedule:  env.SweepSchedule,
		RetrySchedule:  env.RetrySchedule,
		SweepBatchSize: env.SweepBatchSize,
	})
	pushDispatcher := pushnotification.NewDispatcher(bus, pushSender)

	var journal *event.Journal
	if env.JournalEnv.Dir != "" {
		journal, err = event.NewJournal(env.JournalEnv.Dir)
		if err != nil {
			slog.Error("failed to open event journal", "dir", env.JournalEnv.Dir, "error", err)
			os.Exit(1)
		}
	}

	// Setup servers
	srv := server.NewServer(
		env,
		request.NewServer(requestRepo, stageLogRepo, coordinator, lifecycle, bus),
		resource.NewServer(resourceRepo, allocator, bus),
		task.NewServer(taskRepo, lifecycle),
		orchestrator.NewServer(orch),
		event.NewServer(bus, journal),
		pushnotification.NewServer(&env.VAPIDEnv, pushSubRepo, pushSender),
	)

	if env.RosterEnv.File != "" {
		roster := resource.NewRoster(env.RosterEnv.File, resourceRepo, allocator)
		n, err := roster.Apply(ctx)
		if err != nil {
			slog.Error("failed to load roster", "file", env.RosterEnv.File, "error", err)
			os.Exit(1)
		}
		slog.Info("roster loaded", "file", env.RosterEnv.File, "resources", n)
		go func() {
			if err := roster.Watch(ctx); err != nil {
				slog.Error("roster watcher stopped", "error", err)
			}
		}()
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		if err := orch.Start(ctx); err != nil {
			slog.Error("orchestrator stopped", "error", err)
			cancel()
		}
	})
	wg.Go(func() { pushDispatcher.Start(ctx) })
	if journal != nil {
		wg.Go(func() { journal.Run(ctx, bus) })
	}

	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	// Give active connections time to finish after stream contexts are cancelled.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	wg.Wait()
}
