package main

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/hurtener/penguiflow-sub005/artifact"
	artifactinmem "github.com/hurtener/penguiflow-sub005/artifact/inmem"
	"github.com/hurtener/penguiflow-sub005/catalog"
	"github.com/hurtener/penguiflow-sub005/dispatch"
	"github.com/hurtener/penguiflow-sub005/event"
	"github.com/hurtener/penguiflow-sub005/internal/config"
	"github.com/hurtener/penguiflow-sub005/internal/telemetry"
	"github.com/hurtener/penguiflow-sub005/pause"
	"github.com/hurtener/penguiflow-sub005/planner"
	"github.com/hurtener/penguiflow-sub005/redact"
	"github.com/hurtener/penguiflow-sub005/registry"
	"github.com/hurtener/penguiflow-sub005/session"
	"github.com/hurtener/penguiflow-sub005/statestore"
	statestoreinmem "github.com/hurtener/penguiflow-sub005/statestore/inmem"
	"github.com/hurtener/penguiflow-sub005/statestore/redisstore"
	"github.com/hurtener/penguiflow-sub005/tool"
	"github.com/hurtener/penguiflow-sub005/trajectory"
	trajectoryinmem "github.com/hurtener/penguiflow-sub005/trajectory/inmem"
)

// runtime bundles the wired components a command needs, built once from
// cfg in a single place rather than scattering wiring across subcommands.
type runtime struct {
	cfg        config.Config
	registry   *registry.Registry
	catalog    *catalog.Catalog
	artifacts  artifact.Store
	redactor   *redact.Redactor
	clamp      *redact.Clamp
	bus        *event.Bus
	recorder   trajectory.Recorder
	dispatcher *dispatch.Dispatcher
	machine    *planner.Machine
	sessions   *session.Controller
	pauses     *pause.Controller
	logger     telemetry.Logger
}

// stateSink adapts a statestore.Store to event.Sink, letting the bus
// persist every event through whichever backend was selected below.
type stateSink struct {
	store statestore.Store
}

func (s stateSink) SaveEvent(ctx context.Context, e event.Event) error {
	return s.store.SaveEvent(ctx, e)
}

// buildRuntime wires every component from cfg. The state store backend is
// chosen by cfg.Redis.Enabled; pause support degrades to a process-local
// store when the chosen backend doesn't satisfy statestore.PauseCapable.
func buildRuntime(cfg config.Config) (*runtime, error) {
	logger := telemetry.NewSlogLogger(nil)

	reg := registry.New()
	cat := catalog.New()

	strategy := artifact.EvictionLRU
	switch cfg.Artifact.EvictionStrategy {
	case "fifo":
		strategy = artifact.EvictionFIFO
	case "none":
		strategy = artifact.EvictionNone
	}
	artifacts := artifactinmem.New(artifact.Retention{
		MaxBytesPerSession: cfg.Artifact.MaxBytesPerSession,
		MaxCountPerSession: cfg.Artifact.MaxCountPerSession,
		MaxBytesPerTrace:   cfg.Artifact.MaxBytesPerTrace,
		MaxCountPerTrace:   cfg.Artifact.MaxCountPerTrace,
		MaxArtifactBytes:   cfg.Artifact.MaxArtifactBytes,
		DefaultTTL:         cfg.Artifact.DefaultTTL,
		Strategy:           strategy,
	})

	redactor := redact.New(func(name tool.Ident) []redact.RedactMarker {
		markers := reg.ArtifactMarkers(name)
		out := make([]redact.RedactMarker, len(markers))
		for i, m := range markers {
			out[i] = redact.RedactMarker{Path: m.Path, TypeName: m.TypeName}
		}
		return out
	})
	clamp := redact.NewClamp(redact.Policy{
		MaxObservationChars:   cfg.Clamp.MaxObservationChars,
		AutoArtifactThreshold: cfg.Clamp.AutoArtifactThreshold,
		PreviewChars:          cfg.Clamp.PreviewChars,
	}, artifacts)

	var stateBackend statestore.Store
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		stateBackend = redisstore.New(rdb, cfg.Redis.Prefix)
	} else {
		stateBackend = statestoreinmem.New()
	}

	bus := event.NewBus(
		event.WithSink(stateSink{store: stateBackend}),
		event.WithFaultReporter(func(traceID string, err error) {
			logger.Warn(context.Background(), "penguiflow: event sink fault", "trace_id", traceID, "error", err.Error())
		}),
	)
	artifacts.Subscribe(func(ev artifact.StoredEvent) {
		if ev.Ref.Scope.TraceID == "" {
			return
		}
		bus.Publish(context.Background(), ev.Ref.Scope.TraceID, event.KindArtifactStored, "", map[string]any{
			"id": ev.Ref.ID, "mime_type": ev.Ref.MimeType, "size_bytes": ev.Ref.SizeBytes, "sha256": ev.Ref.SHA256,
		})
	})

	recorder := trajectoryinmem.New()

	dispatcher := dispatch.New(cat, reg, dispatch.Options{
		GlobalParallelism:  cfg.Dispatcher.GlobalParallelism,
		RejectPlaceholders: cfg.Dispatcher.RejectPlaceholders,
		Artifacts:          artifact.NewToolWriter(artifacts),
	})

	var pauseBackend pause.Store
	if capable, ok := statestore.DetectPauseCapable(stateBackend); ok {
		pauseBackend = capable
	} else {
		pauseBackend = statestoreinmem.New()
	}
	pauseCtrl := pause.New(pauseBackend, cfg.Pause.TTL)

	machine := planner.New(planner.Options{
		Dispatcher:    dispatcher,
		Redactor:      redactor,
		Clamp:         clamp,
		Recorder:      recorder,
		Bus:           bus,
		PauseHandler:  pauseCtrl,
		MaxRevisions:  1,
		VisionCapable: false,
	})

	sessions := session.New(bus)

	return &runtime{
		cfg:        cfg,
		registry:   reg,
		catalog:    cat,
		artifacts:  artifacts,
		redactor:   redactor,
		clamp:      clamp,
		bus:        bus,
		recorder:   recorder,
		dispatcher: dispatcher,
		machine:    machine,
		sessions:   sessions,
		pauses:     pauseCtrl,
		logger:     logger,
	}, nil
}
