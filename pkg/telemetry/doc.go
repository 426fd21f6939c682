// Package telemetry provides the observability stack of the froyo orchestrator.
//
// It bundles structured logging (zerolog), distributed tracing (OpenTelemetry),
// metrics (Prometheus) and an event publisher behind a single Telemetry value.
//
// # Usage
//
// Initialize telemetry at startup and attach it to the context:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//	ctx = tel.WithContext(ctx)
//
// # Batches
//
// Every batch applied to a model state (a new model version, a deploy report or a restore)
// runs inside an InstrumentedContext started by Telemetry.StartBatch. It carries a span named
// after the batch kind and a logger with environment and batch_id fields:
//
//	ic := tel.StartBatch(ctx, batchID, "prod", "apply_model", 7)
//	defer ic.End(err)
//	ic.Logger.Info("applying model")
//
// # Metrics
//
// Metrics are registered on a private registry and served by StartMetricsServer under the
// configured namespace (froyo by default):
//
//   - froyo_batches_applied_total{environment,kind,status}
//   - froyo_batch_duration_seconds{environment,kind}
//   - froyo_resources{environment,handler_state}
//   - froyo_dirty_resources{environment}
//   - froyo_model_version{environment}
//   - froyo_blocked_transitions_total{environment,direction}
//   - froyo_deploy_results_total{environment,result}
//   - froyo_errors_by_class_total{class}, froyo_errors_by_code_total{code}
//   - froyo_restores_total{environment,outcome}
//
// All Metrics methods are no-ops when metrics are disabled.
//
// # Events
//
// The EventPublisher emits batch.applied, batch.failed, resource.blocked, resource.unblocked,
// deploy.reported and model.restored events. With EnableAsync the events are buffered and
// delivered from a background goroutine; otherwise subscribers run inline in Publish.
package telemetry
