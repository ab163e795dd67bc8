// Package metrics exposes cuba's run counters to Prometheus.
//
// A Collector is created once per engine process via NewCollector, using
// Configuration.Monitoring.Metrics as its Config. When disabled, every
// method is a no-op, so callers never need an `if enabled` branch of their
// own:
//
//	collector, _ := metrics.NewCollector(&metrics.Config{
//		Enabled: cfg.Monitoring.Metrics.Enabled,
//		Port:    cfg.Monitoring.Metrics.Port,
//	})
//	_ = collector.Start(ctx)
//	defer collector.Stop(ctx)
//
//	result, err := engine.Backup(ctx, handle, "docs")
//	collector.RecordRun("docs", "backup", handle.Elapsed(), result.Success(), metrics.RunSummary{
//		FilesCompleted: result.Summary.FilesCompleted,
//		FilesFailed:    result.Summary.FilesFailed,
//		BytesCompleted: result.Summary.BytesCompleted,
//	})
package metrics
