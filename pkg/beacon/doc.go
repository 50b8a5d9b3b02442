// Package beacon is a client-side telemetry engine for Go processes.
//
// beacon captures errors and messages as envelopes and delivers them
// immediately, and buffers performance metrics per session and platform,
// delivering them in batches when a buffer fills, after an idle interval,
// or on an explicit flush.
//
// # Core Components
//
//   - SessionManager: one logical session per process, persisted in a SessionStore
//   - EnvelopeBuilder: fills envelope defaults, scrubs, fingerprints
//   - BufferStore: per-key metric buffers with an idle/armed/inflight flush state machine
//   - Transport: single-attempt network delivery (see transport/httpx)
//   - CriticalSender: rate-limited delivery of single metrics outside batching
//   - Sink: envelope destinations (transport, async, multi, stderr, cxdb)
//
// # Quick Start
//
//	cfg := beacon.DefaultConfig()
//	cfg.Endpoint = "https://collector.example.com/api"
//	cfg.APIKey = os.Getenv("BEACON_API_KEY")
//
//	transport, err := httpx.New(cfg)
//	if err != nil {
//	    return err
//	}
//	engine, err := beacon.New(cfg,
//	    beacon.WithTransport(transport),
//	    beacon.WithDefaultScrubbing(),
//	)
//	if err != nil {
//	    return err
//	}
//	defer engine.Close(context.Background())
//
//	engine.AddMetric(beacon.MetricRecord{Type: "runtime", Name: "queue.depth", Value: 12})
//	engine.CaptureException(ctx, err, nil)
//
// # Delivery Guarantees
//
//   - A batch is detached from its buffer before it is sent; records added
//     during a send are never part of it
//   - A failed batch is merged back in front of newer records and re-sent
//     by the next trigger, in order, without duplicates
//   - At most one batch is in flight per buffer key
//   - Telemetry failures never propagate into the host
package beacon
