// Package agentssdk connects ai-agents-sdk runners to a beacon engine.
//
// Instrument wraps an agents.Runner so that run errors are captured as
// error envelopes and panics are captured and re-panicked. The wrapper
// installs a HookAdapter on every run; it records per-run enrichment
// (agent, operation, tool, model and a short breadcrumb trail) and emits
// llm.latency, llm.tokens and tool.duration metrics through AddMetric.
//
// The enrichment reaches envelopes through Adapter, which must share the
// runner's EnrichmentStore:
//
//	store := agentssdk.NewEnrichmentStore()
//	engine, err := beacon.New(cfg,
//	    beacon.WithTransport(transport),
//	    beacon.WithAdapter(agentssdk.NewAdapter(store)),
//	)
//	runner := agentssdk.Instrument(agents.NewRunner(client), engine,
//	    agentssdk.WithEnrichmentStore(store))
package agentssdk
