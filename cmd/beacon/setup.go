// setup.go builds the pieces main wires into the engine.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	cxdbclient "github.com/strongdm/ai-cxdb/clients/go"
	"github.com/strongdm/beacon/internal/config"
	"github.com/strongdm/beacon/pkg/beacon"
	"github.com/strongdm/beacon/pkg/beacon/sessionstore/file"
	redisstore "github.com/strongdm/beacon/pkg/beacon/sessionstore/redis"
	"github.com/strongdm/beacon/pkg/beacon/sinks/async"
	"github.com/strongdm/beacon/pkg/beacon/sinks/cxdb"
	"github.com/strongdm/beacon/pkg/beacon/sinks/multi"
	"github.com/strongdm/beacon/pkg/beacon/sinks/stderr"
)

const serviceName = "beacon"

// newLogger returns a slog logger tagged with the service name.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With("service", serviceName)
}

// newSessionStore returns the configured store and a release func. The
// memory store is represented by nil, which the engine defaults.
func newSessionStore(ctx context.Context, cfg config.SessionConfig, logger *slog.Logger) (beacon.SessionStore, func(), error) {
	noop := func() {}
	switch cfg.Store {
	case config.StoreFile:
		dir := cfg.Dir
		if dir == "" {
			var err error
			if dir, err = file.DefaultDir(); err != nil {
				return nil, noop, err
			}
		}
		store, err := file.New(dir)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case config.StoreRedis:
		store, err := redisstore.New(ctx, redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Redis.TTL,
			Logger:   logger,
		})
		if err != nil {
			return nil, noop, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, noop, nil
	}
}

// newSink builds the envelope path: the transport behind an async queue,
// plus optional stderr echo and cxdb archive.
func newSink(transport beacon.Transport, f *flags, logger *slog.Logger) (beacon.Sink, func(), error) {
	sinks := []beacon.Sink{
		async.New(beacon.NewTransportSink(transport),
			async.WithLogger(logger),
			async.WithOnDropped(func(count int) {
				logger.Warn("envelopes dropped from send queue", "count", count)
			})),
	}
	if f.echo {
		sinks = append(sinks, stderr.New(stderr.WithVerbose()))
	}

	release := func() {}
	if f.cxdbAddr != "" {
		client, err := cxdbclient.Dial(f.cxdbAddr, cxdbclient.WithClientTag(serviceName))
		if err != nil {
			return nil, release, fmt.Errorf("connect to cxdb %s: %w", f.cxdbAddr, err)
		}
		release = func() { _ = client.Close() }
		sinks = append(sinks, cxdb.New(client, cxdb.WithClientTag(serviceName)))
	}
	return multi.New(sinks...), release, nil
}
