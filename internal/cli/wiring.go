package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/roach88/murelay/internal/compute"
	"github.com/roach88/murelay/internal/config"
	"github.com/roach88/murelay/internal/engine"
	"github.com/roach88/murelay/internal/nodes"
	"github.com/roach88/murelay/internal/sequencer"
	"github.com/roach88/murelay/internal/signer"
	"github.com/roach88/murelay/internal/store"
)

// relay is a fully wired pipeline.
type relay struct {
	cache    store.Cache
	local    *sequencer.Local // nil with a remote sequencer
	selector *nodes.Selector
	proc     *engine.Processor
	cranker  *engine.Cranker
}

// relayOptions lets tests swap collaborators.
type relayOptions struct {
	ids engine.CrankIDGenerator
}

// openRelay opens the cache and wires every collaborator from cfg.
// The caller must Close the relay.
func openRelay(ctx context.Context, cfg *config.Config, ro relayOptions) (*relay, error) {
	s, err := loadOrCreateKey(cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	table, err := nodes.LoadTable(cfg.NodesFile)
	if err != nil {
		return nil, fmt.Errorf("load node table: %w", err)
	}

	cache, err := store.OpenCache(ctx, cfg.CacheName)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", cfg.CacheName, err)
	}

	sel, err := nodes.NewSelector(table, cache)
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("build node selector: %w", err)
	}
	if err := sel.SeedPins(ctx); err != nil {
		cache.Close()
		return nil, fmt.Errorf("seed process pins: %w", err)
	}

	r := &relay{cache: cache, selector: sel}

	var seq engine.Sequencer
	if cfg.UsesLocalSequencer() {
		r.local = sequencer.NewLocal(s)
		seq = r.local
	} else {
		seq = sequencer.NewClient(cfg.SequencerURL, s)
	}

	r.proc = engine.NewProcessor(cache, seq, compute.NewClient(), sel,
		engine.WithRetryPolicy(engine.RetryPolicy{
			MaxAttempts: cfg.RetryAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		}),
	)

	copts := []engine.CrankerOption{
		engine.WithMaxDepth(cfg.MaxDepth),
		engine.WithMaxNodes(cfg.MaxNodes),
		engine.WithConcurrency(cfg.Concurrency),
	}
	if ro.ids != nil {
		copts = append(copts, engine.WithIDGenerator(ro.ids))
	}
	r.cranker = engine.NewCranker(r.proc, copts...)

	slog.Debug("relay wired",
		"cache", cfg.CacheName,
		"sequencer", cfg.SequencerURL,
		"nodes", len(sel.Nodes()),
	)
	return r, nil
}

// Close releases the cache.
func (r *relay) Close() error {
	return r.cache.Close()
}

// loadOrCreateKey loads the signing key, generating and saving one on
// first use.
func loadOrCreateKey(path string) (*signer.Signer, error) {
	s, err := signer.Load(path)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load signing key: %w", err)
	}

	s, err = signer.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	if err := s.Save(path); err != nil {
		return nil, fmt.Errorf("save signing key: %w", err)
	}
	slog.Info("generated signing key", "path", path, "public_key", s.PublicKey())
	return s, nil
}
