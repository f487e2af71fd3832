package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/comigor/triage-go/internal/classifier"
	"github.com/comigor/triage-go/internal/config"
	"github.com/comigor/triage-go/internal/conversation"
	"github.com/comigor/triage-go/internal/llm"
	"github.com/comigor/triage-go/internal/lock"
	"github.com/comigor/triage-go/internal/logger"
	"github.com/comigor/triage-go/internal/store"
	"github.com/comigor/triage-go/internal/triage"
)

// app owns everything a command needs and closes it in reverse order.
type app struct {
	store   conversation.Store
	engine  *triage.Engine
	closers []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if cfg.LLM.APIKey == "" {
		logger.L.Warn("no LLM API key configured; every reply will be the fallback message")
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a := &app{store: st, closers: []io.Closer{st}}

	locker, err := lock.New(cfg.Lock)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := locker.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	gateway := classifier.New(llm.NewClient(cfg.LLM), cfg.LLM)
	a.engine = triage.New(st, gateway,
		triage.WithLocker(locker),
		triage.WithLogger(logger.WithComponent("triage").With("store", cfg.Store.Driver)))

	logger.L.Info("triage engine ready",
		"store", cfg.Store.Driver,
		"lock", cfg.Lock.Backend,
		"model", cfg.LLM.Model)
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
