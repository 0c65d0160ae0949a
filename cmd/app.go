package main

import (
	"context"

	"docuchat/internal/config"
	"docuchat/internal/embedding"
	"docuchat/internal/llmservice"
	"docuchat/internal/rag"
	"docuchat/internal/vectorstore"
)

// app holds the process-wide services: one index handle, one embedding
// resolver with its client cache, one chat service.
type app struct {
	store vectorstore.Store
	rag   *rag.RAG
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := vectorstore.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	resolver := embedding.NewResolver(cfg.EmbedLLM, embedding.WithDimensionSource(store))
	vs := vectorstore.New(store, resolver, cfg.RAG.Namespace)
	chat := llmservice.New(cfg.InferLLM)

	return &app{
		store: store,
		rag:   rag.NewRAG(vs, resolver, chat, cfg.RAG),
	}, nil
}

// newOffline builds a pipeline that can only extract and chunk.
func newOffline(cfg *config.Config) *rag.RAG {
	return rag.NewRAG(nil, nil, llmservice.New(cfg.InferLLM), cfg.RAG)
}

func (a *app) Close() error {
	return a.store.Close()
}
