package providers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rexl2018/aiapiproxy/internal/apierror"
	"github.com/rexl2018/aiapiproxy/internal/config"
	"github.com/rexl2018/aiapiproxy/internal/schema"
	"github.com/rexl2018/aiapiproxy/internal/signature"
)

// Router resolves client model names to a provider, mode, and upstream
// model, and dispatches canonical calls to the matching adapter. One
// adapter instance exists per adapter type; adapter state is HTTP client
// pools shared across providers of that type.
type Router struct {
	cfg      *config.Manager
	logger   *slog.Logger
	adapters map[string]Adapter
}

func NewRouter(cfg *config.Manager, logger *slog.Logger, sigs *signature.Cache) *Router {
	return &Router{
		cfg:    cfg,
		logger: logger,
		adapters: map[string]Adapter{
			config.TypeOpenAI:     NewOpenAIAdapter(logger),
			config.TypeResponses:  NewResponsesAdapter(logger),
			config.TypeGeminiMode: NewGeminiModeAdapter(logger, sigs),
		},
	}
}

// Resolve maps a client model name to a provider/model path. Rules, first
// match wins: an explicit path naming a configured pair; the model-mapping
// table (exact, then case-insensitive substring in either direction); a
// model key under any provider; a model alias under any provider.
func (r *Router) Resolve(model string) (string, *apierror.Error) {
	cfg := r.cfg.Get()

	if strings.Contains(model, "/") {
		provider, key, _ := strings.Cut(model, "/")
		if p, ok := cfg.Providers[provider]; ok {
			if _, ok := p.Models[key]; ok {
				return model, nil
			}
		}
	}

	if path, ok := cfg.ResolveClientModel(model); ok {
		return path, nil
	}

	for name, p := range cfg.Providers {
		if _, ok := p.Models[model]; ok {
			return name + "/" + model, nil
		}
	}
	for name, p := range cfg.Providers {
		for key, m := range p.Models {
			if m.Alias == model {
				return name + "/" + key, nil
			}
		}
	}

	return "", apierror.NotFound("model %q is not configured", model)
}

// Route looks up the adapter and configuration for a resolved path.
func (r *Router) Route(path string) (Adapter, *config.Provider, *config.Model, *apierror.Error) {
	providerName, modelKey, ok := strings.Cut(path, "/")
	if !ok {
		return nil, nil, nil, apierror.NotFound("invalid model path %q", path)
	}
	cfg := r.cfg.Get()

	prov, ok := cfg.Providers[providerName]
	if !ok {
		return nil, nil, nil, apierror.NotFound("provider %q is not configured", providerName)
	}
	model, ok := prov.Models[modelKey]
	if !ok {
		return nil, nil, nil, apierror.NotFound("model %q is not configured under provider %q", modelKey, providerName)
	}
	if model.Name == "" {
		model.Name = modelKey
	}

	adapter, ok := r.adapters[r.adapterType(&prov)]
	if !ok {
		return nil, nil, nil, apierror.NotFound("provider %q has unsupported type %q", providerName, prov.Type)
	}
	return adapter, &prov, &model, nil
}

// adapterType folds the provider's mode switch into the adapter key: a
// responses-host provider in gemini mode routes to the gemini adapter.
func (r *Router) adapterType(prov *config.Provider) string {
	if prov.Type == config.TypeResponses && prov.Mode() == "gemini" {
		return config.TypeGeminiMode
	}
	return prov.Type
}

// ChatComplete resolves, routes, and dispatches a non-stream call. The
// request's model is replaced by the resolved path for log correlation;
// the adapter substitutes the upstream name.
func (r *Router) ChatComplete(ctx context.Context, req *schema.ChatRequest) (*schema.ChatResponse, error) {
	adapter, prov, model, aerr := r.prepare(req)
	if aerr != nil {
		return nil, aerr
	}
	return adapter.ChatComplete(ctx, req, prov, model)
}

// ChatStream resolves, routes, and dispatches a stream call.
func (r *Router) ChatStream(ctx context.Context, req *schema.ChatRequest) (<-chan StreamResult, error) {
	adapter, prov, model, aerr := r.prepare(req)
	if aerr != nil {
		return nil, aerr
	}
	return adapter.ChatStream(ctx, req, prov, model)
}

func (r *Router) prepare(req *schema.ChatRequest) (Adapter, *config.Provider, *config.Model, *apierror.Error) {
	path, aerr := r.Resolve(req.Model)
	if aerr != nil {
		return nil, nil, nil, aerr
	}
	adapter, prov, model, aerr := r.Route(path)
	if aerr != nil {
		return nil, nil, nil, aerr
	}
	r.logger.Info("routing request",
		"requested_model", req.Model,
		"resolved_path", path,
		"adapter", adapter.Name(),
	)
	req.Model = path
	return adapter, prov, model, nil
}

// ClientModels lists every client-facing name the router can resolve:
// mapping keys, provider/model paths, and aliases.
func (r *Router) ClientModels() []string {
	cfg := r.cfg.Get()
	var names []string
	for key := range cfg.ModelMapping {
		names = append(names, key)
	}
	for providerName, p := range cfg.Providers {
		for key, m := range p.Models {
			names = append(names, providerName+"/"+key)
			if m.Alias != "" {
				names = append(names, m.Alias)
			}
		}
	}
	return names
}
