package embedding

import "github.com/scrypster/mnemo/internal/config"

// New selects and wraps the configured embedding backend behind the process
// LRU cache, following cfg.Embedding.UsePortableRuntime.
func New(cfg config.EmbeddingConfig) (Provider, error) {
	var backend Provider
	if cfg.UsePortableRuntime {
		pb, err := NewPortableBackend("", 384)
		if err != nil {
			return nil, err
		}
		backend = pb
	} else {
		backend = NewOllamaBackend(OllamaConfig{BaseURL: cfg.OllamaURL, Model: cfg.ModelName})
	}

	return NewCachedProvider(backend, cfg.CacheSize)
}
