package memory

import "context"

// Router dispatches by the persistent flag: persistent writes always go
// to the Postgres-backed store when configured; volatile writes prefer
// Redis when configured, falling back to the in-process map. Reads,
// deletes, and namespace operations check whichever backends are
// configured, preferring persistent storage as the system of record.
type Router struct {
	InMemory *InMemory
	Volatile *Redis    // nil if not configured
	Durable  *Postgres // nil if not configured
}

// NewRouter builds a Router; InMemory is always present as the
// guaranteed fallback.
func NewRouter(volatile *Redis, durable *Postgres) *Router {
	return &Router{InMemory: NewInMemory(), Volatile: volatile, Durable: durable}
}

func (r *Router) Store(ctx context.Context, swarmID, namespace, key string, value interface{}, persistent bool) (bool, error) {
	if persistent && r.Durable != nil {
		return r.Durable.Store(ctx, swarmID, namespace, key, value, persistent)
	}
	if !persistent && r.Volatile != nil {
		return r.Volatile.Store(ctx, swarmID, namespace, key, value, persistent)
	}
	return r.InMemory.Store(ctx, swarmID, namespace, key, value, persistent)
}

func (r *Router) Retrieve(ctx context.Context, swarmID, namespace, key string) (interface{}, bool, error) {
	if r.Durable != nil {
		if v, ok, err := r.Durable.Retrieve(ctx, swarmID, namespace, key); err == nil && ok {
			return v, true, nil
		} else if err != nil {
			return nil, false, err
		}
	}
	if r.Volatile != nil {
		if v, ok, err := r.Volatile.Retrieve(ctx, swarmID, namespace, key); err == nil && ok {
			return v, true, nil
		} else if err != nil {
			return nil, false, err
		}
	}
	return r.InMemory.Retrieve(ctx, swarmID, namespace, key)
}

func (r *Router) Delete(ctx context.Context, swarmID, namespace, key string) error {
	if err := r.InMemory.Delete(ctx, swarmID, namespace, key); err != nil {
		return err
	}
	if r.Volatile != nil {
		if err := r.Volatile.Delete(ctx, swarmID, namespace, key); err != nil {
			return err
		}
	}
	if r.Durable != nil {
		if err := r.Durable.Delete(ctx, swarmID, namespace, key); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) ListKeys(ctx context.Context, swarmID, namespace, pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	collect := func(keys []string) {
		for _, k := range keys {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				out = append(out, k)
			}
		}
	}

	keys, err := r.InMemory.ListKeys(ctx, swarmID, namespace, pattern)
	if err != nil {
		return nil, err
	}
	collect(keys)

	if r.Volatile != nil {
		keys, err := r.Volatile.ListKeys(ctx, swarmID, namespace, pattern)
		if err != nil {
			return nil, err
		}
		collect(keys)
	}
	if r.Durable != nil {
		keys, err := r.Durable.ListKeys(ctx, swarmID, namespace, pattern)
		if err != nil {
			return nil, err
		}
		collect(keys)
	}
	return out, nil
}

func (r *Router) ClearNamespace(ctx context.Context, swarmID, namespace string) error {
	if err := r.InMemory.ClearNamespace(ctx, swarmID, namespace); err != nil {
		return err
	}
	if r.Volatile != nil {
		if err := r.Volatile.ClearNamespace(ctx, swarmID, namespace); err != nil {
			return err
		}
	}
	if r.Durable != nil {
		if err := r.Durable.ClearNamespace(ctx, swarmID, namespace); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) GetMemoryStats(ctx context.Context) (Stats, error) {
	if r.Durable != nil {
		return r.Durable.GetMemoryStats(ctx)
	}
	if r.Volatile != nil {
		return r.Volatile.GetMemoryStats(ctx)
	}
	return r.InMemory.GetMemoryStats(ctx)
}
