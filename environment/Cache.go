package environment

import "fmt"

// Cache is an explicit, caller-owned cache of constructed
// environments, keyed by a configuration key chosen by the caller.
// It exists so that expensive environments built only to inspect their
// properties, dimensions for example, can be reused instead of being
// reconstructed, without any hidden process-wide state.
type Cache struct {
	envs map[string]Environment
}

// NewCache returns a new, empty environment Cache
func NewCache() *Cache {
	return &Cache{envs: make(map[string]Environment)}
}

// Get returns the environment cached under key, constructing and
// caching it with makeEnv on the first request
func (c *Cache) Get(key string, makeEnv func() (Environment, error)) (
	Environment, error) {
	if env, ok := c.envs[key]; ok {
		return env, nil
	}

	env, err := makeEnv()
	if err != nil {
		return nil, fmt.Errorf("get: could not create environment %q: %v",
			key, err)
	}
	c.envs[key] = env

	return env, nil
}

// Len returns the number of environments currently cached
func (c *Cache) Len() int {
	return len(c.envs)
}

// Close closes every cached environment that requires closing and
// empties the cache
func (c *Cache) Close() error {
	var firstErr error
	for key, env := range c.envs {
		if closer, ok := env.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("close: could not close environment "+
					"%q: %v", key, err)
			}
		}
	}
	c.envs = make(map[string]Environment)

	return firstErr
}
