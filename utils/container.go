package utils

import (
	"context"
	"sync"
)

type ServiceName string

const (
	Classifier ServiceName = "classifier"
	Cache      ServiceName = "cache"
	Provider   ServiceName = "provider"
)

type container struct {
	mu       sync.RWMutex
	services map[ServiceName]interface{}
}

// Container holds the long lived services shared between commands and HTTP handlers
var Container = &container{
	services: make(map[ServiceName]interface{}),
}

func (c *container) Assign(_ context.Context, name ServiceName, service interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.services[name] = service
}

func (c *container) Fetch(_ context.Context, name ServiceName) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.services[name]
}

func (c *container) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.services = make(map[ServiceName]interface{})
}
