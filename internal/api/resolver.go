package api

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"formbase/internal/crypto"
	"formbase/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Resolver builds clients from stored instance configuration. Clients are
// cached per instance key so the org-unit name cache survives across calls.
type Resolver struct {
	db      *gorm.DB
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// NewResolver creates a resolver over the dhis2_instances table.
func NewResolver(db *gorm.DB, timeout time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{
		db:      db,
		timeout: timeout,
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// ClientFor resolves the instance key to a configured client. An unknown key
// yields ErrConfigNotFound rather than a crash.
func (r *Resolver) ClientFor(instanceKey string) (*Client, error) {
	r.mu.Lock()
	if client, ok := r.clients[instanceKey]; ok {
		r.mu.Unlock()
		return client, nil
	}
	r.mu.Unlock()

	var instance models.Dhis2Instance
	if err := r.db.Where("key = ?", instanceKey).First(&instance).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, instanceKey)
		}
		return nil, fmt.Errorf("failed to load instance config: %w", err)
	}

	password, err := crypto.DecryptPassword(instance.PasswordEnc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt password for instance %s: %w", instanceKey, err)
	}

	client := NewClient(instance.BaseURL, instance.Username, password, Options{
		Timeout:          r.timeout,
		AllowInsecureTLS: instance.AllowInsecureTLS,
		Logger:           r.logger,
	})

	r.mu.Lock()
	r.clients[instanceKey] = client
	r.mu.Unlock()

	return client, nil
}

// Invalidate drops the cached client for an instance, e.g. after its
// credentials were updated.
func (r *Resolver) Invalidate(instanceKey string) {
	r.mu.Lock()
	delete(r.clients, instanceKey)
	r.mu.Unlock()
}
