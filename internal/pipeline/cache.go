// Package pipeline owns the single live super-resolution model instance.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go-image-upscaler/internal/backend"
	"go-image-upscaler/internal/logger"
	"go-image-upscaler/pkg/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrCacheClosed is returned by GetInstance after Close
var ErrCacheClosed = errors.New("pipeline cache closed")

// Instance is a cached pipeline bound to one tier
type Instance struct {
	cache      *Cache
	pipe       backend.Pipeline
	tier       models.ModelQuality
	modelID    string
	generation uint64

	// guarded by cache.mu
	inflight int
	retired  bool
	closed   bool
}

// Tier returns the tier the instance was built for
func (i *Instance) Tier() models.ModelQuality { return i.tier }

// ModelID returns the model identifier the instance was built from
func (i *Instance) ModelID() string { return i.modelID }

// Generation increases by one for every instance the cache constructs
func (i *Instance) Generation() uint64 { return i.generation }

// Superseded reports whether a newer instance has replaced this one
func (i *Instance) Superseded() bool {
	i.cache.mu.Lock()
	defer i.cache.mu.Unlock()
	return i.retired
}

// Run invokes the pipeline. The caller must hold the instance, i.e. not have released it yet.
func (i *Instance) Run(ctx context.Context, imageURL string) (*models.UpscaleOutput, error) {
	return i.pipe.Run(ctx, imageURL)
}

// Release returns the hold taken by GetInstance. A superseded instance is closed when
// its last holder releases it; runs in flight on it are never cancelled.
func (i *Instance) Release() {
	i.cache.release(i)
}

// Cache holds at most one live instance and rebuilds it when the requested tier changes.
// Replacement is last-writer-wins: the most recently completed construction becomes current.
type Cache struct {
	backend backend.InferenceBackend
	table   ModelTable

	mu         sync.Mutex
	current    *Instance
	generation uint64
	closed     bool

	group singleflight.Group
}

// NewCache creates an empty cache building pipelines with b
func NewCache(b backend.InferenceBackend, table ModelTable) *Cache {
	return &Cache{backend: b, table: table}
}

// maxAcquireAttempts bounds retries when a joined build is superseded before it can be held
const maxAcquireAttempts = 3

// GetInstance returns the cached instance when its tier matches, otherwise constructs one.
// The returned instance is held for the caller, who must call Release when done.
// onProgress only sees construction events of a build started by this call; callers that
// join an in-progress build for the same tier, or hit the cache, get none.
func (c *Cache) GetInstance(ctx context.Context, tier models.ModelQuality, onProgress backend.ProgressCallback) (*Instance, error) {
	tier = tier.Normalize()

	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrCacheClosed
		}
		if cur := c.current; cur != nil && cur.tier == tier {
			cur.inflight++
			c.mu.Unlock()
			return cur, nil
		}
		c.mu.Unlock()

		inst, created, err := c.build(ctx, tier, onProgress)
		if err != nil {
			return nil, err
		}
		if created {
			// install already took the hold for the builder
			return inst, nil
		}
		if c.tryAcquire(inst) {
			return inst, nil
		}
		// The joined build was superseded and closed before we could hold it
	}
	return nil, fmt.Errorf("pipeline for tier %s superseded %d times while loading", tier, maxAcquireAttempts)
}

func (c *Cache) build(ctx context.Context, tier models.ModelQuality, onProgress backend.ProgressCallback) (*Instance, bool, error) {
	modelID := c.table.ModelFor(tier)
	// A shared build must not be cancelled by whichever caller started it
	buildCtx := context.WithoutCancel(ctx)

	created := false
	v, err, shared := c.group.Do(string(tier), func() (interface{}, error) {
		created = true
		pipe, err := c.backend.Pipeline(buildCtx, backend.TaskImageToImage, modelID, backend.Options{
			ProgressCallback: onProgress,
		})
		if err != nil {
			return nil, err
		}
		return c.install(tier, modelID, pipe)
	})
	if err != nil {
		return nil, false, err
	}

	inst := v.(*Instance)
	logger.WithFields(logrus.Fields{
		"tier":       tier,
		"model":      modelID,
		"generation": inst.generation,
		"shared":     shared,
	}).Debug("Pipeline instance constructed")
	return inst, created, nil
}

func (c *Cache) tryAcquire(inst *Instance) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if inst.closed {
		return false
	}
	inst.inflight++
	return true
}

func (c *Cache) install(tier models.ModelQuality, modelID string, pipe backend.Pipeline) (*Instance, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = pipe.Close()
		return nil, ErrCacheClosed
	}
	c.generation++
	inst := &Instance{
		cache:      c,
		pipe:       pipe,
		tier:       tier,
		modelID:    modelID,
		generation: c.generation,
		inflight:   1,
	}
	old := c.current
	c.current = inst
	drop := c.retireLocked(old)
	c.mu.Unlock()

	if drop != nil {
		logger.WithFields(logrus.Fields{
			"tier":       drop.tier,
			"generation": drop.generation,
		}).Debug("Closing superseded pipeline instance")
		_ = drop.pipe.Close()
	}
	return inst, nil
}

// retireLocked marks inst as superseded and returns it when it can be closed right away
func (c *Cache) retireLocked(inst *Instance) *Instance {
	if inst == nil {
		return nil
	}
	inst.retired = true
	if inst.inflight == 0 && !inst.closed {
		inst.closed = true
		return inst
	}
	return nil
}

func (c *Cache) release(inst *Instance) {
	c.mu.Lock()
	inst.inflight--
	closeNow := inst.retired && inst.inflight == 0 && !inst.closed
	if closeNow {
		inst.closed = true
	}
	c.mu.Unlock()

	if closeNow {
		_ = inst.pipe.Close()
	}
}

// Current reports the tier and generation of the live instance
func (c *Cache) Current() (models.ModelQuality, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return "", 0, false
	}
	return c.current.tier, c.current.generation, true
}

// Close releases the live instance. Holders finish their runs before it is closed.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	drop := c.retireLocked(c.current)
	c.current = nil
	c.mu.Unlock()

	if drop != nil {
		return drop.pipe.Close()
	}
	return nil
}
