package remote

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Conf identifies one cluster's ssh endpoint.
type Conf struct {
	Cluster  string
	User     string
	HeadNode string
	Timeout  time.Duration
}

func (c Conf) key() string {
	return fmt.Sprintf("%s:%s@%s", c.Cluster, c.User, c.HeadNode)
}

// Pool caches one Client per cluster. Concurrency safe: a read-write lock
// guards the map and singleflight collapses concurrent creation of the same
// key into one execution.
type Pool struct {
	mu     sync.RWMutex
	g      singleflight.Group
	pool   map[string]*Client
	logger *slog.Logger
}

func NewPool(logger *slog.Logger) *Pool {
	return &Pool{
		pool:   make(map[string]*Client),
		logger: logger,
	}
}

// FetchOrCreate returns the pooled Client for conf, creating it on first use.
func (p *Pool) FetchOrCreate(conf Conf) (*Client, error) {
	if conf.Cluster == "" {
		return nil, fmt.Errorf("cluster name is required")
	}
	if conf.User == "" || conf.HeadNode == "" {
		return nil, fmt.Errorf("cluster %s: user and head node are required", conf.Cluster)
	}
	key := conf.key()

	p.mu.RLock()
	c, ok := p.pool[key]
	p.mu.RUnlock()
	if ok {
		return c, nil
	}

	v, err, _ := p.g.Do(key, func() (any, error) {
		p.mu.RLock()
		c, ok := p.pool[key]
		p.mu.RUnlock()
		if ok {
			return c, nil
		}
		c = New(conf.User, conf.HeadNode, conf.Timeout, p.logger)
		p.mu.Lock()
		p.pool[key] = c
		p.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}
