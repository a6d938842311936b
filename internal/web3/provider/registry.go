package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/config"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/web3"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/web3/ethereum"
)

// DialFunc constructs a chain reader. Tests replace it with in-process nodes.
type DialFunc func(ctx context.Context, cfg ethereum.Config) (web3.ChainReader, error)

// Registry manages chain readers keyed by venue, plus readers dialed on
// demand for arbitrary confirmation endpoints.
type Registry struct {
	network        string
	defs           web3.Definitions
	dial           DialFunc
	healthTimeout  time.Duration
	confirmTimeout time.Duration

	mu      sync.Mutex
	readers map[string]web3.ChainReader
	byURL   map[string]web3.ChainReader
}

// Option customises the registry.
type Option func(*Registry)

// WithDialer overrides how readers are constructed.
func WithDialer(dial DialFunc) Option {
	return func(r *Registry) {
		if dial != nil {
			r.dial = dial
		}
	}
}

// NewRegistry loads venue definitions and instantiates readers for the
// configured network.
func NewRegistry(ctx context.Context, cfg config.Web3Config, opts ...Option) (*Registry, error) {
	defs, err := web3.LoadDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}
	return NewFromDefinitions(ctx, defs, cfg, opts...)
}

// NewFromDefinitions builds a registry from already parsed definitions.
func NewFromDefinitions(ctx context.Context, defs web3.Definitions, cfg config.Web3Config, opts ...Option) (*Registry, error) {
	r := &Registry{
		network:        strings.ToLower(cfg.Network),
		defs:           defs,
		healthTimeout:  cfg.HealthTimeout(),
		confirmTimeout: cfg.ConfirmTimeout(),
		readers:        make(map[string]web3.ChainReader),
		byURL:          make(map[string]web3.ChainReader),
		dial: func(ctx context.Context, cfg ethereum.Config) (web3.ChainReader, error) {
			return ethereum.NewClient(ctx, cfg)
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.network == "" {
		r.network = "mainnet"
	}

	for _, venue := range defs.VenueNames() {
		def, ok := defs.Lookup(venue, r.network)
		if !ok {
			continue
		}
		reader, err := r.dial(ctx, ethereum.Config{
			Name:           venue,
			RPCURL:         def.RPCURL,
			BackupRPCURL:   def.BackupRPCURL,
			Notes:          def.Description,
			HealthTimeout:  r.healthTimeout,
			ConfirmTimeout: r.confirmTimeout,
		})
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("初始化场馆 %s 链客户端失败: %w", venue, err)
		}
		r.readers[venue] = reader
		r.byURL[def.RPCURL] = reader
	}

	if len(r.readers) == 0 {
		return nil, fmt.Errorf("网络 %s 未配置任何场馆", r.network)
	}
	return r, nil
}

// Network returns the selected network ("mainnet" or "testnet").
func (r *Registry) Network() string {
	return r.network
}

// Venue returns the reader and definition for a venue.
func (r *Registry) Venue(name string) (web3.ChainReader, web3.ChainDefinition, error) {
	if r == nil {
		return nil, web3.ChainDefinition{}, errors.New("未初始化的链客户端注册表")
	}
	name = strings.ToLower(name)
	def, ok := r.defs.Lookup(name, r.network)
	if !ok {
		return nil, web3.ChainDefinition{}, fmt.Errorf("未知的场馆 %s", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	reader, ok := r.readers[name]
	if !ok {
		return nil, web3.ChainDefinition{}, fmt.Errorf("场馆 %s 未在注册表中", name)
	}
	return reader, def, nil
}

// ForURL returns a reader bound to rpcURL, dialing it on first use.
func (r *Registry) ForURL(ctx context.Context, rpcURL string) (web3.ChainReader, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, errors.New("RPC 地址不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if reader, ok := r.byURL[rpcURL]; ok {
		return reader, nil
	}
	reader, err := r.dial(ctx, ethereum.Config{
		Name:           rpcURL,
		RPCURL:         rpcURL,
		HealthTimeout:  r.healthTimeout,
		ConfirmTimeout: r.confirmTimeout,
	})
	if err != nil {
		return nil, err
	}
	r.byURL[rpcURL] = reader
	return reader, nil
}

// Venues returns the venues available on the selected network.
func (r *Registry) Venues() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.readers))
	for _, name := range r.defs.VenueNames() {
		if _, ok := r.readers[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Close releases all readers managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	closed := make(map[web3.ChainReader]bool)
	for _, reader := range r.readers {
		if reader != nil && !closed[reader] {
			reader.Close()
			closed[reader] = true
		}
	}
	for _, reader := range r.byURL {
		if reader != nil && !closed[reader] {
			reader.Close()
			closed[reader] = true
		}
	}
	r.readers = make(map[string]web3.ChainReader)
	r.byURL = make(map[string]web3.ChainReader)
}
