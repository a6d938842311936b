package ethereum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/web3"
	"github.com/Maxxit-ai/maxxit-latest-sub005/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

const (
	defaultConfirmTimeout = 2 * time.Minute
	defaultPollInterval   = 2 * time.Second
	defaultHealthTimeout  = 3 * time.Second
)

// Config describes how to construct an EVM compatible chain reader.
type Config struct {
	Name           string
	RPCURL         string
	BackupRPCURL   string
	Notes          string
	HealthTimeout  time.Duration
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// chainBackend mirrors the subset of ethclient used by the reader.
type chainBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Client implements web3.ChainReader for EVM compatible chains.
type Client struct {
	name           string
	notes          string
	endpoint       string
	rpcClient      *gethrpc.Client
	backend        chainBackend
	confirmTimeout time.Duration
	pollInterval   time.Duration
	mu             sync.Mutex
}

var _ web3.ChainReader = (*Client)(nil)

// NewClient dials the configured endpoint. When the primary endpoint fails a
// health check and a backup is configured, the backup is used instead. When
// both are unhealthy the primary is kept so a transient outage does not stop
// startup.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置 RPC 地址")
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}

	log := logger.Named("web3").With(slog.String("chain", cfg.Name))

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接节点 %s 失败: %w", rpcURL, err)
	}
	endpoint := rpcURL

	backupURL := strings.TrimSpace(cfg.BackupRPCURL)
	if backupURL != "" && backupURL != rpcURL && !healthy(ctx, rpcClient, cfg.HealthTimeout) {
		log.Warn("primary RPC unhealthy, trying backup", slog.String("primary", rpcURL), slog.String("backup", backupURL))
		backup, dialErr := gethrpc.DialContext(ctx, backupURL)
		switch {
		case dialErr != nil:
			log.Error("dial backup RPC failed", slog.Any("error", dialErr))
		case healthy(ctx, backup, cfg.HealthTimeout):
			rpcClient.Close()
			rpcClient = backup
			endpoint = backupURL
			log.Info("switched to backup RPC", slog.String("endpoint", backupURL))
		default:
			backup.Close()
			log.Error("both RPC endpoints unhealthy, proceeding with primary")
		}
	}

	client := NewFromRPC(cfg, rpcClient)
	client.endpoint = endpoint
	return client, nil
}

// NewFromRPC wraps an already dialed rpc client, e.g. an in-process server.
func NewFromRPC(cfg Config, rpcClient *gethrpc.Client) *Client {
	c := &Client{
		name:           cfg.Name,
		notes:          cfg.Notes,
		endpoint:       cfg.RPCURL,
		rpcClient:      rpcClient,
		backend:        ethclient.NewClient(rpcClient),
		confirmTimeout: cfg.ConfirmTimeout,
		pollInterval:   cfg.PollInterval,
	}
	if c.confirmTimeout <= 0 {
		c.confirmTimeout = defaultConfirmTimeout
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	return c
}

func healthy(ctx context.Context, rpcClient *gethrpc.Client, timeout time.Duration) bool {
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := ethclient.NewClient(rpcClient).BlockNumber(checkCtx)
	return err == nil
}

// Endpoint returns the URL actually in use.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
	c.rpcClient = nil
	c.backend = nil
}

func (c *Client) chain() (chainBackend, error) {
	if c == nil {
		return nil, errors.New("未初始化的链客户端")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == nil {
		return nil, errors.New("链客户端已关闭")
	}
	return c.backend, nil
}

// ChainID returns the chain id reported by the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	backend, err := c.chain()
	if err != nil {
		return nil, err
	}
	id, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	return id, nil
}

// BalanceAt returns the latest native balance of account.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	backend, err := c.chain()
	if err != nil {
		return nil, err
	}
	balance, err := backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// CallContract executes a read-only call against the latest block.
func (c *Client) CallContract(ctx context.Context, msg gethcore.CallMsg) ([]byte, error) {
	backend, err := c.chain()
	if err != nil {
		return nil, err
	}
	out, err := backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("合约调用失败: %w", err)
	}
	return out, nil
}

// WaitForReceipt polls for the receipt of hash until it is mined or the
// confirmation timeout elapses. A timeout yields (nil, nil) so callers can
// decide whether to retry; cancellation of ctx is returned as an error.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	backend, err := c.chain()
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := backend.TransactionReceipt(waitCtx, hash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err != nil && !errors.Is(err, gethcore.NotFound):
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if waitCtx.Err() == nil {
				logger.Named("web3").Debug("receipt poll failed",
					slog.String("chain", c.name),
					slog.String("tx_hash", hash.Hex()),
					slog.Any("error", err))
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-waitCtx.Done():
			return nil, nil
		case <-ticker.C:
		}
	}
}

// Snapshot gathers lightweight metadata from the chain.
func (c *Client) Snapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	backend, err := c.chain()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Endpoint:    c.endpoint,
		Notes:       c.notes,
	}, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
