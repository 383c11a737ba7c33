package main

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"

	"daemon-rpc/message"
)

// chain is a stand-in block source: it "mines" a block every interval so that
// pollers have something to watch.
type chain struct {
	mu     sync.RWMutex
	hashes []string
	peers  int
}

func newChain() *chain {
	c := &chain{peers: 8}
	c.mine()
	return c
}

func (c *chain) mine() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(len(c.hashes)))
	sum := sha256.Sum256(buf[:])
	c.hashes = append(c.hashes, hex.EncodeToString(sum[:]))
}

func (c *chain) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mine()
		}
	}
}

type none struct{}

func (c *chain) GetBlockCount(context.Context, *none) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.hashes) - 1), nil
}

func (c *chain) GetBestBlockHash(context.Context, *none) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hashes[len(c.hashes)-1], nil
}

func (c *chain) GetBlockHash(_ context.Context, height *int64) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if *height < 0 || *height >= int64(len(c.hashes)) {
		return "", message.NewError(-8, "Block height out of range")
	}
	return c.hashes[*height], nil
}

func (c *chain) GetConnectionCount(context.Context, *none) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peers, nil
}
