package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SnapshotCache 实时统计快照缓存
//
// 周期性地把格式化统计写入 habit:live:<session_id>，带 TTL，
// 进程退出后缓存自然过期。外部看板只读该 key，不触达服务本体。
type SnapshotCache struct {
	kv        KVStore
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewSnapshotCache 创建快照缓存
func NewSnapshotCache(kv KVStore, keyPrefix string, ttl time.Duration, logger *zap.Logger) *SnapshotCache {
	return &SnapshotCache{
		kv:        kv,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger,
	}
}

// Key 会话对应的缓存 key
func (c *SnapshotCache) Key(sessionID string) string {
	return c.keyPrefix + sessionID
}

// Publish 发布一次快照（JSON 序列化后整体覆盖写入）
func (c *SnapshotCache) Publish(ctx context.Context, sessionID string, snapshot interface{}) error {
	if sessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := c.kv.Set(ctx, c.Key(sessionID), string(data), c.ttl); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

// Fetch 读取快照并反序列化到 dest，缓存不存在返回 ErrCacheMiss
func (c *SnapshotCache) Fetch(ctx context.Context, sessionID string, dest interface{}) error {
	if sessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	val, err := c.kv.Get(ctx, c.Key(sessionID))
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return nil
}
