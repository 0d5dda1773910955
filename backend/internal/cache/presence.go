package cache

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// EditorPresence 记录“谁正在编辑这条记录”。存活以心跳键的 TTL 判定，
// 服务端是唯一仲裁者。
type EditorPresence interface {
	AddEditor(ctx context.Context, session string, userID uint64, username string, ttl time.Duration) error
	RefreshEditor(ctx context.Context, session string, userID uint64, ttl time.Duration) error
	RemoveEditor(ctx context.Context, session string, userID uint64) error
	GetAliveEditors(ctx context.Context, session string) ([]Editor, error)
}

type Editor struct {
	UserID   uint64
	Username string
}

type redisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) EditorPresence {
	return &redisPresence{rdb: rdb}
}

func (p *redisPresence) AddEditor(ctx context.Context, session string, userID uint64, username string, ttl time.Duration) error {
	pipe := p.rdb.Pipeline()
	// 会话集合加成员
	pipe.SAdd(ctx, roomKey(session), userID)
	// 心跳键
	pipe.Set(ctx, editorKey(session, userID), "1", ttl)
	// 名字表(哈希)
	pipe.HSet(ctx, namesKey(session), userID, username)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *redisPresence) RefreshEditor(ctx context.Context, session string, userID uint64, ttl time.Duration) error {
	return p.rdb.Set(ctx, editorKey(session, userID), "1", ttl).Err()
}

func (p *redisPresence) RemoveEditor(ctx context.Context, session string, userID uint64) error {
	pipe := p.rdb.Pipeline()
	pipe.SRem(ctx, roomKey(session), userID)
	pipe.Del(ctx, editorKey(session, userID))
	pipe.HDel(ctx, namesKey(session), strconv.FormatUint(userID, 10))
	_, err := pipe.Exec(ctx)
	return err
}

func (p *redisPresence) GetAliveEditors(ctx context.Context, session string) ([]Editor, error) {
	// step1: get candidates
	userIDs, err := p.rdb.SMembers(ctx, roomKey(session)).Result()
	if err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	// step2: check TTL（心跳键还在的才算活着）
	existsCmds := make([]*redis.IntCmd, 0, len(userIDs))
	pipe := p.rdb.Pipeline()
	for _, raw := range userIDs {
		uid, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		existsCmds = append(existsCmds, pipe.Exists(ctx, editorKey(session, uid)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	aliveIDs := make([]uint64, 0, len(userIDs))
	aliveFields := make([]string, 0, len(userIDs))
	for i, cmd := range existsCmds {
		if cmd.Val() == 1 {
			uid, err := strconv.ParseUint(userIDs[i], 10, 64)
			if err != nil {
				return nil, err
			}
			aliveIDs = append(aliveIDs, uid)
			aliveFields = append(aliveFields, userIDs[i])
		}
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}

	// step3: get names
	names, err := p.rdb.HMGet(ctx, namesKey(session), aliveFields...).Result()
	if err != nil {
		return nil, err
	}
	editors := make([]Editor, 0, len(aliveIDs))
	for i, v := range names {
		name := ""
		if v != nil {
			name, _ = v.(string)
		}
		editors = append(editors, Editor{UserID: aliveIDs[i], Username: name})
	}
	return editors, nil
}
