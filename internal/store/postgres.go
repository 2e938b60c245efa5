// Package store 房間記錄的持久化服務
//
// 協調器只負責在房間清空時刪除記錄；建立記錄屬於大廳服務，
// 這裡的 CreateRoom 供測試與管理工具使用。
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound 記錄不存在
var ErrNotFound = errors.New("room record not found")

// RoomRecord rooms 資料表的一列
type RoomRecord struct {
	Key       string
	Name      string
	CreatedBy string
	CreatedAt time.Time
}

// Postgres 以 PostgreSQL 儲存房間記錄
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect 建立連接池並驗證連線
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// NewPostgres 使用既有連接池
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// CreateRoom 新增房間記錄（已存在時不變）
func (p *Postgres) CreateRoom(ctx context.Context, rec RoomRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO rooms (room_key, name, created_by)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (room_key) DO NOTHING`,
		rec.Key, rec.Name, rec.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert room %s: %w", rec.Key, err)
	}
	return nil
}

// GetRoom 讀取房間記錄
func (p *Postgres) GetRoom(ctx context.Context, key string) (RoomRecord, error) {
	var rec RoomRecord
	err := p.pool.QueryRow(ctx,
		`SELECT room_key, name, created_by, created_at FROM rooms WHERE room_key = $1`,
		key).Scan(&rec.Key, &rec.Name, &rec.CreatedBy, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RoomRecord{}, ErrNotFound
	}
	if err != nil {
		return RoomRecord{}, fmt.Errorf("select room %s: %w", key, err)
	}
	return rec, nil
}

// DeleteRoom 刪除房間記錄
//
// 記錄不存在不視為錯誤（可能已被大廳服務清除）。
func (p *Postgres) DeleteRoom(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM rooms WHERE room_key = $1`, key); err != nil {
		return fmt.Errorf("delete room %s: %w", key, err)
	}
	return nil
}

// Ping 健康檢查
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close 關閉連接池
func (p *Postgres) Close() {
	p.pool.Close()
}
