package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/blockroom/roomd/room/domain"
)

// SQLiteRoomRepository persists Room metadata (title, capacity, created at)
// via raw database/sql, following the repository's own CREATE TABLE IF NOT
// EXISTS convention rather than an ORM. Lock/presence/commit state never
// touches this store; only the long-lived room record does.
type SQLiteRoomRepository struct {
	db *sql.DB
}

func NewSQLiteRoomRepository(db *sql.DB) *SQLiteRoomRepository {
	return &SQLiteRoomRepository{db: db}
}

// Init creates the schema if it doesn't already exist. Called once at
// startup; there is no separate migration runner, matching the source's
// own idempotent-DDL approach.
func (r *SQLiteRoomRepository) Init(ctx context.Context) error {
	const query = `CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		max_users INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to init room schema: %w", err)
	}
	return nil
}

// GetOrCreate returns the room's existing metadata, or creates it with the
// given defaults if this is the first time it has been requested.
func (r *SQLiteRoomRepository) GetOrCreate(ctx context.Context, id string, defaultMaxUsers int) (domain.Room, error) {
	room, err := r.Get(ctx, id)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, domain.ErrRoomNotFound) {
		return domain.Room{}, err
	}

	room = domain.Room{
		ID:        id,
		Title:     id,
		MaxUsers:  defaultMaxUsers,
		CreatedAt: time.Now().UTC(),
	}
	const insert = `INSERT INTO rooms (id, title, max_users, created_at) VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, insert, room.ID, room.Title, room.MaxUsers, room.CreatedAt); err != nil {
		return domain.Room{}, fmt.Errorf("room repository: create %s: %w", id, err)
	}
	return room, nil
}

func (r *SQLiteRoomRepository) Get(ctx context.Context, id string) (domain.Room, error) {
	const query = `SELECT id, title, max_users, created_at FROM rooms WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)

	var room domain.Room
	err := row.Scan(&room.ID, &room.Title, &room.MaxUsers, &room.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("room repository: get %s: %w", id, err)
	}
	return room, nil
}
