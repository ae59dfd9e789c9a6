// Package repository contains data access logic for users and messages.
// Messages of every type share the 'messages' table; only the columns of
// the active variant are non-NULL (see model.Row).
package repository

import (
	"context"      // context for controlling query lifetime
	"database/sql" // sql provides DB abstraction
	"errors"       // errors for sentinel matching
	"fmt"          // fmt wraps scan failures with the row id

	"github.com/iliyamo/eno-chat/internal/model"
)

// DefaultListLimit is the size of the window returned by List.
const DefaultListLimit = 100

// MessageRepo manages persistence for messages.
type MessageRepo struct {
	db *sql.DB
}

// NewMessageRepo constructs a MessageRepo with the given DB handle.
func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Ping verifies the database connection; used by the health endpoint.
func (r *MessageRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const selectMessage = `SELECT m.id, m.sender_id, u.username, m.type, m.text, m.emoji, m.sticker,
       m.file_name, m.file_path, m.file_size, m.mime_type, m.checksum, m.created_at
FROM messages m
JOIN users u ON u.id = m.sender_id`

// Append validates the payload and inserts it for senderID.  Nothing is
// written when validation fails.  The stored row is read back so the
// caller gets the server timestamp and the sender's username.
func (r *MessageRepo) Append(ctx context.Context, senderID uint64, p model.Payload) (model.Message, error) {
	if p == nil {
		return model.Message{}, fmt.Errorf("%w: missing payload", model.ErrInvalidPayload)
	}
	p = model.Normalize(p)
	if err := p.Validate(); err != nil {
		return model.Message{}, err
	}
	row := model.ToRow(p)
	const q = `INSERT INTO messages (sender_id, type, text, emoji, sticker, file_name, file_path, file_size, mime_type, checksum)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q,
		senderID, row.Type, row.Text, row.Emoji, row.Sticker,
		row.FileName, row.FilePath, row.FileSize, row.ContentType, row.Checksum)
	if err != nil {
		return model.Message{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Message{}, err
	}
	return r.GetByID(ctx, uint64(id))
}

// GetByID retrieves a single message with its sender's username.
func (r *MessageRepo) GetByID(ctx context.Context, id uint64) (model.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, selectMessage+" WHERE m.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, ErrNotFound
	}
	return m, err
}

// List returns the newest limit messages ordered oldest to newest.  A
// limit outside 1..DefaultListLimit is clamped to DefaultListLimit.
func (r *MessageRepo) List(ctx context.Context, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, selectMessage+" ORDER BY m.created_at DESC, m.id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Query is newest first so LIMIT keeps the latest window; flip it.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (model.Message, error) {
	var (
		m   model.Message
		row model.Row
	)
	err := s.Scan(&m.ID, &m.SenderID, &m.SenderUsername, &row.Type,
		&row.Text, &row.Emoji, &row.Sticker,
		&row.FileName, &row.FilePath, &row.FileSize, &row.ContentType, &row.Checksum,
		&m.CreatedAt)
	if err != nil {
		return model.Message{}, err
	}
	p, err := model.PayloadFromRow(row)
	if err != nil {
		// Corrupt rows are server faults; keep ErrInvalidPayload out of the chain.
		return model.Message{}, fmt.Errorf("message %d: corrupt row: %v", m.ID, err)
	}
	m.Payload = p
	return m, nil
}
