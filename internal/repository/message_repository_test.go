package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/eno-chat/internal/model"
)

var msgCols = []string{"id", "sender_id", "username", "type", "text", "emoji", "sticker",
	"file_name", "file_path", "file_size", "mime_type", "checksum", "created_at"}

func TestMessageRepo_Append_Text(t *testing.T) {
	db, mock := newMock(t)
	r := NewMessageRepo(db)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO messages \(sender_id, type, text, emoji, sticker, file_name, file_path, file_size, mime_type, checksum\)`).
		WithArgs(uint64(3), "text", "hello", nil, nil, nil, nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectQuery(`FROM messages m\s+JOIN users u ON u.id = m.sender_id WHERE m.id = \?`).
		WithArgs(uint64(10)).
		WillReturnRows(sqlmock.NewRows(msgCols).
			AddRow(10, 3, "alice", "text", "hello", nil, nil, nil, nil, nil, nil, nil, now))

	m, err := r.Append(context.Background(), 3, model.Text{Body: "  hello  "})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), m.ID)
	assert.Equal(t, "alice", m.SenderUsername)
	assert.Equal(t, model.Text{Body: "hello"}, m.Payload)
	assert.Equal(t, now, m.CreatedAt)
}

func TestMessageRepo_Append_File(t *testing.T) {
	db, mock := newMock(t)
	r := NewMessageRepo(db)
	now := time.Now().UTC()
	att := model.Attachment{
		FileName:    "report.pdf",
		Path:        "1714564800000-0123456789abcdef.pdf",
		Size:        2048,
		ContentType: "application/pdf",
		Checksum:    "deadbeef",
	}

	mock.ExpectExec(`INSERT INTO messages`).
		WithArgs(uint64(3), "file", nil, nil, nil, att.FileName, att.Path, att.Size, att.ContentType, att.Checksum).
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectQuery(`WHERE m.id = \?`).
		WithArgs(uint64(11)).
		WillReturnRows(sqlmock.NewRows(msgCols).
			AddRow(11, 3, "alice", "file", nil, nil, nil, att.FileName, att.Path, att.Size, att.ContentType, att.Checksum, now))

	m, err := r.Append(context.Background(), 3, model.File{Attachment: att})
	require.NoError(t, err)
	assert.Equal(t, model.File{Attachment: att}, m.Payload)
}

func TestMessageRepo_Append_InvalidWritesNothing(t *testing.T) {
	db, _ := newMock(t)
	r := NewMessageRepo(db)

	for _, p := range []model.Payload{nil, model.Text{Body: "   "}, model.Emoji{}, model.Image{}} {
		_, err := r.Append(context.Background(), 3, p)
		require.ErrorIs(t, err, model.ErrInvalidPayload)
	}
	// newMock fails the test if any statement was issued.
}

func TestMessageRepo_List_OrderAndClamp(t *testing.T) {
	db, mock := newMock(t)
	r := NewMessageRepo(db)
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// Rows come back newest first.
	mock.ExpectQuery(`ORDER BY m.created_at DESC, m.id DESC LIMIT \?`).
		WithArgs(DefaultListLimit).
		WillReturnRows(sqlmock.NewRows(msgCols).
			AddRow(3, 1, "alice", "sticker", nil, nil, "wave", nil, nil, nil, nil, nil, t0.Add(2*time.Second)).
			AddRow(2, 2, "bob", "emoji", nil, "🔥", nil, nil, nil, nil, nil, nil, t0.Add(time.Second)).
			AddRow(1, 1, "alice", "text", "hi", nil, nil, nil, nil, nil, nil, nil, t0))

	msgs, err := r.List(context.Background(), 500)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	assert.Equal(t, model.Emoji{Emoji: "🔥"}, msgs[1].Payload)
	assert.Equal(t, "bob", msgs[1].SenderUsername)
}

func TestMessageRepo_List_Empty(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`LIMIT \?`).WithArgs(20).WillReturnRows(sqlmock.NewRows(msgCols))

	msgs, err := NewMessageRepo(db).List(context.Background(), 20)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.NotNil(t, msgs)
}

func TestMessageRepo_List_CorruptRowIsServerError(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`LIMIT \?`).
		WithArgs(DefaultListLimit).
		WillReturnRows(sqlmock.NewRows(msgCols).
			AddRow(1, 1, "alice", "text", nil, nil, nil, nil, nil, nil, nil, nil, time.Now()))

	_, err := NewMessageRepo(db).List(context.Background(), 0)
	require.Error(t, err)
	require.False(t, errors.Is(err, model.ErrInvalidPayload))
}

func TestMessageRepo_GetByID_NotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`WHERE m.id = \?`).WithArgs(uint64(99)).WillReturnRows(sqlmock.NewRows(msgCols))

	_, err := NewMessageRepo(db).GetByID(context.Background(), 99)
	require.ErrorIs(t, err, ErrNotFound)
}
