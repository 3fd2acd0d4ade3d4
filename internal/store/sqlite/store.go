// Package sqlite implements the room store over a single SQLite file.
// Sequence numbers are derived as MAX(seq)+1 inside the same transaction as
// the insert; the coordinator's room-keyed mutex is what keeps two writers
// from computing the same next value.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS room_members (
	room_id  TEXT NOT NULL REFERENCES rooms(id),
	user_id  TEXT NOT NULL,
	username TEXT NOT NULL,
	status   TEXT NOT NULL,
	PRIMARY KEY (room_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_room_members_status ON room_members (room_id, status);
CREATE INDEX IF NOT EXISTS idx_room_members_user ON room_members (user_id, status);

CREATE TABLE IF NOT EXISTS room_events (
	room_id TEXT NOT NULL REFERENCES rooms(id),
	seq     INTEGER NOT NULL,
	type    TEXT NOT NULL,
	username TEXT NOT NULL,
	at      INTEGER NOT NULL,
	text    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (room_id, seq)
);
`

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements core.RoomStore over SQLite.
type Store struct {
	db *sql.DB
}

// Open opens the store and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) InsertRoom(ctx context.Context, room domain.Room) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, name) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
		string(room.ID), room.Name)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	if n == 0 {
		return core.ErrRoomExists
	}
	return nil
}

func (s *Store) Room(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	var room domain.Room
	var rawID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM rooms WHERE id = ?`, string(id)).
		Scan(&rawID, &room.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Room{}, core.ErrNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("fetch room: %w", err)
	}
	room.ID = domain.RoomID(rawID)
	return room, nil
}

func (s *Store) Rooms(ctx context.Context) ([]core.RoomSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, COUNT(m.user_id)
		FROM rooms r
		LEFT JOIN room_members m ON m.room_id = r.id AND m.status = ?
		GROUP BY r.id, r.name
		ORDER BY r.id`,
		string(domain.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	out := make([]core.RoomSummary, 0)
	for rows.Next() {
		var sum core.RoomSummary
		var id string
		if err := rows.Scan(&id, &sum.Name, &sum.ActiveUsers); err != nil {
			return nil, fmt.Errorf("scan room summary: %w", err)
		}
		sum.ID = domain.RoomID(id)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *Store) Member(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.Member, bool, error) {
	if err := s.requireRoom(ctx, roomID); err != nil {
		return domain.Member{}, false, err
	}
	var username, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT username, status FROM room_members WHERE room_id = ? AND user_id = ?`,
		string(roomID), string(userID)).
		Scan(&username, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Member{}, false, nil
	}
	if err != nil {
		return domain.Member{}, false, fmt.Errorf("fetch member: %w", err)
	}
	return domain.Member{UserID: userID, Username: username, Status: domain.Status(status)}, true, nil
}

func (s *Store) PutMember(ctx context.Context, roomID domain.RoomID, member domain.Member) error {
	if err := s.requireRoom(ctx, roomID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_members (room_id, user_id, username, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (room_id, user_id) DO UPDATE SET username = excluded.username, status = excluded.status`,
		string(roomID), string(member.UserID), member.Username, string(member.Status))
	if err != nil {
		return fmt.Errorf("put member: %w", err)
	}
	return nil
}

func (s *Store) UsernameTaken(ctx context.Context, roomID domain.RoomID, username string) (bool, error) {
	if err := s.requireRoom(ctx, roomID); err != nil {
		return false, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM room_members
		WHERE room_id = ? AND username = ? AND status IN (?, ?)`,
		string(roomID), username, string(domain.StatusPending), string(domain.StatusActive)).
		Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ActiveUsernames(ctx context.Context, roomID domain.RoomID) ([]string, error) {
	if err := s.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT username FROM room_members
		WHERE room_id = ? AND status = ?
		ORDER BY username`,
		string(roomID), string(domain.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("list active usernames: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan username: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) ActiveRooms(ctx context.Context, userID domain.UserID) ([]domain.RoomID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id FROM room_members
		WHERE user_id = ? AND status = ?
		ORDER BY room_id`,
		string(userID), string(domain.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("list active rooms: %w", err)
	}
	defer rows.Close()

	var out []domain.RoomID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan room id: %w", err)
		}
		out = append(out, domain.RoomID(id))
	}
	return out, rows.Err()
}

func (s *Store) Events(ctx context.Context, roomID domain.RoomID) ([]domain.Event, error) {
	if err := s.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, type, username, at, text FROM room_events
		WHERE room_id = ?
		ORDER BY seq`,
		string(roomID))
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Event, 0)
	for rows.Next() {
		var ev domain.Event
		var typ string
		var at int64
		if err := rows.Scan(&ev.Sequence, &typ, &ev.Username, &at, &ev.Text); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = domain.EventType(typ)
		ev.Timestamp = fromMillis(at)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) AppendEvent(ctx context.Context, roomID domain.RoomID, draft core.EventDraft, status *core.StatusChange) (domain.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms WHERE id = ?`, string(roomID)).Scan(&exists); err != nil {
		return domain.Event{}, fmt.Errorf("check room: %w", err)
	}
	if exists == 0 {
		return domain.Event{}, core.ErrNotFound
	}

	var seq uint64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM room_events WHERE room_id = ?`,
		string(roomID)).Scan(&seq)
	if err != nil {
		return domain.Event{}, fmt.Errorf("next sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO room_events (room_id, seq, type, username, at, text)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(roomID), seq, string(draft.Type), draft.Username, toMillis(draft.Timestamp), draft.Text)
	if err != nil {
		return domain.Event{}, fmt.Errorf("insert event: %w", err)
	}

	if status != nil {
		res, err := tx.ExecContext(ctx, `
			UPDATE room_members SET status = ?
			WHERE room_id = ? AND user_id = ?`,
			string(status.Status), string(roomID), string(status.UserID))
		if err != nil {
			return domain.Event{}, fmt.Errorf("update status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return domain.Event{}, fmt.Errorf("update status: %w", err)
		}
		if n != 1 {
			return domain.Event{}, fmt.Errorf("update status: expected 1 member row, got %d", n)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Event{}, fmt.Errorf("commit append: %w", err)
	}

	return domain.Event{
		Sequence:  seq,
		Type:      draft.Type,
		Username:  draft.Username,
		Timestamp: fromMillis(toMillis(draft.Timestamp)),
		Text:      draft.Text,
	}, nil
}

func (s *Store) requireRoom(ctx context.Context, roomID domain.RoomID) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms WHERE id = ?`, string(roomID)).Scan(&n); err != nil {
		return fmt.Errorf("check room: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}
