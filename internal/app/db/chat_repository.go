package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"studysphere/internal/app/chat"
	"studysphere/internal/pkg/randx"
)

// DBTX is the query surface shared by a pool and a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ChatRepository implements chat.Repository on PostgreSQL.
type ChatRepository struct {
	pool *pgxpool.Pool
}

// NewChatRepository creates a repository backed by pool.
func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

var _ chat.Repository = (*ChatRepository)(nil)

const messageColumns = `id, room_id, sender_id, sender_name, sender_email, text, reply_to, client_temp_id, created_at`

func (r *ChatRepository) CreateRoom(ctx context.Context, room chat.ChatRoom) (chat.ChatRoom, error) {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		createdAt := pgtype.Timestamptz{Time: room.CreatedAt, Valid: !room.CreatedAt.IsZero()}

		err := tx.QueryRow(ctx, `
			INSERT INTO chat_rooms (id, name, description, color, icon, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
			RETURNING created_at`,
			room.ID, room.Name, room.Description, room.Color, room.Icon, room.CreatedBy, createdAt,
		).Scan(&room.CreatedAt)
		if err != nil {
			if IsUniqueViolation(err) {
				return chat.ErrRoomExists
			}
			return fmt.Errorf("insert room %s: %w", room.ID, err)
		}

		for _, member := range room.Members {
			if err := addMember(ctx, tx, room.ID, member); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return chat.ChatRoom{}, err
	}

	return r.GetRoom(ctx, room.ID)
}

func (r *ChatRepository) GetRoom(ctx context.Context, roomID string) (chat.ChatRoom, error) {
	var room chat.ChatRoom

	err := r.pool.QueryRow(ctx, `
		SELECT id, name, description, color, icon, created_by, created_at
		FROM chat_rooms WHERE id = $1`, roomID,
	).Scan(&room.ID, &room.Name, &room.Description, &room.Color, &room.Icon, &room.CreatedBy, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chat.ChatRoom{}, chat.ErrNotFound
		}
		return chat.ChatRoom{}, fmt.Errorf("get room %s: %w", roomID, err)
	}
	room.CreatedAt = room.CreatedAt.UTC()

	members, err := r.listMembers(ctx, []string{roomID})
	if err != nil {
		return chat.ChatRoom{}, err
	}
	room.Members = members[roomID]
	if room.Members == nil {
		room.Members = []string{}
	}

	return room, nil
}

func (r *ChatRepository) ListRooms(ctx context.Context) ([]chat.ChatRoom, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, color, icon, created_by, created_at
		FROM chat_rooms ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	rooms, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.ChatRoom, error) {
		var room chat.ChatRoom
		err := row.Scan(&room.ID, &room.Name, &room.Description, &room.Color, &room.Icon, &room.CreatedBy, &room.CreatedAt)
		room.CreatedAt = room.CreatedAt.UTC()
		return room, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan rooms: %w", err)
	}

	ids := make([]string, len(rooms))
	for i := range rooms {
		ids[i] = rooms[i].ID
	}

	members, err := r.listMembers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range rooms {
		rooms[i].Members = members[rooms[i].ID]
		if rooms[i].Members == nil {
			rooms[i].Members = []string{}
		}
	}

	return rooms, nil
}

func (r *ChatRepository) listMembers(ctx context.Context, roomIDs []string) (map[string][]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT room_id, user_id FROM chat_room_members
		WHERE room_id = ANY($1)
		ORDER BY joined_at, user_id`, roomIDs)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string, len(roomIDs))
	for rows.Next() {
		var roomID, userID string
		if err := rows.Scan(&roomID, &userID); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out[roomID] = append(out[roomID], userID)
	}
	return out, rows.Err()
}

func (r *ChatRepository) AddMember(ctx context.Context, roomID, userID string) error {
	return addMember(ctx, r.pool, roomID, userID)
}

func addMember(ctx context.Context, db DBTX, roomID, userID string) error {
	_, err := db.Exec(ctx, `
		INSERT INTO chat_room_members (room_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, roomID, userID)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return chat.ErrNotFound
		}
		return fmt.Errorf("add member %s/%s: %w", roomID, userID, err)
	}
	return nil
}

func (r *ChatRepository) RemoveMember(ctx context.Context, roomID, userID string) error {
	if err := r.roomExists(ctx, r.pool, roomID); err != nil {
		return err
	}

	if _, err := r.pool.Exec(ctx, `DELETE FROM chat_room_members WHERE room_id = $1 AND user_id = $2`, roomID, userID); err != nil {
		return fmt.Errorf("remove member %s/%s: %w", roomID, userID, err)
	}
	return nil
}

func (r *ChatRepository) roomExists(ctx context.Context, db DBTX, roomID string) error {
	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chat_rooms WHERE id = $1)`, roomID).Scan(&exists); err != nil {
		return fmt.Errorf("check room %s: %w", roomID, err)
	}
	if !exists {
		return chat.ErrNotFound
	}
	return nil
}

// CreateMessage stores msg with a fresh id. The timestamp is the database
// clock, clamped so that a room's history never goes back in time.
func (r *ChatRepository) CreateMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	msg.ID = randx.MessageID()
	msg.Reactions = []chat.Reaction{}

	replyTo := pgtype.Text{String: msg.ReplyTo, Valid: msg.ReplyTo != ""}
	tempID := pgtype.Text{String: msg.TempID, Valid: msg.TempID != ""}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO messages (id, room_id, sender_id, sender_name, sender_email, text, reply_to, client_temp_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
			GREATEST(now(), COALESCE((SELECT max(created_at) FROM messages WHERE room_id = $2), now())))
		RETURNING created_at`,
		msg.ID, msg.RoomID, msg.SenderID, msg.SenderName, msg.SenderEmail, msg.Text, replyTo, tempID,
	).Scan(&msg.CreatedAt)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return chat.Message{}, chat.ErrNotFound
		}
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}
	msg.CreatedAt = msg.CreatedAt.UTC()

	return msg, nil
}

func (r *ChatRepository) GetMessage(ctx context.Context, messageID string) (chat.Message, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, messageID)
	if err != nil {
		return chat.Message{}, fmt.Errorf("get message %s: %w", messageID, err)
	}

	msg, err := pgx.CollectExactlyOneRow(rows, scanMessage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chat.Message{}, chat.ErrNotFound
		}
		return chat.Message{}, fmt.Errorf("scan message %s: %w", messageID, err)
	}

	reactions, err := listReactions(ctx, r.pool, []string{msg.ID})
	if err != nil {
		return chat.Message{}, err
	}
	msg.Reactions = reactionsOrEmpty(reactions[msg.ID])

	return msg, nil
}

func (r *ChatRepository) ListMessages(ctx context.Context, roomID string, q chat.HistoryQuery) ([]chat.Message, error) {
	if err := r.roomExists(ctx, r.pool, roomID); err != nil {
		return nil, err
	}

	limit := q.Limit
	switch {
	case limit <= 0:
		limit = chat.DefaultHistoryLimit
	case limit > chat.MaxHistoryLimit:
		limit = chat.MaxHistoryLimit
	}

	after := pgtype.Timestamptz{Time: q.After, Valid: !q.After.IsZero()}

	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE room_id = $1 AND ($2::timestamptz IS NULL OR created_at > $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		) recent
		ORDER BY created_at ASC, id ASC`, roomID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages %s: %w", roomID, err)
	}

	msgs, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, fmt.Errorf("scan messages %s: %w", roomID, err)
	}
	if len(msgs) == 0 {
		return []chat.Message{}, nil
	}

	ids := make([]string, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
	}

	reactions, err := listReactions(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].Reactions = reactionsOrEmpty(reactions[msgs[i].ID])
	}

	return msgs, nil
}

// ToggleReaction inserts the reaction, or deletes it when the primary key
// already held it, in one transaction.
func (r *ChatRepository) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, []chat.Reaction, error) {
	var (
		added     bool
		reactions []chat.Reaction
	)

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO message_reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`, messageID, userID, emoji)
		if err != nil {
			if IsForeignKeyViolation(err) {
				return chat.ErrNotFound
			}
			return fmt.Errorf("insert reaction: %w", err)
		}

		added = tag.RowsAffected() == 1
		if !added {
			if _, err := tx.Exec(ctx, `
				DELETE FROM message_reactions
				WHERE message_id = $1 AND user_id = $2 AND emoji = $3`, messageID, userID, emoji); err != nil {
				return fmt.Errorf("delete reaction: %w", err)
			}
		}

		byMessage, err := listReactions(ctx, tx, []string{messageID})
		if err != nil {
			return err
		}
		reactions = reactionsOrEmpty(byMessage[messageID])
		return nil
	})
	if err != nil {
		return false, nil, err
	}

	return added, reactions, nil
}

func listReactions(ctx context.Context, db DBTX, messageIDs []string) (map[string][]chat.Reaction, error) {
	rows, err := db.Query(ctx, `
		SELECT message_id, emoji, user_id, created_at FROM message_reactions
		WHERE message_id = ANY($1)
		ORDER BY created_at, emoji, user_id`, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]chat.Reaction, len(messageIDs))
	for rows.Next() {
		var (
			messageID string
			reaction  chat.Reaction
		)
		if err := rows.Scan(&messageID, &reaction.Emoji, &reaction.UserID, &reaction.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		reaction.CreatedAt = reaction.CreatedAt.UTC()
		out[messageID] = append(out[messageID], reaction)
	}
	return out, rows.Err()
}

func scanMessage(row pgx.CollectableRow) (chat.Message, error) {
	var (
		msg       chat.Message
		replyTo   pgtype.Text
		tempID    pgtype.Text
		createdAt time.Time
	)

	err := row.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.SenderName, &msg.SenderEmail, &msg.Text, &replyTo, &tempID, &createdAt)
	if err != nil {
		return chat.Message{}, err
	}

	msg.ReplyTo = replyTo.String
	msg.TempID = tempID.String
	msg.CreatedAt = createdAt.UTC()
	msg.Reactions = []chat.Reaction{}
	return msg, nil
}

func reactionsOrEmpty(r []chat.Reaction) []chat.Reaction {
	if r == nil {
		return []chat.Reaction{}
	}
	return r
}
