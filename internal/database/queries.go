package database

import (
	"context"
	"fmt"
	"time"
)

const (
	getRoomByParticipantsQuery = "SELECT id, student_id, teacher_id, created_at FROM chat_rooms " +
		"WHERE student_id = $1 AND teacher_id = $2 LIMIT 1"

	createRoomQuery = "INSERT INTO chat_rooms (student_id, teacher_id, created_at) " +
		"VALUES ($1, $2, $3) RETURNING id, student_id, teacher_id, created_at"

	createMessageQuery = "INSERT INTO messages (room_id, sender_id, message, name, avatar, created_at, is_read) " +
		"VALUES ($1, $2, $3, $4, $5, $6, FALSE) RETURNING id"

	getMessagesQuery = "SELECT id, room_id, sender_id, message, name, avatar, created_at, is_read FROM messages " +
		"WHERE room_id = $1 ORDER BY created_at ASC, id ASC"

	markMessagesReadQuery = "UPDATE messages SET is_read = TRUE " +
		"WHERE room_id = $1 AND sender_id <> $2 AND is_read = FALSE"

	// latest qualifying message per room, unread first
	listLatestMessagesQuery = `
		SELECT room_id, student_id, teacher_id, room_created_at,
		       message_id, sender_id, message, name, avatar, created_at, is_read
		FROM (
			SELECT DISTINCT ON (r.id)
				r.id AS room_id,
				r.student_id,
				r.teacher_id,
				r.created_at AS room_created_at,
				m.id AS message_id,
				m.sender_id,
				m.message,
				m.name,
				m.avatar,
				m.created_at,
				m.is_read
			FROM chat_rooms r
			JOIN messages m ON m.room_id = r.id
			WHERE m.sender_id <> $1
			ORDER BY r.id, m.created_at DESC, m.id DESC
		) latest
		ORDER BY is_read ASC, created_at DESC, room_id ASC`
)

func (db *PgChatRepository) GetRoomByParticipants(ctx context.Context, studentId, teacherId int64) (Room, error) {
	row := db.conn.QueryRowContext(ctx, getRoomByParticipantsQuery, studentId, teacherId)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.StudentId,
		&room.TeacherId,
		&room.CreatedAt,
	)

	return room, err
}

func (db *PgChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	row := db.conn.QueryRowContext(ctx, createRoomQuery,
		params.StudentId,
		params.TeacherId,
		time.Now().UTC(),
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.StudentId,
		&room.TeacherId,
		&room.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Room{}, ErrDuplicateRoom
		}
		return Room{}, err
	}

	return room, nil
}

func (db *PgChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	row := db.conn.QueryRowContext(ctx, createMessageQuery,
		params.RoomId,
		params.SenderId,
		params.Body,
		params.Name,
		params.Avatar,
		params.CreatedAt,
	)

	msg := Message{
		RoomId:    params.RoomId,
		SenderId:  params.SenderId,
		Body:      params.Body,
		Name:      params.Name,
		Avatar:    params.Avatar,
		CreatedAt: params.CreatedAt,
	}
	if err := row.Scan(&msg.Id); err != nil {
		if isForeignKeyViolation(err) {
			return Message{}, fmt.Errorf("%w: %d", ErrRoomNotFound, params.RoomId)
		}
		return Message{}, err
	}

	return msg, nil
}

func (db *PgChatRepository) GetMessages(ctx context.Context, roomId int64) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx, getMessagesQuery, roomId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var msg Message
		err := rows.Scan(
			&msg.Id,
			&msg.RoomId,
			&msg.SenderId,
			&msg.Body,
			&msg.Name,
			&msg.Avatar,
			&msg.CreatedAt,
			&msg.IsRead,
		)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return messages, nil
}

func (db *PgChatRepository) MarkMessagesRead(ctx context.Context, roomId, readerId int64) (int64, error) {
	res, err := db.conn.ExecContext(ctx, markMessagesReadQuery, roomId, readerId)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (db *PgChatRepository) ListLatestMessages(ctx context.Context, excludeSenderId int64) ([]InboxRow, error) {
	rows, err := db.conn.QueryContext(ctx, listLatestMessagesQuery, excludeSenderId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]InboxRow, 0)
	for rows.Next() {
		var row InboxRow
		err := rows.Scan(
			&row.Room.Id,
			&row.Room.StudentId,
			&row.Room.TeacherId,
			&row.Room.CreatedAt,
			&row.Message.Id,
			&row.Message.SenderId,
			&row.Message.Body,
			&row.Message.Name,
			&row.Message.Avatar,
			&row.Message.CreatedAt,
			&row.Message.IsRead,
		)
		if err != nil {
			return nil, fmt.Errorf("scan inbox row: %w", err)
		}

		row.Message.RoomId = row.Room.Id
		entries = append(entries, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return entries, nil
}
