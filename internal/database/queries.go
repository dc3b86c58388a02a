package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	accountColumns = "id, username, email, password_hash, is_restricted, read_receipts, created_at, updated_at"
	messageColumns = "id, conversation_id, sender_id, content, attachment_url, was_read, created_at"

	insertMemberQuery = "INSERT INTO conversation_members (conversation_id, account_id, joined_at) " +
		"VALUES (?, ?, ?) ON CONFLICT (conversation_id, account_id) DO NOTHING"
)

func scanAccount(row interface{ Scan(...any) error }) (Account, error) {
	var a Account
	err := row.Scan(
		&a.Id,
		&a.Username,
		&a.EmailAddress,
		&a.PasswordHash,
		&a.IsRestricted,
		&a.ReadReceipts,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}

	return a, err
}

func (db *DB) GetAccountById(ctx context.Context, id int) (Account, error) {
	row := db.conn.QueryRowContext(ctx,
		db.rebind("SELECT "+accountColumns+" FROM accounts WHERE id = ? LIMIT 1"),
		id,
	)

	return scanAccount(row)
}

func (db *DB) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	row := db.conn.QueryRowContext(ctx,
		db.rebind("SELECT "+accountColumns+" FROM accounts WHERE email = ? LIMIT 1"),
		email,
	)

	return scanAccount(row)
}

func (db *DB) GetConversation(ctx context.Context, id int64) (Conversation, error) {
	return db.getConversation(ctx, db.conn, id)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (db *DB) getConversation(ctx context.Context, q querier, id int64) (Conversation, error) {
	query := `
		SELECT
				c.id,
				c.user_a,
				c.user_b,
				c.created_at,
				m.account_id
		FROM conversations c
		LEFT JOIN conversation_members m ON m.conversation_id = c.id
		WHERE c.id = ?
		ORDER BY m.account_id`

	rows, err := q.QueryContext(ctx, db.rebind(query), id)
	if err != nil {
		return Conversation{}, fmt.Errorf("fetch conversation: %w", err)
	}
	defer rows.Close()

	var (
		conv  Conversation
		found bool
	)
	for rows.Next() {
		var member sql.NullInt64
		if err := rows.Scan(&conv.Id, &conv.UserA, &conv.UserB, &conv.CreatedAt, &member); err != nil {
			return Conversation{}, fmt.Errorf("scan row: %w", err)
		}

		found = true
		if member.Valid {
			conv.Members = append(conv.Members, int(member.Int64))
		}
	}

	if err := rows.Err(); err != nil {
		return Conversation{}, fmt.Errorf("rows error: %w", err)
	}

	if !found {
		return Conversation{}, ErrNotFound
	}

	return conv, nil
}

// GetOrCreateConversation returns the conversation between the two accounts,
// creating it with newId if none exists. The bool result reports whether it
// was created. The initiator becomes a member again if they had left.
func (db *DB) GetOrCreateConversation(ctx context.Context, newId int64, initiatorId, otherId int) (Conversation, bool, error) {
	if initiatorId == otherId {
		return Conversation{}, false, fmt.Errorf("conversation with self")
	}

	userA, userB := orderPair(initiatorId, otherId)
	now := time.Now().UTC()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Conversation{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		db.rebind("INSERT INTO conversations (id, user_a, user_b, created_at) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT (user_a, user_b) DO NOTHING"),
		newId,
		userA,
		userB,
		now,
	)
	if err != nil {
		return Conversation{}, false, fmt.Errorf("insert conversation: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return Conversation{}, false, err
	}
	created := inserted == 1

	var id int64
	err = tx.QueryRowContext(ctx,
		db.rebind("SELECT id FROM conversations WHERE user_a = ? AND user_b = ?"),
		userA,
		userB,
	).Scan(&id)
	if err != nil {
		return Conversation{}, false, fmt.Errorf("select conversation: %w", err)
	}

	members := []int{initiatorId}
	if created {
		members = append(members, otherId)
	}
	for _, m := range members {
		if _, err = tx.ExecContext(ctx, db.rebind(insertMemberQuery), id, m, now); err != nil {
			return Conversation{}, false, fmt.Errorf("insert member: %w", err)
		}
	}

	conv, err := db.getConversation(ctx, tx, id)
	if err != nil {
		return Conversation{}, false, err
	}

	if err = tx.Commit(); err != nil {
		return Conversation{}, false, err
	}

	return conv, created, nil
}

func (db *DB) ListConversations(ctx context.Context, accountId int) ([]ConversationListing, error) {
	query := `
		SELECT
				c.id,
				c.user_a,
				c.user_b,
				c.created_at,
				a.id,
				a.username
		FROM conversation_members m
		JOIN conversations c ON c.id = m.conversation_id
		JOIN accounts a ON a.id = CASE WHEN c.user_a = ? THEN c.user_b ELSE c.user_a END
		WHERE m.account_id = ?
		ORDER BY COALESCE((SELECT MAX(msg.id) FROM messages msg WHERE msg.conversation_id = c.id), c.id) DESC`

	rows, err := db.conn.QueryContext(ctx, db.rebind(query), accountId, accountId)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	listings := make([]ConversationListing, 0)
	for rows.Next() {
		var l ConversationListing
		if err := rows.Scan(
			&l.Conversation.Id,
			&l.Conversation.UserA,
			&l.Conversation.UserB,
			&l.Conversation.CreatedAt,
			&l.Counterpart.Id,
			&l.Counterpart.Username,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		listings = append(listings, l)
	}

	return listings, rows.Err()
}

func (db *DB) LeaveConversation(ctx context.Context, conversationId int64, accountId int) error {
	res, err := db.conn.ExecContext(ctx,
		db.rebind("DELETE FROM conversation_members WHERE conversation_id = ? AND account_id = ?"),
		conversationId,
		accountId,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

func (db *DB) CreateMessage(ctx context.Context, msg Message) error {
	_, err := db.conn.ExecContext(ctx,
		db.rebind("INSERT INTO messages ("+messageColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)"),
		msg.Id,
		msg.ConversationId,
		msg.SenderId,
		msg.Content,
		sql.NullString{String: msg.AttachmentURL, Valid: msg.AttachmentURL != ""},
		false,
		msg.CreatedAt,
	)

	return err
}

// GetMessages returns up to limit messages of the conversation with an id
// lower than before, newest first, skipping the first offset of them.
// A before of 0 means no upper bound.
func (db *DB) GetMessages(ctx context.Context, conversationId, before int64, limit, offset int) ([]Message, error) {
	if before <= 0 {
		before = math.MaxInt64
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := db.conn.QueryContext(ctx,
		db.rebind("SELECT "+messageColumns+" FROM messages "+
			"WHERE conversation_id = ? AND id < ? ORDER BY id DESC LIMIT ? OFFSET ?"),
		conversationId,
		before,
		limit,
		offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var (
			msg        Message
			attachment sql.NullString
		)
		if err := rows.Scan(
			&msg.Id,
			&msg.ConversationId,
			&msg.SenderId,
			&msg.Content,
			&attachment,
			&msg.WasRead,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		msg.AttachmentURL = attachment.String
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// MarkMessagesRead flags every unread message of the conversation that was
// not sent by the reader and reports how many rows changed.
func (db *DB) MarkMessagesRead(ctx context.Context, conversationId int64, readerId int, readAt time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		db.rebind("UPDATE messages SET was_read = ?, read_at = ? "+
			"WHERE conversation_id = ? AND sender_id <> ? AND was_read = ?"),
		true,
		readAt,
		conversationId,
		readerId,
		false,
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
