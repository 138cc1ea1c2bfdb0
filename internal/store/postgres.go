package store

import (
	"context"
	"errors"
	"time"

	"obrolan/server/internal/apperr"
	"obrolan/server/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the durable Repository. Appends take a transaction-scoped
// advisory lock on the conversation key so that sequencing within one
// conversation is linear while other conversations proceed in parallel.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(op, "record not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code[:2] {
		case "23": // integrity constraint violation
			return apperr.Validation(op, "rejected by store: %s", pgErr.ConstraintName)
		case "XX": // internal error, data corrupted
			return apperr.Fatal(op, err)
		}
	}
	return apperr.Wrap(op, err)
}

func lockConversation(ctx context.Context, tx pgx.Tx, conv models.Conversation) error {
	_, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", conv.Key())
	return err
}

func (s *Postgres) AppendBroadcast(ctx context.Context, m *models.BroadcastMessage) error {
	const op = "store.AppendBroadcast"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr(op, err)
	}
	defer tx.Rollback(ctx)

	if err := lockConversation(ctx, tx, models.Broadcast()); err != nil {
		return mapErr(op, err)
	}

	id := uuid.NewString()
	err = tx.QueryRow(ctx, `
		INSERT INTO chat_messages (id, author_id, content, kind, media_url, created_at)
		VALUES ($1, $2, $3, $4, $5,
			GREATEST(clock_timestamp(), COALESCE((SELECT max(created_at) FROM chat_messages), '-infinity')))
		RETURNING seq, created_at
	`, id, m.AuthorID, m.Content, string(m.Kind), m.MediaURL).Scan(&m.Seq, &m.CreatedAt)
	if err != nil {
		return mapErr(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapErr(op, err)
	}
	m.ID = id
	return nil
}

func (s *Postgres) AppendPrivate(ctx context.Context, m *models.PrivateMessage) error {
	const op = "store.AppendPrivate"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr(op, err)
	}
	defer tx.Rollback(ctx)

	if err := lockConversation(ctx, tx, m.Conversation()); err != nil {
		return mapErr(op, err)
	}

	id := uuid.NewString()
	err = tx.QueryRow(ctx, `
		INSERT INTO private_messages (id, sender_id, receiver_id, content, kind, media_url, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE,
			GREATEST(clock_timestamp(), COALESCE((
				SELECT max(created_at) FROM private_messages
				WHERE (sender_id = $2 AND receiver_id = $3) OR (sender_id = $3 AND receiver_id = $2)
			), '-infinity')))
		RETURNING seq, created_at
	`, id, m.SenderID, m.ReceiverID, m.Content, string(m.Kind), m.MediaURL).Scan(&m.Seq, &m.CreatedAt)
	if err != nil {
		return mapErr(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapErr(op, err)
	}
	m.ID = id
	m.IsRead = false
	return nil
}

const broadcastColumns = `id, author_id, content, kind, media_url, created_at, seq`

func scanBroadcast(row pgx.Row) (models.BroadcastMessage, error) {
	var m models.BroadcastMessage
	var kind string
	err := row.Scan(&m.ID, &m.AuthorID, &m.Content, &kind, &m.MediaURL, &m.CreatedAt, &m.Seq)
	m.Kind = models.MessageKind(kind)
	return m, err
}

func (s *Postgres) ListBroadcast(ctx context.Context, q Query) ([]models.BroadcastMessage, error) {
	const op = "store.ListBroadcast"
	limit := q.NormalizedLimit()

	var (
		rows pgx.Rows
		err  error
	)
	switch {
	case q.AfterID != "":
		anchorAt, anchorSeq, aerr := s.anchor(ctx, "chat_messages", q.AfterID, "TRUE")
		if aerr != nil {
			return nil, mapErr(op, aerr)
		}
		rows, err = s.pool.Query(ctx, `
			SELECT `+broadcastColumns+` FROM chat_messages
			WHERE (created_at, seq) > ($1, $2)
			ORDER BY created_at, seq
			LIMIT $3
		`, anchorAt, anchorSeq, limit)
	case !q.Since.IsZero():
		rows, err = s.pool.Query(ctx, `
			SELECT `+broadcastColumns+` FROM chat_messages
			WHERE created_at > $1
			ORDER BY created_at, seq
			LIMIT $2
		`, q.Since, limit)
	default:
		rows, err = s.pool.Query(ctx, `
			SELECT * FROM (
				SELECT `+broadcastColumns+` FROM chat_messages
				ORDER BY created_at DESC, seq DESC
				LIMIT $1
			) recent
			ORDER BY created_at, seq
		`, limit)
	}
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer rows.Close()

	messages := []models.BroadcastMessage{}
	for rows.Next() {
		m, err := scanBroadcast(rows)
		if err != nil {
			return nil, mapErr(op, err)
		}
		messages = append(messages, m)
	}
	return messages, mapErr(op, rows.Err())
}

// anchor returns the ordering key of message id in table, restricted by cond
func (s *Postgres) anchor(ctx context.Context, table, id, cond string, args ...any) (time.Time, int64, error) {
	if _, err := uuid.Parse(id); err != nil {
		return time.Time{}, 0, pgx.ErrNoRows
	}
	var at time.Time
	var seq int64
	err := s.pool.QueryRow(ctx,
		"SELECT created_at, seq FROM "+table+" WHERE id = $1 AND "+cond,
		append([]any{id}, args...)...,
	).Scan(&at, &seq)
	return at, seq, err
}

const privateColumns = `id, sender_id, receiver_id, content, kind, media_url, is_read, created_at, seq`

const pairCondition = `((sender_id = $2 AND receiver_id = $3) OR (sender_id = $3 AND receiver_id = $2))`

func scanPrivate(row pgx.Row) (models.PrivateMessage, error) {
	var m models.PrivateMessage
	var kind string
	err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &kind, &m.MediaURL, &m.IsRead, &m.CreatedAt, &m.Seq)
	m.Kind = models.MessageKind(kind)
	return m, err
}

func (s *Postgres) ListPrivate(ctx context.Context, conv models.Conversation, q Query) ([]models.PrivateMessage, error) {
	const op = "store.ListPrivate"
	limit := q.NormalizedLimit()

	var (
		rows pgx.Rows
		err  error
	)
	switch {
	case q.AfterID != "":
		anchorAt, anchorSeq, aerr := s.anchor(ctx, "private_messages", q.AfterID, pairCondition, conv.A, conv.B)
		if aerr != nil {
			return nil, mapErr(op, aerr)
		}
		rows, err = s.pool.Query(ctx, `
			SELECT `+privateColumns+` FROM private_messages
			WHERE `+pairCondition+` AND (created_at, seq) > ($4, $5)
			ORDER BY created_at, seq
			LIMIT $1
		`, limit, conv.A, conv.B, anchorAt, anchorSeq)
	case !q.Since.IsZero():
		rows, err = s.pool.Query(ctx, `
			SELECT `+privateColumns+` FROM private_messages
			WHERE `+pairCondition+` AND created_at > $4
			ORDER BY created_at, seq
			LIMIT $1
		`, limit, conv.A, conv.B, q.Since)
	default:
		rows, err = s.pool.Query(ctx, `
			SELECT * FROM (
				SELECT `+privateColumns+` FROM private_messages
				WHERE `+pairCondition+`
				ORDER BY created_at DESC, seq DESC
				LIMIT $1
			) recent
			ORDER BY created_at, seq
		`, limit, conv.A, conv.B)
	}
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer rows.Close()

	messages := []models.PrivateMessage{}
	for rows.Next() {
		m, err := scanPrivate(rows)
		if err != nil {
			return nil, mapErr(op, err)
		}
		messages = append(messages, m)
	}
	return messages, mapErr(op, rows.Err())
}

func (s *Postgres) GetPrivate(ctx context.Context, id string) (*models.PrivateMessage, error) {
	const op = "store.GetPrivate"
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.NotFound(op, "message %s not found", id)
	}
	m, err := scanPrivate(s.pool.QueryRow(ctx, `SELECT `+privateColumns+` FROM private_messages WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(op, err)
	}
	return &m, nil
}

func (s *Postgres) DeletePrivate(ctx context.Context, id, requester string) (*models.PrivateMessage, error) {
	const op = "store.DeletePrivate"
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.NotFound(op, "message %s not found", id)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer tx.Rollback(ctx)

	m, err := scanPrivate(tx.QueryRow(ctx, `SELECT `+privateColumns+` FROM private_messages WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapErr(op, err)
	}
	if m.SenderID != requester {
		return nil, apperr.Authorization(op, "only the sender may delete message %s", id)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM private_messages WHERE id = $1`, id); err != nil {
		return nil, mapErr(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, mapErr(op, err)
	}
	return &m, nil
}

func (s *Postgres) CountBroadcastAfter(ctx context.Context, t time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chat_messages WHERE created_at > $1`, t).Scan(&n)
	return n, mapErr("store.CountBroadcastAfter", err)
}

func (s *Postgres) CountUnreadPrivate(ctx context.Context, receiver, sender string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM private_messages
		WHERE receiver_id = $1 AND sender_id = $2 AND NOT is_read
	`, receiver, sender).Scan(&n)
	return n, mapErr("store.CountUnreadPrivate", err)
}

func (s *Postgres) CountUnreadPrivateTotal(ctx context.Context, receiver string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM private_messages WHERE receiver_id = $1 AND NOT is_read
	`, receiver).Scan(&n)
	return n, mapErr("store.CountUnreadPrivateTotal", err)
}

func (s *Postgres) MarkPrivateRead(ctx context.Context, receiver, sender string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE private_messages SET is_read = TRUE
		WHERE receiver_id = $1 AND sender_id = $2 AND NOT is_read
	`, receiver, sender)
	if err != nil {
		return 0, mapErr("store.MarkPrivateRead", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) PrivateSummaries(ctx context.Context, user string) ([]Summary, error) {
	const op = "store.PrivateSummaries"

	rows, err := s.pool.Query(ctx, `
		SELECT counterpart, MAX(created_at), COUNT(*) FILTER (WHERE receiver_id = $1 AND NOT is_read)
		FROM (
			SELECT
				CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS counterpart,
				receiver_id, is_read, created_at
			FROM private_messages
			WHERE sender_id = $1 OR receiver_id = $1
		) threads
		GROUP BY counterpart
	`, user)
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(&sm.Counterpart, &sm.LastActivity, &sm.Unread); err != nil {
			return nil, mapErr(op, err)
		}
		summaries = append(summaries, sm)
	}
	return summaries, mapErr(op, rows.Err())
}

func (s *Postgres) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	err := s.pool.QueryRow(ctx, `SELECT clock_timestamp()`).Scan(&now)
	return now, mapErr("store.Now", err)
}

func (s *Postgres) GetOrCreateCursor(ctx context.Context, user string) (time.Time, error) {
	// the no-op update makes RETURNING yield the existing row on conflict
	var at time.Time
	err := s.pool.QueryRow(ctx, `
		INSERT INTO chat_read_status (user_id, last_read_at)
		VALUES ($1, clock_timestamp())
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING last_read_at
	`, user).Scan(&at)
	return at, mapErr("store.GetOrCreateCursor", err)
}

func (s *Postgres) AdvanceCursor(ctx context.Context, user string, ts time.Time) (time.Time, error) {
	var at time.Time
	err := s.pool.QueryRow(ctx, `
		INSERT INTO chat_read_status (user_id, last_read_at)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
			SET last_read_at = GREATEST(chat_read_status.last_read_at, EXCLUDED.last_read_at)
		RETURNING last_read_at
	`, user, ts).Scan(&at)
	return at, mapErr("store.AdvanceCursor", err)
}

func (s *Postgres) CreateNotification(ctx context.Context, n *models.Notification) error {
	id := uuid.NewString()
	var metadata any
	if len(n.Metadata) > 0 {
		metadata = string(n.Metadata)
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO notifications (id, user_id, type, message, is_read, metadata)
		VALUES ($1, $2, $3, $4, FALSE, $5::jsonb)
		RETURNING created_at
	`, id, n.UserID, n.Type, n.Message, metadata).Scan(&n.CreatedAt)
	if err != nil {
		return mapErr("store.CreateNotification", err)
	}
	n.ID = id
	n.IsRead = false
	return nil
}

func (s *Postgres) ListNotifications(ctx context.Context, user string, limit int) ([]models.Notification, error) {
	const op = "store.ListNotifications"
	if limit <= 0 {
		limit = DefaultNotificationLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, type, message, is_read, created_at, metadata
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, user, limit)
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		var metadata []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Message, &n.IsRead, &n.CreatedAt, &metadata); err != nil {
			return nil, mapErr(op, err)
		}
		n.Metadata = metadata
		notifications = append(notifications, n)
	}
	return notifications, mapErr(op, rows.Err())
}

func (s *Postgres) MarkNotificationRead(ctx context.Context, user, id string) error {
	const op = "store.MarkNotificationRead"
	if _, err := uuid.Parse(id); err != nil {
		return apperr.NotFound(op, "notification %s not found", id)
	}

	tag, err := s.pool.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`, id, user)
	if err != nil {
		return mapErr(op, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var owner string
	err = s.pool.QueryRow(ctx, `SELECT user_id FROM notifications WHERE id = $1`, id).Scan(&owner)
	if err != nil {
		return mapErr(op, err)
	}
	return apperr.Authorization(op, "notification %s belongs to another user", id)
}

func (s *Postgres) MarkAllNotificationsRead(ctx context.Context, user string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read`, user)
	if err != nil {
		return 0, mapErr("store.MarkAllNotificationsRead", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) CountUnreadNotifications(ctx context.Context, user string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, user).Scan(&n)
	return n, mapErr("store.CountUnreadNotifications", err)
}

func (s *Postgres) DeleteMessageNotifications(ctx context.Context, user, messageID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM notifications
		WHERE user_id = $1 AND type = $2 AND metadata->>'messageId' = $3
	`, user, models.NotificationPrivateMessage, messageID)
	if err != nil {
		return 0, mapErr("store.DeleteMessageNotifications", err)
	}
	return tag.RowsAffected(), nil
}

var (
	_ Repository = (*Postgres)(nil)
	_ Repository = (*Memory)(nil)
)
