package identity

import (
	"context"
	"errors"

	"obrolan/server/internal/apperr"
	"obrolan/server/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres reads profiles and roles maintained by the identity service
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const profileColumns = `
	p.id, p.display_name, p.avatar_url, p.chat_color, p.gradient_start, p.gradient_end,
	COALESCE(ARRAY(SELECT r.role FROM user_roles r WHERE r.user_id = p.id ORDER BY r.role), '{}')`

func scanProfile(row pgx.Row) (models.Profile, error) {
	var p models.Profile
	err := row.Scan(&p.ID, &p.DisplayName, &p.AvatarURL, &p.ChatColor, &p.GradientStart, &p.GradientEnd, &p.Roles)
	return p, err
}

func (s *Postgres) Profile(ctx context.Context, id string) (*models.Profile, error) {
	const op = "identity.Profile"

	p, err := scanProfile(s.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles p WHERE p.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(op, "user %s not found", id)
	}
	if err != nil {
		return nil, apperr.Transient(op, err)
	}
	return &p, nil
}

func (s *Postgres) ListUsers(ctx context.Context) ([]models.Profile, error) {
	const op = "identity.ListUsers"

	rows, err := s.pool.Query(ctx, `SELECT `+profileColumns+` FROM profiles p ORDER BY p.display_name, p.id`)
	if err != nil {
		return nil, apperr.Transient(op, err)
	}
	defer rows.Close()

	out := make([]models.Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, apperr.Transient(op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient(op, err)
	}
	return out, nil
}

var (
	_ Provider = (*Postgres)(nil)
	_ Provider = (*Static)(nil)
)
