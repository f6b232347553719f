package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"DigestCurator/internal/domain"
)

var userColumns = []string{
	"id", "email", "name", "title", "expertise_level", "interests", "preferences",
	"active", "role", "admin_welcome_sent", "created_at",
}

// SaveUser inserts or updates a subscriber keyed by email.
func (r *Repository) SaveUser(ctx context.Context, u domain.User) (domain.User, error) {
	if u.ID == "" {
		u.ID = uuid.Must(uuid.NewV7()).String()
	}
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = r.now().UTC()
	}

	interests, err := json.Marshal(nonNilStrings(u.Interests))
	if err != nil {
		return domain.User{}, fmt.Errorf("encode interests: %w", err)
	}
	prefs := u.Preferences
	if prefs == nil {
		prefs = map[string]string{}
	}
	preferences, err := json.Marshal(prefs)
	if err != nil {
		return domain.User{}, fmt.Errorf("encode preferences: %w", err)
	}

	_, err = exec(ctx, r.db, r.sb.Insert("users").
		Columns(userColumns...).
		Values(u.ID, u.Email, u.Name, u.Title, u.ExpertiseLevel, string(interests), string(preferences),
			u.Active, string(u.Role), u.AdminWelcomeSent, u.CreatedAt.UTC()).
		Suffix(`ON CONFLICT (email) DO UPDATE SET
			name = excluded.name,
			title = excluded.title,
			expertise_level = excluded.expertise_level,
			interests = excluded.interests,
			preferences = excluded.preferences,
			active = excluded.active,
			role = excluded.role`))
	if err != nil {
		return domain.User{}, fmt.Errorf("upsert user %s: %w", u.Email, err)
	}

	return r.userBy(ctx, sq.Eq{"email": u.Email})
}

// ActiveUsers lists subscribers flagged active, oldest first.
func (r *Repository) ActiveUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := queryRows(ctx, r.db, r.sb.Select(userColumns...).
		From("users").
		Where(sq.Eq{"active": true}).
		OrderBy("created_at ASC", "id ASC"))
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// GetUser reloads a user by id.
func (r *Repository) GetUser(ctx context.Context, id string) (domain.User, error) {
	return r.userBy(ctx, sq.Eq{"id": id})
}

// MarkAdminWelcomeSent flips the one-time welcome flag.
func (r *Repository) MarkAdminWelcomeSent(ctx context.Context, id string) error {
	res, err := exec(ctx, r.db, r.sb.Update("users").
		Set("admin_welcome_sent", true).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("mark admin welcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark admin welcome %s: %w", id, domain.ErrUserNotFound)
	}
	return nil
}

func (r *Repository) userBy(ctx context.Context, where sq.Eq) (domain.User, error) {
	row, err := queryRow(ctx, r.db, r.sb.Select(userColumns...).From("users").Where(where))
	if err != nil {
		return domain.User{}, err
	}
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, err
}

func scanUser(row rowScanner) (domain.User, error) {
	var (
		u           domain.User
		interests   string
		preferences string
		role        string
		created     sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Title, &u.ExpertiseLevel, &interests, &preferences,
		&u.Active, &role, &u.AdminWelcomeSent, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, err
		}
		return domain.User{}, fmt.Errorf("scan user: %w", err)
	}
	if interests != "" {
		if err := json.Unmarshal([]byte(interests), &u.Interests); err != nil {
			return domain.User{}, fmt.Errorf("decode interests for %s: %w", u.ID, err)
		}
	}
	if preferences != "" {
		if err := json.Unmarshal([]byte(preferences), &u.Preferences); err != nil {
			return domain.User{}, fmt.Errorf("decode preferences for %s: %w", u.ID, err)
		}
	}
	u.Role = domain.Role(role)
	u.CreatedAt = created.Time.UTC()
	return u, nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
