package identity

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"doorkeeper/internal/faults"
)

// AddIdentity creates an identity with no samples.
func (s *Store) AddIdentity(ctx context.Context, name string, level AccessLevel) (*Identity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, faults.Wrap(faults.ErrValidation, "identity", "add", "name is required", nil)
	}
	level, err := ParseAccessLevel(string(level))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var id int64
	err = s.inTx(ctx, func(tx *sql.Tx) (*notice, error) {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO identities (display_name, access_level, sample_count, mean_embedding, created_at, updated_at)
			 VALUES (?, ?, 0, NULL, ?, ?)`,
			name, string(level), formatTime(now), formatTime(now))
		if err != nil {
			return nil, err
		}
		if id, err = res.LastInsertId(); err != nil {
			return nil, err
		}
		return identityNotice(Change{ID: id, DisplayName: &name, AccessLevel: &level, New: true}), nil
	})
	if err != nil {
		return nil, faults.Wrap(faults.ErrTransientIO, "identity", "add", "insert identity", err)
	}

	s.logger.Info("identity added",
		"identity_id", id,
		"access_level", string(level),
	)
	return &Identity{ID: id, DisplayName: name, AccessLevel: level, CreatedAt: now, UpdatedAt: now}, nil
}

// GetIdentity fetches one identity.
func (s *Store) GetIdentity(ctx context.Context, id int64) (*Identity, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+identityColumns+" FROM identities WHERE id = ?", id)
	ident, err := s.scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get", id)
	}
	if err != nil {
		return nil, faults.Wrap(faults.ErrTransientIO, "identity", "get", "query identity", err)
	}
	return ident, nil
}

// ListIdentities returns every identity ordered by display name.
func (s *Store) ListIdentities(ctx context.Context) ([]Identity, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT "+identityColumns+" FROM identities ORDER BY display_name ASC, id ASC")
	if err != nil {
		return nil, faults.Wrap(faults.ErrTransientIO, "identity", "list", "query identities", err)
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		ident, err := s.scanIdentity(rows)
		if err != nil {
			return nil, faults.Wrap(faults.ErrTransientIO, "identity", "list", "scan identity", err)
		}
		out = append(out, *ident)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Wrap(faults.ErrTransientIO, "identity", "list", "iterate identities", err)
	}
	return out, nil
}

// UpdateIdentity changes the display name and/or access level.
func (s *Store) UpdateIdentity(ctx context.Context, id int64, update Update) (*Identity, error) {
	change := Change{ID: id}
	if update.DisplayName != nil {
		name := strings.TrimSpace(*update.DisplayName)
		if name == "" {
			return nil, faults.Wrap(faults.ErrValidation, "identity", "update", "name must not be empty", nil)
		}
		change.DisplayName = &name
	}
	if update.AccessLevel != nil {
		level, err := ParseAccessLevel(string(*update.AccessLevel))
		if err != nil {
			return nil, err
		}
		change.AccessLevel = &level
	}

	var ident *Identity
	err := s.inTx(ctx, func(tx *sql.Tx) (*notice, error) {
		current, err := s.scanIdentity(tx.QueryRowContext(ctx, "SELECT "+identityColumns+" FROM identities WHERE id = ?", id))
		if err != nil {
			return nil, err
		}
		if change.DisplayName != nil {
			current.DisplayName = *change.DisplayName
		}
		if change.AccessLevel != nil {
			current.AccessLevel = *change.AccessLevel
		}
		current.UpdatedAt = time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			"UPDATE identities SET display_name = ?, access_level = ?, updated_at = ? WHERE id = ?",
			current.DisplayName, string(current.AccessLevel), formatTime(current.UpdatedAt), id); err != nil {
			return nil, err
		}
		ident = current
		if change.DisplayName == nil && change.AccessLevel == nil {
			return nil, nil
		}
		return identityNotice(change), nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("update", id)
	}
	if err != nil {
		return nil, faults.Wrap(faults.ErrTransientIO, "identity", "update", "update identity", err)
	}
	return ident, nil
}

// DeleteIdentity removes an identity and, by cascade, its samples.
func (s *Store) DeleteIdentity(ctx context.Context, id int64) error {
	var affected int64
	err := s.inTx(ctx, func(tx *sql.Tx) (*notice, error) {
		res, err := tx.ExecContext(ctx, "DELETE FROM identities WHERE id = ?", id)
		if err != nil {
			return nil, err
		}
		if affected, err = res.RowsAffected(); err != nil || affected == 0 {
			return nil, err
		}
		return identityNotice(Change{ID: id, Deleted: true}), nil
	})
	if err != nil {
		return faults.Wrap(faults.ErrTransientIO, "identity", "delete", "delete identity", err)
	}
	if affected == 0 {
		return notFound("delete", id)
	}

	s.logger.Info("identity deleted", "identity_id", id)
	return nil
}
