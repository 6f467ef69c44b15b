package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"doorkeeper/internal/embedding"
	"doorkeeper/internal/faults"
	"doorkeeper/internal/logging"
)

var errSampleMissing = errors.New("sample missing")

// AddSample stores a labeled embedding for an identity and folds it into the
// identity's running mean in the same transaction. The embedding is
// normalized before storage. It returns the updated identity.
func (s *Store) AddSample(ctx context.Context, id int64, label string, vec embedding.Vector) (*Identity, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, faults.Wrap(faults.ErrValidation, "identity", "add sample", "label is required", nil)
	}
	unit, err := embedding.Normalize(vec)
	if err != nil {
		return nil, faults.Wrap(faults.ErrValidation, "identity", "add sample", "embedding must be non-zero", err)
	}
	sampleBlob, err := embedding.Encode(unit)
	if err != nil {
		return nil, err
	}

	var ident *Identity
	var meanErr error
	err = s.inTx(ctx, func(tx *sql.Tx) (*notice, error) {
		current, _, err := s.loadForWrite(ctx, tx, id, "")
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO samples (identity_id, label, embedding, created_at) VALUES (?, ?, ?, ?)",
			id, label, sampleBlob, formatTime(now)); err != nil {
			return nil, err
		}
		mean, count, err := embedding.AddToMean(current.Mean, current.SampleCount, unit)
		if err != nil {
			meanErr = err
			return nil, err
		}
		if err := writeMean(ctx, tx, id, mean, count, now); err != nil {
			return nil, err
		}
		current.Mean, current.SampleCount, current.UpdatedAt = mean, count, now
		ident = current
		return embeddingNotice(id, mean), nil
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, notFound("add sample", id)
	case meanErr != nil:
		return nil, faults.Wrap(faults.ErrValidation, "identity", "add sample", "incompatible embedding", meanErr)
	case isConstraint(err):
		return nil, faults.Wrap(faults.ErrValidation, "identity", "add sample", fmt.Sprintf("label %q already exists", label), err)
	case err != nil:
		return nil, faults.Wrap(faults.ErrTransientIO, "identity", "add sample", "write sample", err)
	}

	s.logger.Info("sample added",
		"identity_id", id,
		"label", label,
		"sample_count", ident.SampleCount,
	)
	return ident, nil
}

// DeleteSample removes a labeled sample and takes it back out of the running
// mean. Removing the last sample clears the mean.
func (s *Store) DeleteSample(ctx context.Context, id int64, label string) (*Identity, error) {
	label = strings.TrimSpace(label)
	var ident *Identity
	err := s.inTx(ctx, func(tx *sql.Tx) (*notice, error) {
		current, rebuilt, err := s.loadForWrite(ctx, tx, id, label)
		if err != nil {
			return nil, err
		}
		var blob []byte
		err = tx.QueryRowContext(ctx, "SELECT embedding FROM samples WHERE identity_id = ? AND label = ?", id, label).Scan(&blob)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errSampleMissing
		}
		if err != nil {
			return nil, err
		}
		mean, count := current.Mean, current.SampleCount
		if !rebuilt {
			sample, decodeErr := embedding.Decode(blob)
			if decodeErr != nil || sample == nil {
				mean, count, err = s.rebuildMean(ctx, tx, id, label)
			} else {
				mean, count, err = embedding.RemoveFromMean(mean, count, sample)
			}
			if err != nil {
				return nil, err
			}
		}
		now := time.Now().UTC()
		if err := writeMean(ctx, tx, id, mean, count, now); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM samples WHERE identity_id = ? AND label = ?", id, label); err != nil {
			return nil, err
		}
		current.Mean, current.SampleCount, current.UpdatedAt = mean, count, now
		ident = current
		return embeddingNotice(id, mean), nil
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, notFound("delete sample", id)
	case errors.Is(err, errSampleMissing):
		return nil, faults.Wrap(faults.ErrNotFound, "identity", "delete sample", fmt.Sprintf("identity %d has no sample %q", id, label), nil)
	case err != nil:
		return nil, faults.Wrap(faults.ErrTransientIO, "identity", "delete sample", "remove sample", err)
	}

	s.logger.Info("sample removed",
		"identity_id", id,
		"label", label,
		"sample_count", ident.SampleCount,
	)
	return ident, nil
}

// ListSamples returns an identity's samples ordered by label.
func (s *Store) ListSamples(ctx context.Context, id int64) ([]Sample, error) {
	if _, err := s.GetIdentity(ctx, id); err != nil {
		return nil, err
	}
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT identity_id, label, embedding, created_at FROM samples WHERE identity_id = ? ORDER BY label ASC", id)
	if err != nil {
		return nil, faults.Wrap(faults.ErrTransientIO, "identity", "list samples", "query samples", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var (
			sample     Sample
			blob       []byte
			createdRaw sql.NullString
		)
		if err := rows.Scan(&sample.IdentityID, &sample.Label, &blob, &createdRaw); err != nil {
			return nil, faults.Wrap(faults.ErrTransientIO, "identity", "list samples", "scan sample", err)
		}
		vec, err := embedding.Decode(blob)
		if err != nil {
			s.logger.Warn("sample embedding unreadable",
				"identity_id", id,
				"label", sample.Label,
				logging.Error(err),
			)
		}
		sample.Embedding = vec
		sample.CreatedAt = parseTime(createdRaw)
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Wrap(faults.ErrTransientIO, "identity", "list samples", "iterate samples", err)
	}
	return out, nil
}

// loadForWrite reads the identity inside tx. A stored mean that cannot be
// decoded while samples exist is rebuilt from the decodable samples, skipping
// excludeLabel, so the next write repairs it. The bool reports a rebuild.
func (s *Store) loadForWrite(ctx context.Context, tx *sql.Tx, id int64, excludeLabel string) (*Identity, bool, error) {
	current, err := s.scanIdentity(tx.QueryRowContext(ctx, "SELECT "+identityColumns+" FROM identities WHERE id = ?", id))
	if err != nil {
		return nil, false, err
	}
	if current.SampleCount == 0 || current.Mean != nil {
		return current, false, nil
	}
	current.Mean, current.SampleCount, err = s.rebuildMean(ctx, tx, id, excludeLabel)
	if err != nil {
		return nil, false, err
	}
	return current, true, nil
}

func (s *Store) rebuildMean(ctx context.Context, tx *sql.Tx, id int64, excludeLabel string) (embedding.Vector, int, error) {
	rows, err := tx.QueryContext(ctx, "SELECT label, embedding FROM samples WHERE identity_id = ? ORDER BY label ASC", id)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		mean  embedding.Vector
		count int
	)
	for rows.Next() {
		var (
			label string
			blob  []byte
		)
		if err := rows.Scan(&label, &blob); err != nil {
			return nil, 0, err
		}
		if label == excludeLabel {
			continue
		}
		vec, err := embedding.Decode(blob)
		if err != nil || vec == nil {
			s.logger.Warn("skipping unreadable sample during mean rebuild",
				"identity_id", id,
				"label", label,
				logging.Error(err),
			)
			continue
		}
		if mean, count, err = embedding.AddToMean(mean, count, vec); err != nil {
			return nil, 0, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	s.logger.Info("mean embedding rebuilt from samples", "identity_id", id, "sample_count", count)
	return mean, count, nil
}

func writeMean(ctx context.Context, tx *sql.Tx, id int64, mean embedding.Vector, count int, now time.Time) error {
	var blob any
	if mean != nil {
		encoded, err := embedding.Encode(mean)
		if err != nil {
			return err
		}
		blob = encoded
	}
	_, err := tx.ExecContext(ctx,
		"UPDATE identities SET sample_count = ?, mean_embedding = ?, updated_at = ? WHERE id = ?",
		count, blob, formatTime(now), id)
	return err
}
