package identity

import (
	"database/sql"
	"fmt"
	"time"

	"doorkeeper/internal/embedding"
	"doorkeeper/internal/faults"
	"doorkeeper/internal/logging"
)

const identityColumns = "id, display_name, access_level, sample_count, mean_embedding, created_at, updated_at"

type rowScanner interface{ Scan(dest ...any) error }

// scanIdentity reads one identity row. An undecodable mean is logged and
// treated as absent so one bad row cannot take the cache down.
func (s *Store) scanIdentity(scanner rowScanner) (*Identity, error) {
	var (
		id         int64
		name       string
		level      string
		count      int
		blob       []byte
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)
	if err := scanner.Scan(&id, &name, &level, &count, &blob, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	mean, err := embedding.Decode(blob)
	if err != nil {
		logging.WarnWithContext(s.logger, "stored mean embedding unreadable",
			"identity_corrupted",
			logging.Int64(logging.FieldIdentityID, id),
			logging.Error(err),
			logging.String(logging.FieldErrorKind, faults.Kind(err)),
			logging.String(logging.FieldErrorHint, "re-enroll samples for this identity"),
			logging.String(logging.FieldImpact, "identity cannot be recognized until re-enrolled"),
		)
		mean = nil
	}

	return &Identity{
		ID:          id,
		DisplayName: name,
		AccessLevel: AccessLevel(level),
		SampleCount: count,
		Mean:        mean,
		CreatedAt:   parseTime(createdRaw),
		UpdatedAt:   parseTime(updatedRaw),
	}, nil
}

func parseTime(raw sql.NullString) time.Time {
	if !raw.Valid || raw.String == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, raw.String)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func formatTime(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

func notFound(operation string, id int64) error {
	return faults.Wrap(faults.ErrNotFound, "identity", operation, fmt.Sprintf("identity %d does not exist", id), nil)
}
