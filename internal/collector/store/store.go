package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/models"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/dbx"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Store persists records and notifies observers after each committed change.
type Store struct {
	db  *sql.DB
	obs *notifier
	now func() time.Time
}

// New wraps an open, migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db, obs: newNotifier(), now: func() time.Time { return time.Now().UTC() }}
}

// DB exposes the underlying handle for repositories sharing the database.
func (s *Store) DB() *sql.DB { return s.db }

// Observe subscribes to change signals of topic. The cancel func must be
// called to release the subscription; it closes the channel.
func (s *Store) Observe(topic Topic) (<-chan struct{}, func()) {
	return s.obs.subscribe(topic)
}

// KindTopic maps a record kind to its change topic.
func KindTopic(k models.Kind) Topic { return Topic(k) }

func nullable(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func fromNullable(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	return models.Int64(n.Int64)
}

/*************
 * Things
 *************/

// SaveThing inserts t when it has no ID yet (assigning t.ID) or updates it.
func (s *Store) SaveThing(ctx context.Context, t *models.Thing) error {
	if t.ID == 0 {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = s.now()
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO things (remote_id, label_participant, label_validated, created_at) VALUES (?, ?, ?, ?)`,
			nullable(t.RemoteID), t.LabelParticipant, t.LabelValidated, t.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert thing: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read thing id: %w", err)
		}
		t.ID = id
	} else {
		res, err := s.db.ExecContext(ctx,
			`UPDATE things SET remote_id=?, label_participant=?, label_validated=? WHERE id=?`,
			nullable(t.RemoteID), t.LabelParticipant, t.LabelValidated, t.ID)
		if err != nil {
			return fmt.Errorf("failed to update thing %d: %w", t.ID, err)
		}
		if err := expectOneRow(res); err != nil {
			return fmt.Errorf("thing %d: %w", t.ID, err)
		}
	}

	topics := []Topic{KindTopic(models.KindThing)}
	if t.RemoteID != nil {
		// videos waiting for this parent can go now
		topics = append(topics, KindTopic(models.KindVideo))
	}
	s.obs.notify(topics...)
	return nil
}

const thingColumns = `id, remote_id, label_participant, label_validated, created_at`

func scanThing(row interface{ Scan(...any) error }) (*models.Thing, error) {
	t := &models.Thing{}
	var remote sql.NullInt64
	if err := row.Scan(&t.ID, &remote, &t.LabelParticipant, &t.LabelValidated, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.RemoteID = fromNullable(remote)
	return t, nil
}

// GetThing fetches a thing by local ID.
func (s *Store) GetThing(ctx context.Context, id int64) (*models.Thing, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+thingColumns+` FROM things WHERE id=?`, id)
	t, err := scanThing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thing %d: %w", id, err)
	}
	return t, nil
}

// PendingThings returns things without a remote ID, oldest first.
func (s *Store) PendingThings(ctx context.Context) ([]*models.Thing, error) {
	return s.queryThings(ctx, `SELECT `+thingColumns+` FROM things WHERE remote_id IS NULL ORDER BY id`)
}

// ListThings returns every thing, oldest first.
func (s *Store) ListThings(ctx context.Context) ([]*models.Thing, error) {
	return s.queryThings(ctx, `SELECT `+thingColumns+` FROM things ORDER BY id`)
}

func (s *Store) queryThings(ctx context.Context, query string, args ...any) ([]*models.Thing, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error selecting things: %w", err)
	}
	defer rows.Close()

	var result []*models.Thing
	for rows.Next() {
		t, err := scanThing(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteThing removes a thing together with its videos in one transaction
// and returns the removed videos.
func (s *Store) DeleteThing(ctx context.Context, id int64) ([]*models.Video, error) {
	var removed []*models.Video

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		removed, err = queryVideos(ctx, tx, `SELECT `+videoColumns+` FROM videos WHERE thing_id=? ORDER BY id`, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM videos WHERE thing_id=?`, id); err != nil {
			return fmt.Errorf("failed to delete videos of thing %d: %w", id, err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM things WHERE id=?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete thing %d: %w", id, err)
		}
		return expectOneRow(res)
	})
	if err != nil {
		return nil, err
	}

	s.obs.notify(KindTopic(models.KindThing), KindTopic(models.KindVideo))
	return removed, nil
}

/*************
 * Videos
 *************/

const videoColumns = `id, remote_id, thing_id, technique, file_path, created_at`

func scanVideo(row interface{ Scan(...any) error }) (*models.Video, error) {
	v := &models.Video{}
	var remote sql.NullInt64
	var technique string
	if err := row.Scan(&v.ID, &remote, &v.ThingID, &technique, &v.FilePath, &v.CreatedAt); err != nil {
		return nil, err
	}
	v.RemoteID = fromNullable(remote)
	v.Technique = models.Technique(technique)
	return v, nil
}

func queryVideos(ctx context.Context, db dbx.DBTX, query string, args ...any) ([]*models.Video, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error selecting videos: %w", err)
	}
	defer rows.Close()

	var result []*models.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SaveVideo inserts v when it has no ID yet (assigning v.ID) or updates it.
// The parent thing must exist.
func (s *Store) SaveVideo(ctx context.Context, v *models.Video) error {
	if v.ID == 0 {
		if _, err := s.GetThing(ctx, v.ThingID); err != nil {
			return fmt.Errorf("parent thing %d: %w", v.ThingID, err)
		}
		if v.CreatedAt.IsZero() {
			v.CreatedAt = s.now()
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO videos (remote_id, thing_id, technique, file_path, created_at) VALUES (?, ?, ?, ?, ?)`,
			nullable(v.RemoteID), v.ThingID, string(v.Technique), v.FilePath, v.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert video: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read video id: %w", err)
		}
		v.ID = id
	} else {
		res, err := s.db.ExecContext(ctx,
			`UPDATE videos SET remote_id=?, technique=?, file_path=? WHERE id=?`,
			nullable(v.RemoteID), string(v.Technique), v.FilePath, v.ID)
		if err != nil {
			return fmt.Errorf("failed to update video %d: %w", v.ID, err)
		}
		if err := expectOneRow(res); err != nil {
			return fmt.Errorf("video %d: %w", v.ID, err)
		}
	}

	s.obs.notify(KindTopic(models.KindVideo))
	return nil
}

// GetVideo fetches a video by local ID.
func (s *Store) GetVideo(ctx context.Context, id int64) (*models.Video, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id=?`, id)
	v, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video %d: %w", id, err)
	}
	return v, nil
}

// PendingVideos returns videos without a remote ID, oldest first.
func (s *Store) PendingVideos(ctx context.Context) ([]*models.Video, error) {
	return queryVideos(ctx, s.db, `SELECT `+videoColumns+` FROM videos WHERE remote_id IS NULL ORDER BY id`)
}

// ListVideos returns every video, oldest first.
func (s *Store) ListVideos(ctx context.Context) ([]*models.Video, error) {
	return queryVideos(ctx, s.db, `SELECT `+videoColumns+` FROM videos ORDER BY id`)
}

// VideosOfThing returns the videos recorded for a thing.
func (s *Store) VideosOfThing(ctx context.Context, thingID int64) ([]*models.Video, error) {
	return queryVideos(ctx, s.db, `SELECT `+videoColumns+` FROM videos WHERE thing_id=? ORDER BY id`, thingID)
}

// DeleteVideo removes a video.
func (s *Store) DeleteVideo(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM videos WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete video %d: %w", id, err)
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("video %d: %w", id, err)
	}
	s.obs.notify(KindTopic(models.KindVideo))
	return nil
}

/*************
 * Participant
 *************/

// GetParticipant returns the participant record, or ErrNotFound before the
// first authorisation.
func (s *Store) GetParticipant(ctx context.Context) (*models.Participant, error) {
	p := &models.Participant{}
	err := s.db.QueryRowContext(ctx, `SELECT credential, updated_at FROM participant WHERE id=1`).
		Scan(&p.Credential, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

// SaveParticipant upserts the singleton participant record.
func (s *Store) SaveParticipant(ctx context.Context, p *models.Participant) error {
	p.UpdatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participant (id, credential, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET credential = excluded.credential, updated_at = excluded.updated_at
	`, p.Credential, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save participant: %w", err)
	}
	s.obs.notify(TopicParticipant)
	return nil
}

func expectOneRow(res sql.Result) error {
	if err := dbx.Affected(res); err != nil {
		if errors.Is(err, dbx.ErrNoRowsAffected) {
			return ErrNotFound
		}
		return err
	}
	return nil
}
