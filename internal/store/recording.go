package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Recording is a stored capture of landmark frames.
type Recording struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	SessionID  string        `json:"session_id,omitempty"`
	FrameCount int           `json:"frame_count"`
	Duration   time.Duration `json:"duration_ns"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Frame is one recorded tick. Offset is measured from the first frame.
// Present is false for ticks where no hand was seen; Data then is empty.
type Frame struct {
	Seq     int             `json:"seq"`
	Offset  time.Duration   `json:"offset_ns"`
	Present bool            `json:"present"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// RecordingRepository provides CRUD operations for recordings and their frames.
type RecordingRepository struct {
	db *sql.DB
}

// Recordings returns the recording repository for this store.
func (s *Store) Recordings() *RecordingRepository {
	return &RecordingRepository{db: s.db}
}

// Create inserts an empty recording. An empty ID is filled in.
func (r *RecordingRepository) Create(rec *Recording) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = time.Now()

	var session any
	if rec.SessionID != "" {
		session = rec.SessionID
	}
	_, err := r.db.Exec(
		`INSERT INTO recordings (id, name, session_id, frame_count, duration_ns, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, session, rec.FrameCount, int64(rec.Duration), rec.CreatedAt,
	)
	return err
}

// AppendFrames adds frames to a recording in a single transaction and
// updates its frame count and duration.
func (r *RecordingRepository) AppendFrames(recordingID string, frames []Frame) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM recordings WHERE id = ?`, recordingID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	stmt, err := tx.Prepare(
		`INSERT INTO recording_frames (recording_id, seq, offset_ns, present, data) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range frames {
		if _, err := stmt.Exec(recordingID, f.Seq, int64(f.Offset), f.Present, string(f.Data)); err != nil {
			return err
		}
	}

	_, err = tx.Exec(
		`UPDATE recordings SET
		   frame_count = (SELECT COUNT(*) FROM recording_frames WHERE recording_id = ?),
		   duration_ns = (SELECT COALESCE(MAX(offset_ns), 0) FROM recording_frames WHERE recording_id = ?)
		 WHERE id = ?`,
		recordingID, recordingID, recordingID,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// Frames returns the frames of a recording in sequence order.
func (r *RecordingRepository) Frames(recordingID string) ([]Frame, error) {
	if _, err := r.GetByID(recordingID); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(
		`SELECT seq, offset_ns, present, data FROM recording_frames
		 WHERE recording_id = ? ORDER BY seq`,
		recordingID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []Frame
	for rows.Next() {
		var f Frame
		var offset int64
		var present int
		var data string
		if err := rows.Scan(&f.Seq, &offset, &present, &data); err != nil {
			return nil, err
		}
		f.Offset = time.Duration(offset)
		f.Present = present != 0
		if data != "" {
			f.Data = json.RawMessage(data)
		}
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return frames, nil
}

// GetByID retrieves a recording by its ID.
func (r *RecordingRepository) GetByID(id string) (*Recording, error) {
	row := r.db.QueryRow(
		`SELECT id, name, session_id, frame_count, duration_ns, created_at
		 FROM recordings WHERE id = ?`,
		id,
	)
	rec, err := scanRecording(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// List retrieves all recordings, newest first.
func (r *RecordingRepository) List() ([]*Recording, error) {
	rows, err := r.db.Query(
		`SELECT id, name, session_id, frame_count, duration_ns, created_at
		 FROM recordings ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// Delete removes a recording and its frames.
func (r *RecordingRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecording(row rowScanner) (*Recording, error) {
	rec := &Recording{}
	var session sql.NullString
	var duration int64
	if err := row.Scan(&rec.ID, &rec.Name, &session, &rec.FrameCount, &duration, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.SessionID = session.String
	rec.Duration = time.Duration(duration)
	return rec, nil
}
