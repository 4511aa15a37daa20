package verification

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/pinaka/pkg/apperr"
	"github.com/platinummonkey/pinaka/pkg/rbac"
	"github.com/platinummonkey/pinaka/pkg/storage"
)

// MaxListLimit caps the page size of List
const MaxListLimit = 1000

// Store persists verifications and their history
type Store interface {
	// Create persists v together with its CREATED history entry. It fails
	// with a DuplicateError when (type, entityType, entityID) already exists.
	Create(ctx context.Context, v *Verification, entry *HistoryEntry) error

	// Transition moves a PENDING verification to t.To and appends the
	// matching history entry. Non-pending records fail with InvalidStateError.
	Transition(ctx context.Context, t Transition) (*Verification, *HistoryEntry, error)

	// Get returns a verification by id
	Get(ctx context.Context, id string) (*Verification, error)

	// FindByEntity returns the verification of one subject and flow
	FindByEntity(ctx context.Context, t Type, entityType, entityID string) (*Verification, error)

	// ListByEntity returns every verification of one subject, oldest first
	ListByEntity(ctx context.Context, entityType, entityID string) ([]Verification, error)

	// History returns the entries of a verification in insertion order
	History(ctx context.Context, id string) ([]HistoryEntry, error)

	// List returns verifications matching f, newest first
	List(ctx context.Context, f Filter) ([]Verification, error)
}

var verificationColumns = []string{
	"id", "verification_type", "entity_type", "entity_id",
	"requester_id", "requester_role", "requester_email", "requester_name",
	"assignee_id", "assignee_role", "assignee_email", "assignee_name",
	"title", "description", "notes",
	"file_name", "file_url", "file_size", "mime_type",
	"metadata", "priority", "due_date", "status",
	"verified_by_id", "verified_by_role", "verified_by_email", "verified_by_name", "verified_at",
	"rejected_by_id", "rejected_by_role", "rejected_by_email", "rejected_by_name", "rejected_at",
	"rejection_reason", "review_notes", "created_at", "updated_at",
}

var selectVerifications = "SELECT " + strings.Join(verificationColumns, ", ") + " FROM unified_verifications"

const insertHistory = `
	INSERT INTO unified_verification_history
		(verification_id, action, actor_id, actor_role, actor_email, actor_name, previous_status, new_status, note, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	RETURNING id
`

// SQLStore implements Store over database/sql for PostgreSQL and SQLite
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQL-backed verification store
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Create persists v and its CREATED entry in one transaction
func (s *SQLStore) Create(ctx context.Context, v *Verification, entry *HistoryEntry) error {
	metadataJSON, err := marshalMetadata(v.Metadata)
	if err != nil {
		return apperr.Validation("metadata", "cannot be encoded: %v", err)
	}
	entryMetadata, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return apperr.Validation("metadata", "cannot be encoded: %v", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage("create verification", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	query := "INSERT INTO unified_verifications (" + strings.Join(verificationColumns, ", ") +
		") VALUES (" + placeholders(1, len(verificationColumns)) + ")"
	if _, err := tx.ExecContext(ctx, query, verificationArgs(v, metadataJSON)...); err != nil {
		if storage.IsUniqueViolation(err) {
			return &apperr.DuplicateError{Key: v.Key()}
		}
		return apperr.Storage("create verification", fmt.Errorf("failed to insert verification: %w", err))
	}

	entry.VerificationID = v.ID
	if err := insertHistoryEntry(ctx, tx, entry, entryMetadata); err != nil {
		return apperr.Storage("create verification", err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.Storage("create verification", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// Transition applies t with a conditional update so that concurrent
// decisions on the same record have exactly one winner
func (s *SQLStore) Transition(ctx context.Context, t Transition) (*Verification, *HistoryEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, apperr.Storage("transition verification", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	var verifiedBy, rejectedBy *Party
	var verifiedAt, rejectedAt *time.Time
	at := t.At.UTC()
	if t.To == StatusVerified {
		verifiedBy, verifiedAt = &t.Actor, &at
	} else {
		rejectedBy, rejectedAt = &t.Actor, &at
	}

	args := []interface{}{string(t.To), at, nullString(t.Notes)}
	args = append(args, partyArgs(verifiedBy)...)
	args = append(args, nullTime(verifiedAt))
	args = append(args, partyArgs(rejectedBy)...)
	args = append(args, nullTime(rejectedAt), nullString(t.Reason), t.ID, string(StatusPending))

	result, err := tx.ExecContext(ctx, `
		UPDATE unified_verifications
		SET status = $1, updated_at = $2, review_notes = $3,
		    verified_by_id = $4, verified_by_role = $5, verified_by_email = $6, verified_by_name = $7, verified_at = $8,
		    rejected_by_id = $9, rejected_by_role = $10, rejected_by_email = $11, rejected_by_name = $12, rejected_at = $13,
		    rejection_reason = $14
		WHERE id = $15 AND status = $16
	`, args...)
	if err != nil {
		return nil, nil, apperr.Storage("transition verification", fmt.Errorf("failed to update verification %s: %w", t.ID, err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, nil, apperr.Storage("transition verification", fmt.Errorf("failed to read affected rows: %w", err))
	}

	if affected == 0 {
		var current string
		err := tx.QueryRowContext(ctx, "SELECT status FROM unified_verifications WHERE id = $1", t.ID).Scan(&current)
		if err == sql.ErrNoRows {
			return nil, nil, &apperr.NotFoundError{Kind: "verification", ID: t.ID}
		}
		if err != nil {
			return nil, nil, apperr.Storage("transition verification", fmt.Errorf("failed to read status of %s: %w", t.ID, err))
		}
		return nil, nil, &apperr.InvalidStateError{ID: t.ID, Current: current, Attempted: string(t.To)}
	}

	entry := &HistoryEntry{
		VerificationID: t.ID,
		Action:         t.action(),
		Actor:          t.Actor,
		PreviousStatus: StatusPending,
		NewStatus:      t.To,
		Note:           t.note(),
		CreatedAt:      at,
	}
	if err := insertHistoryEntry(ctx, tx, entry, nil); err != nil {
		return nil, nil, apperr.Storage("transition verification", err)
	}

	v, err := scanVerification(tx.QueryRowContext(ctx, selectVerifications+" WHERE id = $1", t.ID))
	if err != nil {
		return nil, nil, apperr.Storage("transition verification", fmt.Errorf("failed to read verification %s: %w", t.ID, err))
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, apperr.Storage("transition verification", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return v, entry, nil
}

// Get returns a verification by id
func (s *SQLStore) Get(ctx context.Context, id string) (*Verification, error) {
	v, err := scanVerification(s.db.QueryRowContext(ctx, selectVerifications+" WHERE id = $1", id))
	if err == sql.ErrNoRows {
		return nil, &apperr.NotFoundError{Kind: "verification", ID: id}
	}
	if err != nil {
		return nil, apperr.Storage("get verification", fmt.Errorf("failed to get verification %s: %w", id, err))
	}
	return v, nil
}

// FindByEntity returns the verification of one subject and flow
func (s *SQLStore) FindByEntity(ctx context.Context, t Type, entityType, entityID string) (*Verification, error) {
	v, err := scanVerification(s.db.QueryRowContext(ctx,
		selectVerifications+" WHERE verification_type = $1 AND entity_type = $2 AND entity_id = $3",
		string(t), entityType, entityID,
	))
	if err == sql.ErrNoRows {
		return nil, &apperr.NotFoundError{Kind: "verification", ID: entityKey(t, entityType, entityID)}
	}
	if err != nil {
		return nil, apperr.Storage("find verification", fmt.Errorf("failed to find verification: %w", err))
	}
	return v, nil
}

// ListByEntity returns every verification of one subject
func (s *SQLStore) ListByEntity(ctx context.Context, entityType, entityID string) ([]Verification, error) {
	list, err := s.query(ctx, selectVerifications+`
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at ASC, id ASC
	`, entityType, entityID)
	if err != nil {
		return nil, apperr.Storage("list verifications", err)
	}
	return list, nil
}

// List returns verifications matching f
func (s *SQLStore) List(ctx context.Context, f Filter) ([]Verification, error) {
	var where []string
	var args []interface{}
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Type != "" {
		add("verification_type = $%d", string(f.Type))
	}
	if f.AssigneeID != "" {
		add("assignee_id = $%d", f.AssigneeID)
	}
	if f.AssigneeRole != "" {
		add("assignee_role = $%d", string(f.AssigneeRole))
	}
	if f.RequesterID != "" {
		add("requester_id = $%d", f.RequesterID)
	}
	if f.DueBefore != nil {
		add("due_date < $%d", f.DueBefore.UTC())
	}

	query := selectVerifications
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, listLimit(f.Limit), maxInt(f.Offset, 0))
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	list, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("list verifications", err)
	}
	return list, nil
}

// History returns the entries of a verification in creation order
func (s *SQLStore) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, verification_id, action, actor_id, actor_role, actor_email, actor_name,
		       previous_status, new_status, note, metadata, created_at
		FROM unified_verification_history
		WHERE verification_id = $1
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, apperr.Storage("list history", fmt.Errorf("failed to query history: %w", err))
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var action, newStatus string
		var actor nullParty
		var previous, note, metadata sql.NullString
		if err := rows.Scan(
			&e.ID, &e.VerificationID, &action,
			&actor.id, &actor.role, &actor.email, &actor.name,
			&previous, &newStatus, &note, &metadata, &e.CreatedAt,
		); err != nil {
			return nil, apperr.Storage("list history", fmt.Errorf("failed to scan history entry: %w", err))
		}
		e.Action = HistoryAction(action)
		if p := actor.party(); p != nil {
			e.Actor = *p
		}
		e.PreviousStatus = Status(previous.String)
		e.NewStatus = Status(newStatus)
		e.Note = note.String
		if e.Metadata, err = unmarshalMetadata(metadata); err != nil {
			return nil, apperr.Storage("list history", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list history", fmt.Errorf("failed to iterate history: %w", err))
	}
	return entries, nil
}

func (s *SQLStore) query(ctx context.Context, query string, args ...interface{}) ([]Verification, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query verifications: %w", err)
	}
	defer rows.Close()

	var list []Verification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verification: %w", err)
		}
		list = append(list, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate verifications: %w", err)
	}
	return list, nil
}

func insertHistoryEntry(ctx context.Context, tx *sql.Tx, e *HistoryEntry, metadataJSON interface{}) error {
	args := []interface{}{e.VerificationID, string(e.Action)}
	args = append(args, partyArgs(&e.Actor)...)
	args = append(args, nullString(string(e.PreviousStatus)), string(e.NewStatus), nullString(e.Note), metadataJSON, e.CreatedAt.UTC())
	if err := tx.QueryRowContext(ctx, insertHistory, args...).Scan(&e.ID); err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

func verificationArgs(v *Verification, metadataJSON interface{}) []interface{} {
	args := []interface{}{v.ID, string(v.Type), v.EntityType, v.EntityID}
	args = append(args, partyArgs(&v.Requester)...)
	args = append(args, partyArgs(v.Assignee)...)
	args = append(args, v.Title, nullString(v.Description), nullString(v.Notes))
	if a := v.Attachment; a != nil {
		args = append(args, nullString(a.FileName), nullString(a.FileURL), a.FileSize, nullString(a.MimeType))
	} else {
		args = append(args, nil, nil, nil, nil)
	}
	args = append(args, metadataJSON, string(v.Priority), nullTime(v.DueDate), string(v.Status))
	args = append(args, partyArgs(v.VerifiedBy)...)
	args = append(args, nullTime(v.VerifiedAt))
	args = append(args, partyArgs(v.RejectedBy)...)
	args = append(args, nullTime(v.RejectedAt))
	args = append(args, nullString(v.RejectionReason), nullString(v.ReviewNotes), v.CreatedAt.UTC(), v.UpdatedAt.UTC())
	return args
}

type nullParty struct {
	id, role, email, name sql.NullString
}

func (n nullParty) party() *Party {
	if !n.id.Valid && !n.role.Valid {
		return nil
	}
	return &Party{ID: n.id.String, Role: rbac.RoleName(n.role.String), Email: n.email.String, Name: n.name.String}
}

func scanVerification(scanner interface{ Scan(...interface{}) error }) (*Verification, error) {
	var v Verification
	var vType, priority, status string
	var requester, assignee, verifiedBy, rejectedBy nullParty
	var description, notes, fileName, fileURL, mimeType, metadata, reason, reviewNotes sql.NullString
	var fileSize sql.NullInt64
	var dueDate, verifiedAt, rejectedAt sql.NullTime

	err := scanner.Scan(
		&v.ID, &vType, &v.EntityType, &v.EntityID,
		&requester.id, &requester.role, &requester.email, &requester.name,
		&assignee.id, &assignee.role, &assignee.email, &assignee.name,
		&v.Title, &description, &notes,
		&fileName, &fileURL, &fileSize, &mimeType,
		&metadata, &priority, &dueDate, &status,
		&verifiedBy.id, &verifiedBy.role, &verifiedBy.email, &verifiedBy.name, &verifiedAt,
		&rejectedBy.id, &rejectedBy.role, &rejectedBy.email, &rejectedBy.name, &rejectedAt,
		&reason, &reviewNotes, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	v.Type = Type(vType)
	v.Priority = Priority(priority)
	v.Status = Status(status)
	if p := requester.party(); p != nil {
		v.Requester = *p
	}
	v.Assignee = assignee.party()
	v.VerifiedBy = verifiedBy.party()
	v.RejectedBy = rejectedBy.party()
	v.Description = description.String
	v.Notes = notes.String
	v.RejectionReason = reason.String
	v.ReviewNotes = reviewNotes.String
	if fileName.Valid || fileURL.Valid {
		v.Attachment = &Attachment{
			FileName: fileName.String,
			FileURL:  fileURL.String,
			FileSize: fileSize.Int64,
			MimeType: mimeType.String,
		}
	}
	v.DueDate = timePtr(dueDate)
	v.VerifiedAt = timePtr(verifiedAt)
	v.RejectedAt = timePtr(rejectedAt)
	if v.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return nil, err
	}
	return &v, nil
}

func partyArgs(p *Party) []interface{} {
	if p == nil {
		return []interface{}{nil, nil, nil, nil}
	}
	return []interface{}{nullString(p.ID), nullString(string(p.Role)), nullString(p.Email), nullString(p.Name)}
}

func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func marshalMetadata(m Metadata) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalMetadata(data sql.NullString) (Metadata, error) {
	if !data.Valid || data.String == "" || data.String == "null" {
		return nil, nil
	}
	var m Metadata
	if err := json.Unmarshal([]byte(data.String), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return m, nil
}

func listLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
