package db

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("naming request not found")
	// ErrConflict means a conditional update matched no row although the request exists.
	ErrConflict = errors.New("naming request changed concurrently")
)

// Filter narrows List results. Zero values are ignored.
type Filter struct {
	Status           string
	SubmitterID      string
	AssignedReviewer string
	Limit            int
	Offset           int
}

// StatusUpdate describes one status change and its history entry.
type StatusUpdate struct {
	Status      string
	ChangedBy   string
	Comment     string
	ReviewNotes *string
	At          time.Time
}

type Store struct {
	db *gorm.DB
}

func NewStore(d *gorm.DB) *Store {
	return &Store{db: d}
}

// Create inserts the request together with its history rows.
func (s *Store) Create(ctx context.Context, req *NamingRequest) error {
	if err := s.db.WithContext(ctx).Create(req).Error; err != nil {
		return errors.Wrap(err, "create naming request")
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*NamingRequest, error) {
	var req NamingRequest
	err := s.withHistory(s.db.WithContext(ctx)).First(&req, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find naming request %s", id)
	}
	return &req, nil
}

// List returns requests newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]NamingRequest, error) {
	query := s.withHistory(s.db.WithContext(ctx)).Order("created_at DESC")
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.SubmitterID != "" {
		query = query.Where("submitter_id = ?", f.SubmitterID)
	}
	if f.AssignedReviewer != "" {
		query = query.Where("assigned_reviewer = ?", f.AssignedReviewer)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}

	requests := []NamingRequest{}
	if err := query.Find(&requests).Error; err != nil {
		return nil, errors.Wrap(err, "list naming requests")
	}
	return requests, nil
}

// UpdateStatus moves the request from status `from` to u.Status and appends the
// history entry in the same transaction. If the stored status is no longer `from`
// nothing is written and ErrConflict is returned.
func (s *Store) UpdateStatus(ctx context.Context, id, from string, u StatusUpdate) (*NamingRequest, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":     u.Status,
			"updated_at": u.At,
		}
		if u.ReviewNotes != nil {
			updates["review_notes"] = *u.ReviewNotes
		}

		result := tx.Model(&NamingRequest{}).Where("id = ? AND status = ?", id, from).Updates(updates)
		if result.Error != nil {
			return errors.Wrap(result.Error, "update status")
		}
		if result.RowsAffected == 0 {
			return missingOrConflict(tx, id)
		}

		entry := StatusHistoryEntry{
			RequestID: id,
			Status:    u.Status,
			ChangedBy: u.ChangedBy,
			ChangedAt: u.At,
			Comment:   u.Comment,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return errors.Wrap(err, "append status history")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.FindByID(ctx, id)
}

// SetAssignedReviewer sets assigned_reviewer only while it is unset and the status
// is one of statuses. On ErrConflict the current record is returned alongside the error.
func (s *Store) SetAssignedReviewer(ctx context.Context, id, reviewer string, statuses []string, at time.Time) (*NamingRequest, error) {
	result := s.db.WithContext(ctx).Model(&NamingRequest{}).
		Where("id = ? AND assigned_reviewer = '' AND status IN ?", id, statuses).
		Updates(map[string]interface{}{
			"assigned_reviewer": reviewer,
			"updated_at":        at,
		})
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "set assigned reviewer")
	}
	return s.afterConditional(ctx, id, result.RowsAffected)
}

// ClearAssignedReviewer unsets assigned_reviewer if it still equals reviewer.
func (s *Store) ClearAssignedReviewer(ctx context.Context, id, reviewer string, at time.Time) (*NamingRequest, error) {
	result := s.db.WithContext(ctx).Model(&NamingRequest{}).
		Where("id = ? AND assigned_reviewer = ?", id, reviewer).
		Updates(map[string]interface{}{
			"assigned_reviewer": "",
			"updated_at":        at,
		})
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "clear assigned reviewer")
	}
	return s.afterConditional(ctx, id, result.RowsAffected)
}

// Delete removes the request and its history.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("request_id = ?", id).Delete(&StatusHistoryEntry{}).Error; err != nil {
			return errors.Wrap(err, "delete status history")
		}
		result := tx.Where("id = ?", id).Delete(&NamingRequest{})
		if result.Error != nil {
			return errors.Wrap(result.Error, "delete naming request")
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Store) afterConditional(ctx context.Context, id string, rows int64) (*NamingRequest, error) {
	req, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return req, ErrConflict
	}
	return req, nil
}

func (s *Store) withHistory(q *gorm.DB) *gorm.DB {
	return q.Preload("StatusHistory", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	})
}

func missingOrConflict(tx *gorm.DB, id string) error {
	var count int64
	if err := tx.Model(&NamingRequest{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return errors.Wrap(err, "check naming request")
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrConflict
}
