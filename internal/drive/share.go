package drive

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/agjmills/nimbus/internal/database/models"
	"github.com/agjmills/nimbus/internal/metrics"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// extractCodeAlphabet leaves out characters that are easy to misread (0/O, 1/I).
const (
	extractCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	extractCodeLength   = 4
	shareCodeLength     = 12
	shareCodeAttempts   = 3
)

type ShareInput struct {
	FileIDs         []uint
	ExpiryDays      int    // <= 0 never expires
	ExtractCode     string // empty generates one
	AccessLimit     *int   // nil is unlimited
	AutoFillCode    bool   // visitors following the link skip the code prompt
	AutoRefreshCode bool   // ignore ExtractCode and always generate a fresh one
}

// Visitor identifies an anonymous share visitor.
type Visitor struct {
	IP        string
	UserAgent string
}

// Fingerprint is the stable per-visitor key used for access counting.
func (v Visitor) Fingerprint() string {
	sum := sha256.Sum256([]byte(v.IP + "|" + v.UserAgent))
	return hex.EncodeToString(sum[:])
}

// SharedView is what a verified visitor sees: the share and its live root entities.
type SharedView struct {
	Share models.Share  `json:"share"`
	Files []models.File `json:"files"`
}

func generateExtractCode() (string, error) {
	b := make([]byte, extractCodeLength)
	max := big.NewInt(int64(len(extractCodeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = extractCodeAlphabet[n.Int64()]
	}
	return string(b), nil
}

func generateShareCode() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:shareCodeLength]
}

func validExtractCode(code string) bool {
	if len(code) < 4 || len(code) > 16 {
		return false
	}
	for _, r := range code {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// CreateShare shares live entities owned by ownerID.
func (s *Service) CreateShare(ctx context.Context, ownerID uint, in ShareInput) (*models.Share, error) {
	ids := uniqueIDs(in.FileIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no files selected", ErrInvalidInput)
	}
	if in.AccessLimit != nil && *in.AccessLimit < 1 {
		return nil, fmt.Errorf("%w: access limit must be positive", ErrInvalidInput)
	}

	code := strings.TrimSpace(in.ExtractCode)
	if code == "" || in.AutoRefreshCode {
		var err error
		if code, err = generateExtractCode(); err != nil {
			return nil, fmt.Errorf("failed to generate extraction code: %w", err)
		}
	} else if !validExtractCode(code) {
		return nil, fmt.Errorf("%w: extraction code must be 4-16 letters or digits", ErrInvalidInput)
	}

	share := &models.Share{
		UserID:       ownerID,
		ExtractCode:  strings.ToUpper(code),
		AutoFillCode: in.AutoFillCode,
		AccessLimit:  in.AccessLimit,
	}
	if in.ExpiryDays > 0 {
		expires := time.Now().AddDate(0, 0, in.ExpiryDays)
		share.ExpiresAt = &expires
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var files []models.File
		if err := tx.Where("id IN ? AND uploader_id = ? AND is_deleted = ?", ids, ownerID, false).Find(&files).Error; err != nil {
			return err
		}
		if len(files) != len(ids) {
			return ErrNotFound
		}

		created := false
		for attempt := 0; attempt < shareCodeAttempts && !created; attempt++ {
			share.ShareCode = generateShareCode()
			err := tx.Transaction(func(sp *gorm.DB) error {
				return sp.Omit(clause.Associations).Create(share).Error
			})
			switch {
			case err == nil:
				created = true
			case !errors.Is(err, gorm.ErrDuplicatedKey):
				return err
			}
		}
		if !created {
			return fmt.Errorf("%w: could not allocate a unique share code", ErrConflict)
		}

		for _, id := range ids {
			if err := tx.Exec("INSERT INTO share_files (share_id, file_id) VALUES (?, ?)", share.ID, id).Error; err != nil {
				return fmt.Errorf("failed to link shared file: %w", err)
			}
		}
		share.Files = files
		return nil
	})
	if err != nil {
		return nil, err
	}
	return share, nil
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// verify runs the access gate. A visitor's first successful verification consumes one
// unit of the access limit; repeat visits only refresh their visitor row.
func (s *Service) verify(ctx context.Context, shareCode, extractCode string, v Visitor) (*models.Share, error) {
	var share models.Share
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("share_code = ?", strings.TrimSpace(shareCode)).First(&share).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrShareNotFound
		}
		if err != nil {
			return err
		}

		now := time.Now()
		if share.ExpiresAt != nil && !now.Before(*share.ExpiresAt) {
			return ErrShareExpired
		}
		if !share.AutoFillCode {
			given := strings.ToUpper(strings.TrimSpace(extractCode))
			if subtle.ConstantTimeCompare([]byte(given), []byte(strings.ToUpper(share.ExtractCode))) != 1 {
				return ErrBadExtractCode
			}
		}

		visitor := models.ShareVisitor{
			ShareID:     share.ID,
			Fingerprint: v.Fingerprint(),
			VisitCount:  1,
			LastSeenAt:  now,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "share_id"}, {Name: "fingerprint"}},
			DoNothing: true,
		}).Create(&visitor)
		if res.Error != nil {
			return fmt.Errorf("failed to record visitor: %w", res.Error)
		}

		if res.RowsAffected == 0 {
			return tx.Model(&models.ShareVisitor{}).
				Where("share_id = ? AND fingerprint = ?", share.ID, visitor.Fingerprint).
				Updates(map[string]any{
					"visit_count":  gorm.Expr("visit_count + 1"),
					"last_seen_at": now,
				}).Error
		}

		// New visitor: count it only while under the limit. Returning an error rolls the
		// visitor row back too.
		counted := tx.Model(&models.Share{}).
			Where("id = ? AND (access_limit IS NULL OR access_count < access_limit)", share.ID).
			UpdateColumn("access_count", gorm.Expr("access_count + 1"))
		if counted.Error != nil {
			return counted.Error
		}
		if counted.RowsAffected == 0 {
			return ErrShareLimitReached
		}
		share.AccessCount++
		return nil
	})
	metrics.RecordShareVerification(verifyResult(err))
	if err != nil {
		return nil, err
	}
	return &share, nil
}

func verifyResult(err error) string {
	switch {
	case err == nil:
		return "verified"
	case errors.Is(err, ErrShareNotFound):
		return "not_found"
	case errors.Is(err, ErrShareExpired):
		return "expired"
	case errors.Is(err, ErrBadExtractCode):
		return "bad_code"
	case errors.Is(err, ErrShareLimitReached):
		return "limit_reached"
	}
	return "error"
}

func shareRootIDs(tx *gorm.DB, shareID uint) ([]uint, error) {
	var ids []uint
	err := tx.Table("share_files").Where("share_id = ?", shareID).Pluck("file_id", &ids).Error
	return ids, err
}

func shareRoots(tx *gorm.DB, share *models.Share) ([]models.File, error) {
	ids, err := shareRootIDs(tx, share.ID)
	if err != nil {
		return nil, err
	}
	var files []models.File
	if len(ids) == 0 {
		return files, nil
	}
	err = tx.Where("id IN ? AND uploader_id = ? AND is_deleted = ?", ids, share.UserID, false).Find(&files).Error
	sortEntities(files)
	return files, err
}

// Verify checks a share code and extraction code and returns the shared roots.
func (s *Service) Verify(ctx context.Context, shareCode, extractCode string, v Visitor) (*SharedView, error) {
	share, err := s.verify(ctx, shareCode, extractCode, v)
	if err != nil {
		return nil, err
	}
	files, err := shareRoots(s.db.WithContext(ctx), share)
	if err != nil {
		return nil, err
	}
	return &SharedView{Share: *share, Files: files}, nil
}

// Authorize verifies the share and resolves entityID, which must be one of the shared
// roots or lie below a shared folder. Anything else is reported as not found.
func (s *Service) Authorize(ctx context.Context, shareCode, extractCode string, v Visitor, entityID uint) (*models.Share, *models.File, error) {
	share, err := s.verify(ctx, shareCode, extractCode, v)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.authorizeEntity(s.db.WithContext(ctx), share, entityID)
	if err != nil {
		return nil, nil, err
	}
	return share, f, nil
}

func (s *Service) authorizeEntity(tx *gorm.DB, share *models.Share, entityID uint) (*models.File, error) {
	f, err := getOwned(tx, share.UserID, entityID)
	if err != nil {
		return nil, err
	}
	rootIDs, err := shareRootIDs(tx, share.ID)
	if err != nil {
		return nil, err
	}
	within, err := s.isWithin(tx, f, rootIDs)
	if err != nil {
		return nil, err
	}
	if !within {
		return nil, ErrNotFound
	}
	return f, nil
}

// ListShared lists a shared folder's children, or the share roots when folderID is 0.
func (s *Service) ListShared(ctx context.Context, shareCode, extractCode string, v Visitor, folderID uint) ([]models.File, error) {
	if folderID == 0 {
		view, err := s.Verify(ctx, shareCode, extractCode, v)
		if err != nil {
			return nil, err
		}
		return view.Files, nil
	}

	_, folder, err := s.Authorize(ctx, shareCode, extractCode, v, folderID)
	if err != nil {
		return nil, err
	}
	if !folder.IsFolder {
		return nil, ErrNotFolder
	}

	var children []models.File
	if err := s.db.WithContext(ctx).
		Where("uploader_id = ? AND parent_key = ? AND is_deleted = ?", folder.UploaderID, folder.ID, false).
		Find(&children).Error; err != nil {
		return nil, err
	}
	sortEntities(children)
	return children, nil
}

// OpenShared opens a shared file's content.
func (s *Service) OpenShared(ctx context.Context, shareCode, extractCode string, v Visitor, fileID uint) (*models.File, io.ReadCloser, error) {
	_, f, err := s.Authorize(ctx, shareCode, extractCode, v, fileID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.openBlob(ctx, f)
	if err != nil {
		return nil, nil, err
	}
	return f, rc, nil
}

// ArchiveShared zips a shared folder. Empty folders are rejected.
func (s *Service) ArchiveShared(ctx context.Context, shareCode, extractCode string, v Visitor, folderID uint) (*Archive, error) {
	_, folder, err := s.Authorize(ctx, shareCode, extractCode, v, folderID)
	if err != nil {
		return nil, err
	}
	return s.archiveFolder(ctx, s.db.WithContext(ctx), folder, true, "share")
}

// SaveShared copies shared entities into ownerID's drive under parentID. All copies
// are charged to ownerID's quota in one transaction; if any of them does not fit,
// nothing is saved.
func (s *Service) SaveShared(ctx context.Context, ownerID uint, shareCode, extractCode string, v Visitor, fileIDs []uint, parentID *uint) ([]models.File, error) {
	ids := uniqueIDs(fileIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no files selected", ErrInvalidInput)
	}
	share, err := s.verify(ctx, shareCode, extractCode, v)
	if err != nil {
		return nil, err
	}

	var saved []models.File
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		target, err := getFolder(tx, ownerID, parentID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			src, err := s.authorizeEntity(tx, share, id)
			if err != nil {
				return err
			}
			if share.UserID == ownerID {
				if err := s.checkNotInside(tx, src, target); err != nil {
					return err
				}
			}

			var descendants []Entry
			if src.IsFolder {
				if descendants, err = s.walk(tx, src, false); err != nil {
					return err
				}
			}
			copied, err := s.copyTree(ctx, tx, ownerID, src, descendants, target, "save")
			if err != nil {
				return err
			}
			saved = append(saved, *copied)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// ListShares returns the owner's shares with their root entities, newest first.
func (s *Service) ListShares(ctx context.Context, ownerID uint) ([]models.Share, error) {
	var shares []models.Share
	err := s.db.WithContext(ctx).
		Preload("Files", "is_deleted = ?", false).
		Where("user_id = ?", ownerID).
		Order("created_at DESC").
		Find(&shares).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}
	return shares, nil
}

func getShare(tx *gorm.DB, ownerID, id uint) (*models.Share, error) {
	var share models.Share
	err := tx.Where("id = ? AND user_id = ?", id, ownerID).First(&share).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrShareNotFound
	}
	if err != nil {
		return nil, err
	}
	return &share, nil
}

// RevokeShare deletes a share together with its links and visitor records.
func (s *Service) RevokeShare(ctx context.Context, ownerID, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		share, err := getShare(tx, ownerID, id)
		if err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM share_files WHERE share_id = ?", share.ID).Error; err != nil {
			return err
		}
		if err := tx.Where("share_id = ?", share.ID).Delete(&models.ShareVisitor{}).Error; err != nil {
			return err
		}
		return tx.Delete(share).Error
	})
}

// RefreshCode replaces a share's extraction code with a newly generated one.
func (s *Service) RefreshCode(ctx context.Context, ownerID, id uint) (*models.Share, error) {
	var share *models.Share
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if share, err = getShare(tx, ownerID, id); err != nil {
			return err
		}
		code, err := generateExtractCode()
		if err != nil {
			return err
		}
		share.ExtractCode = code
		return tx.Model(share).Update("extract_code", code).Error
	})
	if err != nil {
		return nil, err
	}
	return share, nil
}
