package drive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/agjmills/nimbus/internal/database/models"
	"github.com/agjmills/nimbus/internal/logger"
	"github.com/agjmills/nimbus/internal/storage"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxUploadChunks = 10000

// InitUploadInput describes a resumable upload before any bytes arrive.
type InitUploadInput struct {
	ParentID     *uint
	RelativePath string
	Filename     string
	ContentType  string
	Tags         []string
	TotalSize    int64
	TotalChunks  int
	Hash         string // optional hex SHA-256 of the whole file
}

func (s *Service) uploadDir(id string) string {
	return filepath.Join(s.opts.TempDir, "nimbus-uploads", id)
}

func chunkPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("chunk_%d", index))
}

// InitUpload opens a resumable upload session. Size and quota are checked up front
// so clients do not send gigabytes that will be refused at completion.
func (s *Service) InitUpload(ctx context.Context, ownerID uint, in InitUploadInput) (*models.UploadSession, error) {
	_, name := splitRelativePath(in.RelativePath, in.Filename)
	if _, err := ValidateName(name); err != nil {
		return nil, err
	}
	if in.TotalSize <= 0 || in.TotalChunks <= 0 || in.TotalChunks > maxUploadChunks || int64(in.TotalChunks) > in.TotalSize {
		return nil, fmt.Errorf("%w: invalid upload size or chunk count", ErrInvalidInput)
	}
	in.Hash = strings.ToLower(strings.TrimSpace(in.Hash))
	if in.Hash != "" {
		if b, err := hex.DecodeString(in.Hash); err != nil || len(b) != sha256.Size {
			return nil, fmt.Errorf("%w: hash must be a hex SHA-256 digest", ErrInvalidInput)
		}
	}
	if s.opts.MaxUploadSize > 0 && in.TotalSize > s.opts.MaxUploadSize {
		return nil, storage.ErrFileTooLarge
	}
	if _, err := getFolder(s.db.WithContext(ctx), ownerID, in.ParentID); err != nil {
		return nil, err
	}
	usage, err := s.Usage(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if usage.Used+in.TotalSize > usage.Limit {
		return nil, ErrQuotaExceeded
	}

	id := uuid.NewString()
	dir := s.uploadDir(id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	session := &models.UploadSession{
		ID:             id,
		UserID:         ownerID,
		ParentID:       in.ParentID,
		RelativePath:   in.RelativePath,
		Filename:       in.Filename,
		MimeType:       in.ContentType,
		Tags:           datatypes.NewJSONType(normalizeTags(in.Tags)),
		TotalSize:      in.TotalSize,
		TotalChunks:    in.TotalChunks,
		ChunksReceived: datatypes.NewJSONType([]int{}),
		Hash:           in.Hash,
		Status:         models.UploadActive,
		TempDir:        dir,
		ExpiresAt:      time.Now().Add(s.opts.UploadSessionTTL),
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to create upload session: %w", err)
	}

	logger.Info("upload session initialized",
		"upload_id", id,
		"user_id", ownerID,
		"size", in.TotalSize,
		"chunks", in.TotalChunks,
	)
	return session, nil
}

func getUploadSession(tx *gorm.DB, ownerID uint, id string) (*models.UploadSession, error) {
	var session models.UploadSession
	err := tx.Where("id = ? AND user_id = ?", id, ownerID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// activeSession loads a session that can still accept work, expiring it on the way
// when its deadline has passed.
func (s *Service) activeSession(ctx context.Context, ownerID uint, id string) (*models.UploadSession, error) {
	session, err := getUploadSession(s.db.WithContext(ctx), ownerID, id)
	if err != nil {
		return nil, err
	}
	if session.Status != models.UploadActive {
		return nil, fmt.Errorf("%w: upload is %s", ErrInvalidInput, session.Status)
	}
	if time.Now().After(session.ExpiresAt) {
		s.expireSession(ctx, session)
		return nil, ErrUploadExpired
	}
	return session, nil
}

// expireSession only touches sessions that are still active, so a completion that
// claimed the session first keeps its chunks.
func (s *Service) expireSession(ctx context.Context, session *models.UploadSession) {
	result := s.db.WithContext(ctx).Model(&models.UploadSession{}).
		Where("id = ? AND status = ?", session.ID, models.UploadActive).
		Update("status", models.UploadExpired)
	if result.Error != nil {
		logger.Warn("failed to mark upload session expired", "upload_id", session.ID, "error", result.Error)
		return
	}
	if result.RowsAffected == 0 {
		return
	}
	if err := os.RemoveAll(session.TempDir); err != nil {
		logger.Warn("failed to remove upload directory", "dir", session.TempDir, "error", err)
	}
}

// PutChunk stores chunk index of an upload. Re-sending a chunk replaces it.
func (s *Service) PutChunk(ctx context.Context, ownerID uint, id string, index int, r io.Reader) (*models.UploadSession, error) {
	session, err := s.activeSession(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= session.TotalChunks {
		return nil, fmt.Errorf("%w: chunk %d out of range", ErrInvalidInput, index)
	}

	// Write beside the final name so a torn write never looks like a stored chunk.
	final := chunkPath(session.TempDir, index)
	tmp, err := os.CreateTemp(session.TempDir, "incoming-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk file: %w", err)
	}
	written, err := io.Copy(tmp, io.LimitReader(r, session.TotalSize+1))
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && written > session.TotalSize {
		err = storage.ErrFileTooLarge
	}
	if err == nil {
		err = os.Rename(tmp.Name(), final)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked models.UploadSession
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", session.ID).First(&locked).Error; err != nil {
			return err
		}
		if locked.Status != models.UploadActive {
			return fmt.Errorf("%w: upload is %s", ErrInvalidInput, locked.Status)
		}
		chunks := locked.Received()
		if !slices.Contains(chunks, index) {
			chunks = append(chunks, index)
			slices.Sort(chunks)
		}
		locked.ChunksReceived = datatypes.NewJSONType(chunks)
		if err := tx.Model(&locked).Update("chunks_received", locked.ChunksReceived).Error; err != nil {
			return err
		}
		session = &locked
		return nil
	})
	if errors.Is(err, ErrInvalidInput) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record chunk: %w", err)
	}

	logger.Debug("chunk stored", "upload_id", id, "chunk", index, "size", written)
	return session, nil
}

// chunkReader reads the chunk files of a directory in order, opening one at a time.
type chunkReader struct {
	dir   string
	next  int
	total int
	cur   *os.File
}

func (c *chunkReader) Read(p []byte) (int, error) {
	for {
		if c.cur == nil {
			if c.next >= c.total {
				return 0, io.EOF
			}
			f, err := os.Open(chunkPath(c.dir, c.next))
			if err != nil {
				return 0, err
			}
			c.cur = f
			c.next++
		}
		n, err := c.cur.Read(p)
		if errors.Is(err, io.EOF) {
			c.cur.Close()
			c.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *chunkReader) Close() error {
	if c.cur != nil {
		return c.cur.Close()
	}
	return nil
}

// verifyChunks checks that every chunk is present and that their concatenation has
// the declared size and hash.
func verifyChunks(session *models.UploadSession) error {
	chunks := session.Received()
	if len(chunks) != session.TotalChunks {
		return fmt.Errorf("%w: %d of %d chunks received", ErrInvalidInput, len(chunks), session.TotalChunks)
	}
	for i, c := range chunks {
		if c != i {
			return fmt.Errorf("%w: missing chunk %d", ErrInvalidInput, i)
		}
	}

	cr := &chunkReader{dir: session.TempDir, total: session.TotalChunks}
	defer cr.Close()
	hasher := sha256.New()
	size, err := io.Copy(hasher, cr)
	if err != nil {
		return fmt.Errorf("failed to read chunks: %w", err)
	}
	if size != session.TotalSize {
		return fmt.Errorf("%w: assembled size %d does not match declared %d", ErrInvalidInput, size, session.TotalSize)
	}
	if session.Hash != "" && hex.EncodeToString(hasher.Sum(nil)) != session.Hash {
		return fmt.Errorf("%w: file integrity check failed", ErrInvalidInput)
	}
	return nil
}

// CompleteUpload assembles the chunks and records the file through Upload, so the
// usual naming, folder chain and quota rules apply. The session is claimed first;
// a concurrent or repeated completion of the same session is rejected instead of
// storing a second file.
func (s *Service) CompleteUpload(ctx context.Context, ownerID uint, id string) (*models.File, error) {
	session, err := s.activeSession(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	claim := s.db.WithContext(ctx).Model(&models.UploadSession{}).
		Where("id = ? AND user_id = ? AND status = ?", session.ID, ownerID, models.UploadActive).
		Update("status", models.UploadCompleting)
	if claim.Error != nil {
		return nil, fmt.Errorf("failed to claim upload session: %w", claim.Error)
	}
	if claim.RowsAffected != 1 {
		return nil, fmt.Errorf("%w: upload is already being completed", ErrInvalidInput)
	}
	session.Status = models.UploadCompleting

	file, err := s.assembleUpload(ctx, ownerID, session)
	if err != nil {
		// Release the claim so the client can fix the chunks and retry.
		if rerr := s.db.WithContext(context.WithoutCancel(ctx)).Model(&models.UploadSession{}).
			Where("id = ? AND status = ?", session.ID, models.UploadCompleting).
			Update("status", models.UploadActive).Error; rerr != nil {
			logger.Warn("failed to release upload session", "upload_id", id, "error", rerr)
		}
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(session).Updates(map[string]any{
		"status":  models.UploadCompleted,
		"file_id": file.ID,
	}).Error; err != nil {
		logger.Warn("failed to mark upload session completed", "upload_id", id, "error", err)
	}
	if err := os.RemoveAll(session.TempDir); err != nil {
		logger.Warn("failed to remove upload directory", "dir", session.TempDir, "error", err)
	}
	logger.Info("upload completed", "upload_id", id, "file_id", file.ID)
	return file, nil
}

func (s *Service) assembleUpload(ctx context.Context, ownerID uint, session *models.UploadSession) (*models.File, error) {
	if err := verifyChunks(session); err != nil {
		return nil, err
	}

	cr := &chunkReader{dir: session.TempDir, total: session.TotalChunks}
	file, err := s.Upload(ctx, ownerID, UploadInput{
		ParentID:     session.ParentID,
		RelativePath: session.RelativePath,
		Filename:     session.Filename,
		ContentType:  session.MimeType,
		Tags:         session.Tags.Data(),
		Size:         session.TotalSize,
		Reader:       cr,
	})
	cr.Close()
	return file, err
}

// CancelUpload abandons an upload and discards its chunks.
func (s *Service) CancelUpload(ctx context.Context, ownerID uint, id string) error {
	session, err := getUploadSession(s.db.WithContext(ctx), ownerID, id)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&models.UploadSession{}).
		Where("id = ? AND status NOT IN ?", session.ID, []string{models.UploadCompleting, models.UploadCompleted}).
		Update("status", models.UploadCancelled)
	if result.Error != nil {
		return fmt.Errorf("failed to cancel upload: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: upload can no longer be cancelled", ErrInvalidInput)
	}
	if err := os.RemoveAll(session.TempDir); err != nil {
		logger.Warn("failed to remove upload directory", "dir", session.TempDir, "error", err)
	}
	logger.Info("upload cancelled", "upload_id", id, "user_id", ownerID)
	return nil
}

// UploadStatus returns the session with the chunks received so far.
func (s *Service) UploadStatus(ctx context.Context, ownerID uint, id string) (*models.UploadSession, error) {
	return getUploadSession(s.db.WithContext(ctx), ownerID, id)
}

// CleanupUploads expires overdue sessions and forgets finished ones once they are
// older than the session TTL.
func (s *Service) CleanupUploads(ctx context.Context) error {
	var overdue []models.UploadSession
	if err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", models.UploadActive, time.Now()).
		Find(&overdue).Error; err != nil {
		return fmt.Errorf("failed to query expired upload sessions: %w", err)
	}
	for i := range overdue {
		s.expireSession(ctx, &overdue[i])
	}

	result := s.db.WithContext(ctx).
		Where("status NOT IN ? AND updated_at < ?", []string{models.UploadActive, models.UploadCompleting}, time.Now().Add(-s.opts.UploadSessionTTL)).
		Delete(&models.UploadSession{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete old upload sessions: %w", result.Error)
	}
	if len(overdue) > 0 || result.RowsAffected > 0 {
		logger.Info("upload sessions cleaned up", "expired", len(overdue), "deleted", result.RowsAffected)
	}
	return nil
}
