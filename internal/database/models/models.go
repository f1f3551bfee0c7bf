package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Coarse content categories stored in File.Type.
const (
	TypeImage    = "image"
	TypeVideo    = "video"
	TypeAudio    = "audio"
	TypeDocument = "document"
	TypeArchive  = "archive"
	TypeFolder   = "folder"
	TypeOther    = "other"
)

type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Username     string         `gorm:"uniqueIndex;not null;size:50" json:"username"`
	Email        string         `gorm:"uniqueIndex;not null;size:255" json:"email"`
	PasswordHash string         `gorm:"not null;size:255" json:"-"`
	StorageQuota int64          `gorm:"not null;default:10737418240" json:"storage_quota"`
	StorageUsed  int64          `gorm:"not null;default:0" json:"storage_used"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`

	Files []File `gorm:"foreignKey:UploaderID;constraint:OnDelete:CASCADE" json:"-"`
}

// File is the single row type for both files and folders, discriminated by IsFolder.
//
// Sibling names are unique per (uploader, parent, kind) among live rows. ParentKey mirrors
// ParentID with 0 standing in for the root, and DeleteToken is 0 while the row is live and
// set to the row's own ID once it is soft-deleted, so trashed rows never collide.
type File struct {
	ID          uint                         `gorm:"primaryKey" json:"id"`
	UploaderID  uint                         `gorm:"not null;index;uniqueIndex:idx_sibling_name,priority:1" json:"uploader_id"`
	ParentID    *uint                        `gorm:"index" json:"parent_id"`
	ParentKey   uint                         `gorm:"not null;default:0;uniqueIndex:idx_sibling_name,priority:2" json:"-"`
	IsFolder    bool                         `gorm:"not null;default:false;uniqueIndex:idx_sibling_name,priority:3" json:"is_folder"`
	Name        string                       `gorm:"not null;size:255;uniqueIndex:idx_sibling_name,priority:4" json:"name"`
	DeleteToken uint                         `gorm:"not null;default:0;uniqueIndex:idx_sibling_name,priority:5" json:"-"`
	Filename    string                       `gorm:"size:255;index" json:"filename,omitempty"` // Physical blob locator
	URL         string                       `gorm:"size:1024" json:"url,omitempty"`           // Legacy locator, read by the archive fallback chain only
	Path        string                       `gorm:"not null;size:1024;default:'/'" json:"path"`
	Type        string                       `gorm:"not null;size:20;default:'other';index" json:"type"`
	MimeType    string                       `gorm:"size:100" json:"mime_type,omitempty"`
	Size        int64                        `gorm:"not null;default:0" json:"size"`
	Hash        string                       `gorm:"size:64" json:"hash,omitempty"`
	Tags        datatypes.JSONType[[]string] `json:"tags"`
	IsDeleted   bool                         `gorm:"not null;default:false;index" json:"is_deleted"`
	TrashedAt   *time.Time                   `gorm:"index" json:"trashed_at,omitempty"`
	CreatedAt   time.Time                    `json:"created_at"`
	UpdatedAt   time.Time                    `json:"updated_at"`

	Uploader User `gorm:"foreignKey:UploaderID" json:"-"`
}

// TagList returns the stored tags, never nil.
func (f *File) TagList() []string {
	tags := f.Tags.Data()
	if tags == nil {
		return []string{}
	}
	return tags
}

// Share grants code-gated access to one or more root files or folders.
type Share struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	UserID       uint       `gorm:"not null;index" json:"user_id"`
	ShareCode    string     `gorm:"uniqueIndex;not null;size:32" json:"share_code"`
	ExtractCode  string     `gorm:"not null;size:16" json:"extract_code"`
	AutoFillCode bool       `gorm:"not null;default:false" json:"auto_fill_code"`
	ExpiresAt    *time.Time `json:"expires_at"`   // nil = never expires
	AccessLimit  *int       `json:"access_limit"` // nil = unlimited
	AccessCount  int        `gorm:"not null;default:0" json:"access_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	Files []File `gorm:"many2many:share_files;constraint:OnDelete:CASCADE" json:"files,omitempty"`
	User  User   `gorm:"foreignKey:UserID" json:"-"`
}

// ShareVisitor counts visits per client fingerprint so repeat visits do not
// consume a share's access limit.
type ShareVisitor struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ShareID     uint      `gorm:"not null;uniqueIndex:idx_share_visitor" json:"share_id"`
	Fingerprint string    `gorm:"not null;size:64;uniqueIndex:idx_share_visitor" json:"fingerprint"`
	VisitCount  int       `gorm:"not null;default:1" json:"visit_count"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Upload session states.
const (
	UploadActive     = "active"
	UploadCompleting = "completing"
	UploadCompleted  = "completed"
	UploadCancelled  = "cancelled"
	UploadExpired    = "expired"
)

// UploadSession tracks a resumable upload whose chunks are spooled to local disk
// until the client completes it.
type UploadSession struct {
	ID             string                       `gorm:"primaryKey;size:36" json:"upload_id"`
	UserID         uint                         `gorm:"not null;index" json:"-"`
	ParentID       *uint                        `json:"parent_id"`
	RelativePath   string                       `gorm:"size:1024" json:"relative_path,omitempty"`
	Filename       string                       `gorm:"not null;size:255" json:"filename"`
	MimeType       string                       `gorm:"size:100" json:"mime_type,omitempty"`
	Tags           datatypes.JSONType[[]string] `json:"tags"`
	TotalSize      int64                        `gorm:"not null" json:"total_size"`
	TotalChunks    int                          `gorm:"not null" json:"total_chunks"`
	ChunksReceived datatypes.JSONType[[]int]    `json:"chunks_received"`
	Hash           string                       `gorm:"size:64" json:"hash,omitempty"` // optional client-supplied SHA-256
	Status         string                       `gorm:"not null;size:20;default:'active';index" json:"status"`
	TempDir        string                       `gorm:"size:1024" json:"-"`
	FileID         *uint                        `json:"file_id,omitempty"`
	ExpiresAt      time.Time                    `gorm:"index" json:"expires_at"`
	CreatedAt      time.Time                    `json:"created_at"`
	UpdatedAt      time.Time                    `json:"updated_at"`
}

// Received returns the sorted chunk indexes stored so far, never nil.
func (u *UploadSession) Received() []int {
	chunks := u.ChunksReceived.Data()
	if chunks == nil {
		return []int{}
	}
	return chunks
}

// All returns every model for AutoMigrate.
func All() []any {
	return []any{
		&User{},
		&File{},
		&Share{},
		&ShareVisitor{},
		&UploadSession{},
	}
}
