package aigf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	documentFileExt = ".yaml"
	settingsFileExt = ".json"
)

var (
	ErrCacheNotFound  = errors.New("session cache not found")
	ErrMalformedCache = errors.New("malformed session cache")

	ErrInvalidSessionID = errors.New("invalid session id")
)

// SessionRecord is what's persisted for a single session: the flat
// settings record, and the structured conversation document.
type SessionRecord struct {
	Model    ConversationModel
	Settings map[string]any
}

// CacheStore persists session records. Every Save is a whole-record
// overwrite of both the settings record and the document.
type CacheStore interface {
	// SessionIDs returns the IDs of every stored session
	SessionIDs(ctx context.Context) ([]string, error)

	// Load returns the session's record. It returns ErrCacheNotFound if
	// no document is stored for the session, and an error wrapping
	// ErrMalformedCache if the stored record can't be parsed.
	Load(ctx context.Context, sessionID string) (*SessionRecord, error)

	Save(ctx context.Context, sessionID string, record *SessionRecord) error

	// Remove deletes the session's record. Removing a session that
	// doesn't exist is not an error.
	Remove(ctx context.Context, sessionID string) error
}

// NewCacheStore returns the store selected by cfg. db and notifier are only
// used by the database backend.
func NewCacheStore(
	cfg *CacheConfig,
	db DBI,
	notifier SessionNotifier,
	logger *slog.Logger,
) (CacheStore, error) {
	switch cfg.Backend {
	case cacheBackendFile, "":
		return newFileStore(cfg.Dir, logger)
	case cacheBackendDatabase:
		if db == nil {
			return nil, errors.New("database cache backend requires a database")
		}
		return newDBStore(db, notifier, logger), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %q", cfg.Backend)
	}
}

func malformed(sessionID string, err error) error {
	return fmt.Errorf("%w (session %s): %w", ErrMalformedCache, sessionID, err)
}

// fileStore keeps each session as `<dir>/<id>.yaml` (the document) and
// `<dir>/<id>.json` (the settings record)
type fileStore struct {
	dir    string
	logger *slog.Logger
}

func newFileStore(dir string, logger *slog.Logger) (*fileStore, error) {
	if dir == "" {
		return nil, errors.New("cache directory not set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating cache directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &fileStore{dir: dir, logger: logger.With(loggerNameKey, "file_store")}, nil
}

func (s *fileStore) documentPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+documentFileExt)
}

func (s *fileStore) settingsPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+settingsFileExt)
}

func (s *fileStore) SessionIDs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != documentFileExt {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, documentFileExt))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *fileStore) Load(_ context.Context, sessionID string) (*SessionRecord, error) {
	if err := validSessionID(sessionID); err != nil {
		return nil, err
	}

	record := &SessionRecord{}
	found, err := loadYAML(s.documentPath(sessionID), &record.Model)
	if err != nil {
		return nil, malformed(sessionID, err)
	}
	if !found {
		return nil, ErrCacheNotFound
	}

	record.Settings, err = loadJSON(s.settingsPath(sessionID))
	if err != nil {
		return nil, malformed(sessionID, err)
	}
	return record, nil
}

func (s *fileStore) Save(_ context.Context, sessionID string, record *SessionRecord) error {
	if err := validSessionID(sessionID); err != nil {
		return err
	}
	if err := saveJSON(s.settingsPath(sessionID), record.Settings); err != nil {
		return fmt.Errorf("error saving settings: %w", err)
	}
	if err := saveYAML(s.documentPath(sessionID), record.Model); err != nil {
		return fmt.Errorf("error saving conversation: %w", err)
	}
	s.logger.Debug("saved session", "session_id", sessionID)
	return nil
}

func (s *fileStore) Remove(_ context.Context, sessionID string) error {
	if err := validSessionID(sessionID); err != nil {
		return err
	}
	return errors.Join(
		removeFile(s.documentPath(sessionID)),
		removeFile(s.settingsPath(sessionID)),
	)
}

// validSessionID rejects IDs that can't safely be used as file names
func validSessionID(sessionID string) error {
	if sessionID == "" ||
		strings.ContainsAny(sessionID, `/\`) ||
		sessionID == "." || sessionID == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}
	return nil
}

// SessionCacheRecord is the database row for a session, used by the
// database cache backend. Removed sessions are deleted outright, so
// there's no soft-delete column.
type SessionCacheRecord struct {
	ModelStringID

	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`

	// Document is the YAML conversation document
	Document string `json:"document" gorm:"type:text"`

	// Settings is the JSON settings record
	Settings string `json:"settings" gorm:"type:text"`
}

func (SessionCacheRecord) TableName() string {
	return "session_caches"
}

type dbStore struct {
	db       DBI
	notifier SessionNotifier
	logger   *slog.Logger
}

func newDBStore(db DBI, notifier SessionNotifier, logger *slog.Logger) *dbStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &dbStore{
		db:       db,
		notifier: notifier,
		logger:   logger.With(loggerNameKey, "db_store"),
	}
}

func (s *dbStore) SessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.DB().WithContext(ctx).
		Model(&SessionCacheRecord{}).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}

func (s *dbStore) Load(ctx context.Context, sessionID string) (*SessionRecord, error) {
	var row SessionCacheRecord
	err := s.db.DB().WithContext(ctx).Where("id = ?", sessionID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCacheNotFound
		}
		return nil, err
	}

	record := &SessionRecord{}
	if err = yaml.Unmarshal([]byte(row.Document), &record.Model); err != nil {
		return nil, malformed(sessionID, err)
	}
	if record.Settings, err = decodeJSONObject([]byte(row.Settings)); err != nil {
		return nil, malformed(sessionID, err)
	}
	return record, nil
}

func (s *dbStore) Save(ctx context.Context, sessionID string, record *SessionRecord) error {
	document, err := yaml.Marshal(record.Model)
	if err != nil {
		return fmt.Errorf("error encoding conversation: %w", err)
	}
	settings, err := json.Marshal(record.Settings)
	if err != nil {
		return fmt.Errorf("error encoding settings: %w", err)
	}

	row := &SessionCacheRecord{
		ModelStringID: ModelStringID{ID: sessionID},
		Document:      string(document),
		Settings:      string(settings),
	}
	err = s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			return tx.Clauses(
				clause.OnConflict{
					Columns: []clause.Column{{Name: "id"}},
					DoUpdates: clause.AssignmentColumns(
						[]string{"document", "settings", "updated_at"},
					),
				},
			).Create(row).Error
		},
	)
	if err != nil {
		return err
	}
	s.notify(ctx, sessionID)
	return nil
}

func (s *dbStore) Remove(ctx context.Context, sessionID string) error {
	if _, err := s.db.Delete(ctx, &SessionCacheRecord{}, "id = ?", sessionID); err != nil {
		return err
	}
	s.notify(ctx, sessionID)
	return nil
}

func (s *dbStore) notify(ctx context.Context, sessionID string) {
	if s.notifier == nil {
		return
	}
	if !s.notifier.SessionUpdated(ctx, sessionID) {
		s.logger.WarnContext(ctx, "session update not announced", "session_id", sessionID)
	}
}
