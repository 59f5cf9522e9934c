// Package pebble stores conversations in a Pebble key-value database.
//
// Keys:
//
//	l/<studentId>                           student list metadata
//	c/<studentId>/<conv>                    conversation metadata
//	m/<studentId>/<conv>/<msg>/meta         message metadata
//	m/<studentId>/<conv>/<msg>/body         message content
//
// Numbers are zero padded so iteration order matches numeric order.
package pebble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog"

	"helpconv/internal/conversation"
)

var (
	// ErrInvalidKey is returned for student IDs that cannot be embedded in a key.
	ErrInvalidKey = errors.New("invalid key element")
	// ErrExists is returned when creating a record that is already stored.
	ErrExists = errors.New("already exists")
	// ErrMissing is returned when rewriting a record that is not stored.
	ErrMissing = errors.New("does not exist")
)

// Store implements conversation.Backend on Pebble.
type Store struct {
	db  *pebble.DB
	log zerolog.Logger
}

var _ conversation.Backend = (*Store)(nil)

// Open opens (or creates) the database at path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	log = log.With().Str("component", "pebble").Str("path", path).Logger()
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		log.Error().Err(err).Msg("Failed to open pebble database")
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}
	log.Info().Msg("Pebble database opened")
	return &Store{db: db, log: log}, nil
}

// Close closes the database. Later calls are no-ops.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func checkElement(id string) error {
	if id == "" || strings.Contains(id, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, id)
	}
	return nil
}

func listKey(sid string) []byte {
	return []byte("l/" + sid)
}

func convKey(sid string, conv int) []byte {
	return []byte(fmt.Sprintf("c/%s/%010d", sid, conv))
}

func msgPrefix(ref conversation.MessageRef) string {
	return fmt.Sprintf("m/%s/%010d/%010d/", ref.StudentID, ref.ConversationNumber, ref.MessageNumber)
}

func metaKey(ref conversation.MessageRef) []byte {
	return []byte(msgPrefix(ref) + "meta")
}

func bodyKey(ref conversation.MessageRef) []byte {
	return []byte(msgPrefix(ref) + "body")
}

func (s *Store) has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = closer.Close()
	return true, nil
}

func (s *Store) require(key []byte, present bool) error {
	ok, err := s.has(key)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	switch {
	case present && !ok:
		return fmt.Errorf("%s: %w", key, ErrMissing)
	case !present && ok:
		return fmt.Errorf("%s: %w", key, ErrExists)
	}
	return nil
}

func (s *Store) setJSON(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// WriteStudentList stores the list metadata.
func (s *Store) WriteStudentList(ctx context.Context, rec conversation.ListRecord) error {
	if err := checkElement(rec.Student.StudentID); err != nil {
		return err
	}
	return s.setJSON(listKey(rec.Student.StudentID), newListValue(rec.Student))
}

// WriteConversation stores a new conversation under an existing list.
func (s *Store) WriteConversation(ctx context.Context, rec conversation.ConversationRecord) error {
	if err := checkElement(rec.StudentID); err != nil {
		return err
	}
	if err := s.require(listKey(rec.StudentID), true); err != nil {
		return err
	}
	key := convKey(rec.StudentID, rec.Number)
	if err := s.require(key, false); err != nil {
		return err
	}
	return s.setJSON(key, convValue{Subject: rec.Subject})
}

// WriteConversationMetadata rewrites the subject of a stored conversation.
func (s *Store) WriteConversationMetadata(ctx context.Context, rec conversation.ConversationRecord) error {
	if err := checkElement(rec.StudentID); err != nil {
		return err
	}
	key := convKey(rec.StudentID, rec.Number)
	if err := s.require(key, true); err != nil {
		return err
	}
	return s.setJSON(key, convValue{Subject: rec.Subject})
}

// WriteMessage stores metadata and content in one synced batch.
func (s *Store) WriteMessage(ctx context.Context, rec conversation.MessageRecord) error {
	if err := checkElement(rec.StudentID); err != nil {
		return err
	}
	if err := s.require(convKey(rec.StudentID, rec.ConversationNumber), true); err != nil {
		return err
	}
	if err := s.require(metaKey(rec.MessageRef), false); err != nil {
		return err
	}
	meta, err := json.Marshal(newMessageValue(rec))
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	b := s.db.NewBatch()
	defer func() { _ = b.Close() }()
	if err := b.Set(metaKey(rec.MessageRef), meta, nil); err != nil {
		return err
	}
	if err := b.Set(bodyKey(rec.MessageRef), []byte(rec.Content), nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}
	return nil
}

// WriteMessageMetadata rewrites the metadata of a stored message.
func (s *Store) WriteMessageMetadata(ctx context.Context, rec conversation.MessageRecord) error {
	if err := checkElement(rec.StudentID); err != nil {
		return err
	}
	key := metaKey(rec.MessageRef)
	if err := s.require(key, true); err != nil {
		return err
	}
	return s.setJSON(key, newMessageValue(rec))
}

// LoadMessageContent reads the body of one message.
func (s *Store) LoadMessageContent(ctx context.Context, ref conversation.MessageRef) (string, error) {
	v, closer, err := s.db.Get(bodyKey(ref))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", conversation.ErrContentNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read message content: %w", err)
	}
	defer func() { _ = closer.Close() }()
	return string(v), nil
}
