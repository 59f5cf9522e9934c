package flatfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"helpconv/internal/conversation"
)

// WriteStudentList creates the student directory and writes convlist.meta.
func (s *Store) WriteStudentList(ctx context.Context, rec conversation.ListRecord) error {
	dir, err := s.studentDir(rec.Student.StudentID)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create student directory: %w", err)
	}
	return s.writeJSON(filepath.Join(dir, listMetaFile), listMeta{
		StudentID:  rec.Student.StudentID,
		FirstName:  rec.Student.FirstName,
		LastName:   rec.Student.LastName,
		ScreenName: rec.Student.ScreenName,
	})
}

// WriteConversation creates the conversation directory and writes conv.meta.
func (s *Store) WriteConversation(ctx context.Context, rec conversation.ConversationRecord) error {
	dir, err := s.convDir(rec.StudentID, rec.Number)
	if err != nil {
		return err
	}
	if err := s.mustExist(filepath.Join(filepath.Dir(dir), listMetaFile)); err != nil {
		return err
	}
	meta := filepath.Join(dir, convMetaFile)
	if err := s.mustNotExist(meta); err != nil {
		return err
	}
	if err := s.fs.Mkdir(dir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("failed to create conversation directory: %w", err)
	}
	return s.writeJSON(meta, convMeta{Subject: rec.Subject})
}

// WriteConversationMetadata rewrites conv.meta of an existing conversation.
func (s *Store) WriteConversationMetadata(ctx context.Context, rec conversation.ConversationRecord) error {
	dir, err := s.convDir(rec.StudentID, rec.Number)
	if err != nil {
		return err
	}
	meta := filepath.Join(dir, convMetaFile)
	if err := s.mustExist(meta); err != nil {
		return err
	}
	return s.writeJSON(meta, convMeta{Subject: rec.Subject})
}

// WriteMessage writes the content file and then the metadata file. A
// message becomes visible to Load only once its metadata exists, so the
// content is removed again when the metadata cannot be written.
func (s *Store) WriteMessage(ctx context.Context, rec conversation.MessageRecord) error {
	dir, err := s.convDir(rec.StudentID, rec.ConversationNumber)
	if err != nil {
		return err
	}
	if err := s.mustExist(filepath.Join(dir, convMetaFile)); err != nil {
		return err
	}
	meta, body := messagePaths(dir, rec.MessageNumber)
	if err := s.mustNotExist(meta); err != nil {
		return err
	}
	if err := s.writeFile(body, []byte(rec.Content)); err != nil {
		return err
	}
	if err := s.writeJSON(meta, newMessageMeta(rec)); err != nil {
		if rmErr := s.fs.Remove(body); rmErr != nil {
			s.log.Warn().Err(rmErr).Str("path", body).Msg("Failed to remove content of unwritten message")
		}
		return err
	}
	return nil
}

// WriteMessageMetadata rewrites the metadata file of an existing message.
func (s *Store) WriteMessageMetadata(ctx context.Context, rec conversation.MessageRecord) error {
	dir, err := s.convDir(rec.StudentID, rec.ConversationNumber)
	if err != nil {
		return err
	}
	meta, _ := messagePaths(dir, rec.MessageNumber)
	if err := s.mustExist(meta); err != nil {
		return err
	}
	return s.writeJSON(meta, newMessageMeta(rec))
}
