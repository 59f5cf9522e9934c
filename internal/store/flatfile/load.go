package flatfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"helpconv/internal/conversation"
)

// Load walks the data directory. Units whose metadata is missing or
// unreadable are logged and skipped along with everything below them.
func (s *Store) Load(ctx context.Context) ([]conversation.ListSnapshot, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	var lists []conversation.ListSnapshot
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() {
			continue
		}
		list, ok := s.loadList(e.Name())
		if ok {
			lists = append(lists, list)
		}
	}
	return lists, nil
}

func (s *Store) loadList(studentID string) (conversation.ListSnapshot, bool) {
	dir := filepath.Join(s.root, studentID)
	log := s.log.With().Str("student_id", studentID).Logger()

	var meta listMeta
	if err := s.readJSON(filepath.Join(dir, listMetaFile), &meta); err != nil {
		log.Warn().Err(err).Msg("Ignoring student directory without readable convlist.meta")
		return conversation.ListSnapshot{}, false
	}
	if meta.StudentID != "" && meta.StudentID != studentID {
		log.Warn().Str("meta_student_id", meta.StudentID).Msg("Ignoring student directory whose metadata names another student")
		return conversation.ListSnapshot{}, false
	}
	list := conversation.ListSnapshot{
		Student: conversation.NewStudentKey(studentID, meta.FirstName, meta.LastName, meta.ScreenName),
	}

	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list conversations")
		return list, true
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(e.Name())
		if err != nil || n <= 0 {
			continue
		}
		conv, ok := s.loadConversation(studentID, n)
		if ok {
			list.Conversations = append(list.Conversations, conv)
		}
	}
	sort.Slice(list.Conversations, func(i, j int) bool {
		return list.Conversations[i].Number < list.Conversations[j].Number
	})
	return list, true
}

func (s *Store) loadConversation(studentID string, number int) (conversation.ConversationSnapshot, bool) {
	dir := filepath.Join(s.root, studentID, strconv.Itoa(number))
	log := s.log.With().Str("student_id", studentID).Int("conv", number).Logger()

	var meta convMeta
	if err := s.readJSON(filepath.Join(dir, convMetaFile), &meta); err != nil {
		log.Warn().Err(err).Msg("Ignoring conversation without readable conv.meta")
		return conversation.ConversationSnapshot{}, false
	}
	conv := conversation.ConversationSnapshot{
		ConversationRecord: conversation.ConversationRecord{StudentID: studentID, Number: number, Subject: meta.Subject},
	}

	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list messages")
		return conv, true
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == convMetaFile || !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, metaSuffix))
		if err != nil || n <= 0 {
			continue
		}
		var mm messageMeta
		if err := s.readJSON(filepath.Join(dir, name), &mm); err != nil {
			log.Warn().Err(err).Int("msg", n).Msg("Skipping unreadable message metadata")
			continue
		}
		ref := conversation.MessageRef{StudentID: studentID, ConversationNumber: number, MessageNumber: n}
		rec, err := mm.record(ref)
		if err != nil {
			log.Warn().Err(err).Int("msg", n).Msg("Skipping invalid message metadata")
			continue
		}
		conv.Messages = append(conv.Messages, rec)
	}
	sort.Slice(conv.Messages, func(i, j int) bool {
		return conv.Messages[i].MessageNumber < conv.Messages[j].MessageNumber
	})
	return conv, true
}

// LoadMessageContent reads <msg>.content.
func (s *Store) LoadMessageContent(ctx context.Context, ref conversation.MessageRef) (string, error) {
	dir, err := s.convDir(ref.StudentID, ref.ConversationNumber)
	if err != nil {
		return "", err
	}
	_, body := messagePaths(dir, ref.MessageNumber)
	data, err := afero.ReadFile(s.fs, body)
	if errors.Is(err, os.ErrNotExist) {
		return "", conversation.ErrContentNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", body, err)
	}
	return string(data), nil
}
