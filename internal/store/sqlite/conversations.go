package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"helpconv/internal/conversation"
)

// Load reads every student list, conversation and message (without content).
// Rows whose timestamps or state cannot be parsed are logged and skipped.
func (s *Store) Load(ctx context.Context) ([]conversation.ListSnapshot, error) {
	var (
		snapshots []conversation.ListSnapshot
		byStudent = make(map[string]int)
	)

	rows, err := s.db.QueryContext(ctx, `
		SELECT student_id, first_name, last_name, screen_name
		FROM student_lists
		ORDER BY student_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query student lists: %w", err)
	}
	for rows.Next() {
		var k conversation.StudentKey
		if err := rows.Scan(&k.StudentID, &k.FirstName, &k.LastName, &k.ScreenName); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan student list: %w", err)
		}
		byStudent[k.StudentID] = len(snapshots)
		snapshots = append(snapshots, conversation.ListSnapshot{Student: k})
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	type convKey struct {
		student string
		number  int
	}
	byConv := make(map[convKey][2]int)

	rows, err = s.db.QueryContext(ctx, `
		SELECT student_id, conv_nbr, subject
		FROM conversations
		ORDER BY student_id, conv_nbr
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	for rows.Next() {
		var rec conversation.ConversationRecord
		if err := rows.Scan(&rec.StudentID, &rec.Number, &rec.Subject); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		li, ok := byStudent[rec.StudentID]
		if !ok {
			s.log.Warn().Str("student_id", rec.StudentID).Int("conv", rec.Number).Msg("Skipping conversation without student list")
			continue
		}
		list := &snapshots[li]
		byConv[convKey{rec.StudentID, rec.Number}] = [2]int{li, len(list.Conversations)}
		list.Conversations = append(list.Conversations, conversation.ConversationSnapshot{ConversationRecord: rec})
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT student_id, conv_nbr, msg_nbr, created, author_id, author_first,
		       author_last, author_screen, state, when_read
		FROM messages
		ORDER BY student_id, conv_nbr, msg_nbr
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	for rows.Next() {
		var (
			rec      conversation.MessageRecord
			created  string
			state    string
			whenRead sql.NullString
		)
		err := rows.Scan(
			&rec.StudentID, &rec.ConversationNumber, &rec.MessageNumber, &created,
			&rec.Author.StudentID, &rec.Author.FirstName, &rec.Author.LastName, &rec.Author.ScreenName,
			&state, &whenRead,
		)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if err := parseMessageRow(&rec, created, state, whenRead); err != nil {
			s.log.Warn().Err(err).
				Str("student_id", rec.StudentID).
				Int("conv", rec.ConversationNumber).
				Int("msg", rec.MessageNumber).
				Msg("Skipping unreadable message")
			continue
		}
		idx, ok := byConv[convKey{rec.StudentID, rec.ConversationNumber}]
		if !ok {
			continue
		}
		conv := &snapshots[idx[0]].Conversations[idx[1]]
		conv.Messages = append(conv.Messages, rec)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return snapshots, nil
}

func parseMessageRow(rec *conversation.MessageRecord, created, state string, whenRead sql.NullString) error {
	var err error
	if rec.Created, err = time.Parse(timeLayout, created); err != nil {
		return fmt.Errorf("created: %w", err)
	}
	if rec.State, err = conversation.ParseMessageState(state); err != nil {
		return err
	}
	if whenRead.Valid && whenRead.String != "" {
		t, err := time.Parse(timeLayout, whenRead.String)
		if err != nil {
			return fmt.Errorf("when_read: %w", err)
		}
		rec.WhenRead = &t
	}
	return nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}
	return nil
}

// WriteStudentList inserts or refreshes a student list row.
func (s *Store) WriteStudentList(ctx context.Context, rec conversation.ListRecord) error {
	return s.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO student_lists (student_id, first_name, last_name, screen_name)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(student_id) DO UPDATE SET
				first_name = excluded.first_name,
				last_name = excluded.last_name,
				screen_name = excluded.screen_name
		`, rec.Student.StudentID, rec.Student.FirstName, rec.Student.LastName, rec.Student.ScreenName)
		if err != nil {
			return fmt.Errorf("failed to write student list: %w", err)
		}
		return nil
	})
}

// WriteConversation inserts a new conversation row.
func (s *Store) WriteConversation(ctx context.Context, rec conversation.ConversationRecord) error {
	return s.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO conversations (student_id, conv_nbr, subject)
			VALUES (?, ?, ?)
		`, rec.StudentID, rec.Number, rec.Subject)
		if err != nil {
			return fmt.Errorf("failed to insert conversation: %w", err)
		}
		return nil
	})
}

// WriteConversationMetadata updates the subject of a conversation.
func (s *Store) WriteConversationMetadata(ctx context.Context, rec conversation.ConversationRecord) error {
	return s.executeWrite(ctx, func(db *sql.DB) error {
		err := execOne(ctx, db, `
			UPDATE conversations SET subject = ?
			WHERE student_id = ? AND conv_nbr = ?
		`, rec.Subject, rec.StudentID, rec.Number)
		if err != nil {
			return fmt.Errorf("failed to update conversation: %w", err)
		}
		return nil
	})
}

// WriteMessage inserts metadata and content in one statement.
func (s *Store) WriteMessage(ctx context.Context, rec conversation.MessageRecord) error {
	return s.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO messages (student_id, conv_nbr, msg_nbr, created, author_id,
				author_first, author_last, author_screen, state, when_read, content)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rec.StudentID, rec.ConversationNumber, rec.MessageNumber,
			rec.Created.UTC().Format(timeLayout),
			rec.Author.StudentID, rec.Author.FirstName, rec.Author.LastName, rec.Author.ScreenName,
			rec.State.Code(), formatNullable(rec.WhenRead), rec.Content,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// WriteMessageMetadata updates state and when-read of a message.
func (s *Store) WriteMessageMetadata(ctx context.Context, rec conversation.MessageRecord) error {
	return s.executeWrite(ctx, func(db *sql.DB) error {
		err := execOne(ctx, db, `
			UPDATE messages SET state = ?, when_read = ?
			WHERE student_id = ? AND conv_nbr = ? AND msg_nbr = ?
		`, rec.State.Code(), formatNullable(rec.WhenRead), rec.StudentID, rec.ConversationNumber, rec.MessageNumber)
		if err != nil {
			return fmt.Errorf("failed to update message: %w", err)
		}
		return nil
	})
}

// LoadMessageContent reads the content column of one message.
func (s *Store) LoadMessageContent(ctx context.Context, ref conversation.MessageRef) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx, `
		SELECT content FROM messages
		WHERE student_id = ? AND conv_nbr = ? AND msg_nbr = ?
	`, ref.StudentID, ref.ConversationNumber, ref.MessageNumber).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", conversation.ErrContentNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query message content: %w", err)
	}
	return content, nil
}

func formatNullable(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}
