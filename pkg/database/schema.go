package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks a migrated database against what the stores expect.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"student_lists":     "Student list metadata",
		"conversations":     "Conversation metadata",
		"messages":          "Message metadata and content",
		"login_sessions":    "Staff login sessions",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateTableStructure verifies column types of the message and session
// tables.
func (v *SchemaValidator) ValidateTableStructure() error {
	messageColumns := map[string]string{
		"student_id": "TEXT",
		"conv_nbr":   "INTEGER",
		"msg_nbr":    "INTEGER",
		"created":    "TEXT",
		"author_id":  "TEXT",
		"state":      "TEXT",
		"when_read":  "TEXT",
		"content":    "TEXT",
	}
	if err := v.validateColumns("messages", messageColumns); err != nil {
		return fmt.Errorf("messages table structure invalid: %w", err)
	}

	sessionColumns := map[string]string{
		"token":      "TEXT",
		"user_id":    "TEXT",
		"role":       "TEXT",
		"created_at": "DATETIME",
		"expires_at": "DATETIME",
		"status":     "TEXT",
	}
	if err := v.validateColumns("login_sessions", sessionColumns); err != nil {
		return fmt.Errorf("login_sessions table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies that all lookup indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_messages_conversation": "Conversation message listing",
		"idx_messages_state":        "Unread counts",
		"idx_login_sessions_status": "Active session warm-up",
		"idx_login_sessions_user":   "Sessions per user",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

// ValidateConstraints verifies that the state check and the message to
// conversation foreign key are enforced.
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`
		INSERT INTO messages (student_id, conv_nbr, msg_nbr, created, author_id, state)
		VALUES ('__check', 1, 1, '', 'x', 'u')
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM messages WHERE student_id = '__check'")
		return fmt.Errorf("foreign key constraint not enforced: messages -> conversations")
	}

	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT INTO student_lists (student_id) VALUES ('__check')`); err != nil {
		return fmt.Errorf("failed to create check student: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO conversations (student_id, conv_nbr, subject) VALUES ('__check', 1, 's')`); err != nil {
		return fmt.Errorf("failed to create check conversation: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO messages (student_id, conv_nbr, msg_nbr, created, author_id, state)
		VALUES ('__check', 1, 1, '', 'x', 'Z')
	`)
	if err == nil {
		return fmt.Errorf("check constraint not enforced: message state")
	}
	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name, typ    string
			notNull, pk  int
			defaultValue interface{}
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = typ
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for col, want := range expectedColumns {
		got, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s not found", col)
		}
		if got != want {
			return fmt.Errorf("column %s has type %s, expected %s", col, got, want)
		}
	}
	return nil
}
