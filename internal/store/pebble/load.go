package pebble

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/pebble"

	"helpconv/internal/conversation"
)

// Load scans the l/, c/ and m/ ranges in key order. Records that cannot be
// decoded, or whose parent is missing, are logged and skipped.
func (s *Store) Load(ctx context.Context) ([]conversation.ListSnapshot, error) {
	var lists []conversation.ListSnapshot
	listIdx := make(map[string]int)

	err := s.scan("l/", func(key string, value []byte) {
		sid := strings.TrimPrefix(key, "l/")
		var v listValue
		if err := json.Unmarshal(value, &v); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Skipping undecodable student list")
			return
		}
		listIdx[sid] = len(lists)
		lists = append(lists, conversation.ListSnapshot{Student: v.key(sid)})
	})
	if err != nil {
		return nil, err
	}

	type convPos struct{ list, conv int }
	convIdx := make(map[string]convPos)

	err = s.scan("c/", func(key string, value []byte) {
		parts := strings.Split(strings.TrimPrefix(key, "c/"), "/")
		if len(parts) != 2 {
			s.log.Warn().Str("key", key).Msg("Skipping malformed conversation key")
			return
		}
		li, ok := listIdx[parts[0]]
		n, err := strconv.Atoi(parts[1])
		if !ok || err != nil || n <= 0 {
			s.log.Warn().Str("key", key).Msg("Skipping orphan conversation")
			return
		}
		var v convValue
		if err := json.Unmarshal(value, &v); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Skipping undecodable conversation")
			return
		}
		list := &lists[li]
		convIdx[parts[0]+"/"+parts[1]] = convPos{li, len(list.Conversations)}
		list.Conversations = append(list.Conversations, conversation.ConversationSnapshot{
			ConversationRecord: conversation.ConversationRecord{StudentID: parts[0], Number: n, Subject: v.Subject},
		})
	})
	if err != nil {
		return nil, err
	}

	err = s.scan("m/", func(key string, value []byte) {
		if !strings.HasSuffix(key, "/meta") {
			return
		}
		parts := strings.Split(strings.TrimPrefix(key, "m/"), "/")
		if len(parts) != 4 {
			s.log.Warn().Str("key", key).Msg("Skipping malformed message key")
			return
		}
		pos, ok := convIdx[parts[0]+"/"+parts[1]]
		if !ok {
			s.log.Warn().Str("key", key).Msg("Skipping orphan message")
			return
		}
		convNbr, _ := strconv.Atoi(parts[1])
		msgNbr, err := strconv.Atoi(parts[2])
		if err != nil || msgNbr <= 0 {
			s.log.Warn().Str("key", key).Msg("Skipping malformed message key")
			return
		}
		var v messageValue
		if err := json.Unmarshal(value, &v); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Skipping undecodable message")
			return
		}
		rec, err := v.record(conversation.MessageRef{StudentID: parts[0], ConversationNumber: convNbr, MessageNumber: msgNbr})
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Skipping invalid message")
			return
		}
		conv := &lists[pos.list].Conversations[pos.conv]
		conv.Messages = append(conv.Messages, rec)
	})
	if err != nil {
		return nil, err
	}
	return lists, nil
}

// scan visits every key starting with prefix in order.
func (s *Store) scan(prefix string, fn func(key string, value []byte)) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer func() { _ = iter.Close() }()
	for iter.First(); iter.Valid(); iter.Next() {
		fn(string(iter.Key()), iter.Value())
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("failed to scan %s: %w", prefix, err)
	}
	return nil
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix string) []byte {
	end := []byte(prefix)
	end[len(end)-1]++
	return end
}
