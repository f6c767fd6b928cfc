package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/messaging/store"
	"github.com/rbaliyan/messaging/unread"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// AppendMessage inserts a message and updates its thread in one transaction.
func (s *Store) AppendMessage(ctx context.Context, data store.MessageData) (*store.AppendResult, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if data.ThreadID == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var result *store.AppendResult
	err := s.withThreadLock(ctx, data.ThreadID, func(ctx context.Context, doc *threadDoc) error {
		result = nil
		current, err := doc.toThread()
		if err != nil {
			return err
		}
		if !current.HasParticipant(data.SenderID) || !current.HasParticipant(data.ReceiverID) {
			return store.ErrNotParticipant
		}

		if data.IdempotencyKey != "" {
			existing, err := s.messageByKey(ctx, data.SenderID, data.IdempotencyKey)
			switch {
			case err == nil:
				result = &store.AppendResult{Message: existing, Thread: current, Created: false}
				return nil
			case !store.IsNotFound(err):
				return err
			}
		}

		prev := current.UpdatedAt
		if current.LastMessage != nil && current.LastMessage.CreatedAt.After(prev) {
			prev = current.LastMessage.CreatedAt
		}
		msgType := data.Type
		if msgType == "" {
			msgType = store.MessageTypeGeneral
		}
		m := &store.Message{
			ID:             uuid.New().String(),
			ThreadID:       data.ThreadID,
			SenderID:       data.SenderID,
			SenderName:     data.SenderName,
			ReceiverID:     data.ReceiverID,
			ReceiverName:   data.ReceiverName,
			Subject:        data.Subject,
			Body:           data.Body,
			Type:           msgType,
			ReplyToID:      data.ReplyToID,
			Attachments:    data.Attachments,
			IdempotencyKey: data.IdempotencyKey,
			CreatedAt:      store.NextTimestamp(time.Now(), prev, resolution),
		}

		marked, err := s.messages.UpdateMany(ctx,
			bson.M{"thread_id": m.ThreadID, "receiver_id": m.SenderID, "is_read": false},
			bson.M{"$set": bson.M{"is_read": true, "read_at": m.CreatedAt.UTC()}},
		)
		if err != nil {
			return fmt.Errorf("mark sender read: %w", err)
		}

		if _, err := s.messages.InsertOne(ctx, newMessageDoc(m)); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return store.ErrDuplicateEntry
			}
			return fmt.Errorf("insert message: %w", err)
		}

		next := current.ApplyMessage(m)
		if err := s.saveThread(ctx, next); err != nil {
			return err
		}
		result = &store.AppendResult{Message: m, Thread: next, Created: true, SenderMarked: marked.ModifiedCount}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkThreadRead flips the reader's unread messages and resets their count.
func (s *Store) MarkThreadRead(ctx context.Context, threadID, readerID string) (*store.ReadResult, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if threadID == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var result *store.ReadResult
	err := s.withThreadLock(ctx, threadID, func(ctx context.Context, doc *threadDoc) error {
		result = nil
		current, err := doc.toThread()
		if err != nil {
			return err
		}
		if !current.HasParticipant(readerID) {
			return store.ErrNotParticipant
		}

		res, err := s.messages.UpdateMany(ctx,
			bson.M{"thread_id": threadID, "receiver_id": readerID, "is_read": false},
			bson.M{"$set": bson.M{"is_read": true, "read_at": time.Now().UTC()}},
		)
		if err != nil {
			return fmt.Errorf("mark read: %w", err)
		}

		next := current.Clone()
		next.Unread = unread.OnRead(current.Unread, readerID)
		if res.ModifiedCount > 0 || !unread.Equal(next.Unread, current.Unread) {
			if err := s.saveThread(ctx, next); err != nil {
				return err
			}
		}
		result = &store.ReadResult{Marked: res.ModifiedCount, Thread: next}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteThread removes the thread and its messages in one transaction.
func (s *Store) DeleteThread(ctx context.Context, threadID, requesterID string) (*store.DeleteResult, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if threadID == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var result *store.DeleteResult
	err := s.withThreadLock(ctx, threadID, func(ctx context.Context, doc *threadDoc) error {
		result = nil
		current := doc.toThreadUnchecked()
		if !current.HasParticipant(requesterID) {
			return store.ErrNotParticipant
		}

		res, err := s.messages.DeleteMany(ctx, bson.M{"thread_id": threadID})
		if err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if _, err := s.threads.DeleteOne(ctx, bson.M{"_id": threadID}); err != nil {
			return fmt.Errorf("delete thread: %w", err)
		}
		result = &store.DeleteResult{Thread: current, Messages: res.DeletedCount}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReconcileThread recomputes the derived thread fields from its messages.
func (s *Store) ReconcileThread(ctx context.Context, threadID string) (*store.Thread, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if threadID == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var result *store.Thread
	err := s.withThreadLock(ctx, threadID, func(ctx context.Context, doc *threadDoc) error {
		result = nil
		next := doc.toThreadUnchecked()

		cursor, err := s.messages.Find(ctx, bson.M{"thread_id": threadID},
			mongoopts.Find().SetProjection(bson.M{"receiver_id": 1, "is_read": 1}))
		if err != nil {
			return fmt.Errorf("load messages: %w", err)
		}
		var entries []struct {
			ReceiverID string `bson:"receiver_id"`
			IsRead     bool   `bson:"is_read"`
		}
		if err := cursor.All(ctx, &entries); err != nil {
			return fmt.Errorf("decode messages: %w", err)
		}
		tally := make([]unread.Entry, len(entries))
		for i, e := range entries {
			tally[i] = unread.Entry{ReceiverID: e.ReceiverID, Read: e.IsRead}
		}
		next.Unread = unread.Tally(next.Participants, tally)
		next.MessageCount = int64(len(entries))

		next.LastMessage = nil
		var last messageDoc
		err = s.messages.FindOne(ctx, bson.M{"thread_id": threadID},
			mongoopts.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}),
		).Decode(&last)
		switch {
		case err == nil:
			next.LastMessage = last.toMessage().Snapshot()
		case !errors.Is(err, mongo.ErrNoDocuments):
			return fmt.Errorf("load last message: %w", err)
		}

		if err := next.Validate(); err != nil {
			return err
		}
		if err := s.saveThread(ctx, next); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
