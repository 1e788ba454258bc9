package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"
)

const bucketUsers = "users" // key: chat user id, value: JSON User

// Bolt keeps user records in a local bolt file.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens the database file and creates buckets if needed.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketUsers))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

// FindByChatID implements Store.
func (s *Bolt) FindByChatID(_ context.Context, chatUserID string) (*User, error) {
	var u *User
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketUsers)).Get([]byte(chatUserID))
		if v == nil {
			return ErrNotFound
		}
		u = &User{}
		return json.Unmarshal(v, u)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// UpsertByChatID implements Store. Bolt serializes writers, so the
// read-modify-write below is atomic per record.
func (s *Bolt) UpsertByChatID(_ context.Context, chatUserID string, fields Fields) (*User, error) {
	if chatUserID == "" {
		return nil, errors.New("empty chat user id")
	}
	var out User
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketUsers))
		u := User{ChatUserID: chatUserID}
		if v := b.Get([]byte(chatUserID)); v != nil {
			if err := json.Unmarshal(v, &u); err != nil {
				return fmt.Errorf("decode user %s: %w", chatUserID, err)
			}
		}
		fields.apply(&u, nowFunc().UTC())
		data, err := json.Marshal(u)
		if err != nil {
			return err
		}
		out = u
		return b.Put([]byte(chatUserID), data)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAll implements Store. Records are ordered by creation time.
func (s *Bolt) ListAll(_ context.Context) ([]User, error) {
	var users []User
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketUsers)).ForEach(func(_, v []byte) error {
			var u User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			users = append(users, u)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortUsers(users)
	return users, nil
}

// Close implements Store.
func (s *Bolt) Close(context.Context) error {
	return s.db.Close()
}

func sortUsers(users []User) {
	sort.SliceStable(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ChatUserID < users[j].ChatUserID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
}
