package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// helper to open a bolt store in a temp dir
func openBolt(t *testing.T) Store {
	t.Helper()
	s, err := OpenBolt(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("bolt open: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func openMongo(t *testing.T) Store {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db := fmt.Sprintf("phantom_bot_test_%d", time.Now().UnixNano())
	s, err := OpenMongo(ctx, uri, db)
	if err != nil {
		t.Fatalf("mongo open: %v", err)
	}
	t.Cleanup(func() {
		s.client.Database(db).Drop(context.Background())
		s.Close(context.Background())
	})
	return s
}

func backends() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"bolt":   openBolt,
		"mongo":  openMongo,
	}
}

func TestStoreContract(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("find missing", func(t *testing.T) {
				s := open(t)
				if _, err := s.FindByChatID(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
					t.Fatalf("err = %v, want ErrNotFound", err)
				}
			})

			t.Run("upsert creates then overwrites", func(t *testing.T) {
				s := open(t)
				u, err := s.UpsertByChatID(ctx, "42", LinkWallet("Addr9"))
				if err != nil {
					t.Fatalf("upsert: %v", err)
				}
				if u.ChatUserID != "42" || u.Wallet() != "Addr9" {
					t.Fatalf("user = %+v", u)
				}
				if _, err := s.UpsertByChatID(ctx, "42", LinkWallet("Addr10")); err != nil {
					t.Fatalf("relink: %v", err)
				}
				all, err := s.ListAll(ctx)
				if err != nil {
					t.Fatalf("list: %v", err)
				}
				if len(all) != 1 || all[0].Wallet() != "Addr10" {
					t.Fatalf("records = %+v", all)
				}
			})

			t.Run("disconnect keeps record", func(t *testing.T) {
				s := open(t)
				if _, err := s.UpsertByChatID(ctx, "7", LinkWallet("Addr1")); err != nil {
					t.Fatal(err)
				}
				if _, err := s.UpsertByChatID(ctx, "7", Rename("main")); err != nil {
					t.Fatal(err)
				}
				u, err := s.UpsertByChatID(ctx, "7", Disconnect())
				if err != nil {
					t.Fatalf("disconnect: %v", err)
				}
				if u.HasWallet() {
					t.Fatalf("wallet still set: %v", *u.WalletAddress)
				}
				got, err := s.FindByChatID(ctx, "7")
				if err != nil {
					t.Fatalf("find after disconnect: %v", err)
				}
				if got.WalletAddress != nil || got.WalletName != "main" {
					t.Fatalf("user = %+v", got)
				}
			})

			t.Run("empty fields create bare record", func(t *testing.T) {
				s := open(t)
				u, err := s.UpsertByChatID(ctx, "5", Fields{})
				if err != nil {
					t.Fatal(err)
				}
				if u.HasWallet() || u.CreatedAt.IsZero() {
					t.Fatalf("user = %+v", u)
				}
			})

			t.Run("transaction cache", func(t *testing.T) {
				s := open(t)
				if _, err := s.UpsertByChatID(ctx, "9", CacheTransactions([]string{"s1", "s2"})); err != nil {
					t.Fatal(err)
				}
				u, err := s.FindByChatID(ctx, "9")
				if err != nil {
					t.Fatal(err)
				}
				if len(u.Transactions) != 2 || u.Transactions[0] != "s1" {
					t.Fatalf("transactions = %v", u.Transactions)
				}
			})

			t.Run("generated wallet is never replaced", func(t *testing.T) {
				s := open(t)
				u, err := s.UpsertByChatID(ctx, "g", AdoptGenerated("Addr1", "Sealed1"))
				if err != nil {
					t.Fatalf("adopt: %v", err)
				}
				if u.Wallet() != "Addr1" || u.EncryptedSecret != "Sealed1" {
					t.Fatalf("user = %+v", u)
				}
				if _, err := s.UpsertByChatID(ctx, "g", Disconnect()); err != nil {
					t.Fatal(err)
				}
				u, err = s.UpsertByChatID(ctx, "g", AdoptGenerated("Addr2", "Sealed2"))
				if err != nil {
					t.Fatalf("second adopt: %v", err)
				}
				if u.EncryptedSecret != "Sealed1" || u.HasWallet() {
					t.Fatalf("first secret replaced: %+v", u)
				}
			})

			t.Run("generated wallet fills a bare record", func(t *testing.T) {
				s := open(t)
				if _, err := s.UpsertByChatID(ctx, "b", Rename("main")); err != nil {
					t.Fatal(err)
				}
				u, err := s.UpsertByChatID(ctx, "b", AdoptGenerated("Addr1", "Sealed1"))
				if err != nil {
					t.Fatal(err)
				}
				if u.Wallet() != "Addr1" || u.EncryptedSecret != "Sealed1" || u.WalletName != "main" {
					t.Fatalf("user = %+v", u)
				}
			})

			t.Run("concurrent generated wallets keep one secret", func(t *testing.T) {
				s := open(t)
				results := make([]*User, 16)
				var wg sync.WaitGroup
				for i := range results {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						u, err := s.UpsertByChatID(ctx, "gr", AdoptGenerated(fmt.Sprintf("Addr%d", i), fmt.Sprintf("Sealed%d", i)))
						if err != nil {
							t.Errorf("adopt %d: %v", i, err)
							return
						}
						results[i] = u
					}(i)
				}
				wg.Wait()
				final, err := s.FindByChatID(ctx, "gr")
				if err != nil {
					t.Fatal(err)
				}
				if "Sealed"+strings.TrimPrefix(final.Wallet(), "Addr") != final.EncryptedSecret {
					t.Fatalf("address and secret disagree: %+v", final)
				}
				for i, u := range results {
					if u != nil && u.EncryptedSecret != final.EncryptedSecret {
						t.Fatalf("caller %d saw secret %q, stored %q", i, u.EncryptedSecret, final.EncryptedSecret)
					}
				}
			})

			t.Run("concurrent upserts keep one record", func(t *testing.T) {
				s := open(t)
				var wg sync.WaitGroup
				for i := 0; i < 16; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						if _, err := s.UpsertByChatID(ctx, "race", LinkWallet(fmt.Sprintf("Addr%d", i))); err != nil {
							t.Errorf("upsert %d: %v", i, err)
						}
					}(i)
				}
				wg.Wait()
				all, err := s.ListAll(ctx)
				if err != nil {
					t.Fatal(err)
				}
				if len(all) != 1 {
					t.Fatalf("expected one record, got %d", len(all))
				}
			})
		})
	}
}

func TestBoltPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.db")
	s, err := OpenBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertByChatID(context.Background(), "1", LinkWallet("A")); err != nil {
		t.Fatal(err)
	}
	s.Close(context.Background())

	s, err = OpenBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close(context.Background())
	u, err := s.FindByChatID(context.Background(), "1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if u.Wallet() != "A" {
		t.Fatalf("wallet = %q", u.Wallet())
	}
}

func TestUpdateDocument(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("link", func(t *testing.T) {
		doc := updateDocument(LinkWallet("Addr"), now)
		set := doc["$set"].(bson.M)
		onInsert := doc["$setOnInsert"].(bson.M)
		if set["walletAddress"] != "Addr" {
			t.Fatalf("$set = %v", set)
		}
		if _, ok := onInsert["walletAddress"]; ok {
			t.Fatal("walletAddress in both $set and $setOnInsert")
		}
		if onInsert["createdAt"] != now || set["updatedAt"] != now {
			t.Fatalf("timestamps: %v %v", set, onInsert)
		}
	})

	t.Run("disconnect", func(t *testing.T) {
		set := updateDocument(Disconnect(), now)["$set"].(bson.M)
		v, ok := set["walletAddress"]
		if !ok || v != nil {
			t.Fatalf("walletAddress = %v (present %v)", v, ok)
		}
	})

	t.Run("rename leaves wallet alone", func(t *testing.T) {
		doc := updateDocument(Rename("main"), now)
		set := doc["$set"].(bson.M)
		if _, ok := set["walletAddress"]; ok {
			t.Fatal("rename touched walletAddress")
		}
		if set["walletName"] != "main" {
			t.Fatalf("$set = %v", set)
		}
		if v, ok := doc["$setOnInsert"].(bson.M)["walletAddress"]; !ok || v != nil {
			t.Fatal("new records should start with a null wallet")
		}
	})

	t.Run("generated wallet", func(t *testing.T) {
		doc := updateDocument(AdoptGenerated("Addr", "Sealed"), now)
		set := doc["$set"].(bson.M)
		if set["walletAddress"] != "Addr" || set["encryptedSecret"] != "Sealed" {
			t.Fatalf("$set = %v", set)
		}
		if _, ok := doc["$setOnInsert"].(bson.M)["walletAddress"]; ok {
			t.Fatal("walletAddress in both $set and $setOnInsert")
		}
	})
}
