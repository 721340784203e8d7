package sqldb

import (
	"errors"
	"os"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/cpacia/xmr-escrow/database"
)

type record struct {
	ID    string `gorm:"primaryKey"`
	Value int
}

func newTestDB(t *testing.T) *DB {
	db, err := NewMemoryDB()
	if err != nil {
		t.Fatal(err)
	}
	err = db.Update(func(tx database.Tx) error {
		return tx.Migrate(&record{})
	})
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func TestDB_UpdateAndView(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	err := db.Update(func(tx database.Tx) error {
		return tx.Save(&record{ID: "abc", Value: 1})
	})
	if err != nil {
		t.Fatal(err)
	}

	var records []record
	err = db.View(func(tx database.Tx) error {
		return tx.Read().Find(&records).Error
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("Db update failed. Expected %d records got %d", 1, len(records))
	}

	err = db.Update(func(tx database.Tx) error {
		if err := tx.Save(&record{ID: "def"}); err != nil {
			t.Fatal(err)
		}
		return errors.New("atomic update failure")
	})
	if err == nil {
		t.Error("Update function did not return error")
	}

	records = nil
	err = db.View(func(tx database.Tx) error {
		return tx.Read().Find(&records).Error
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Error("Db update failed to roll back.")
	}
}

func TestDB_ReadOnly(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	err := db.View(func(tx database.Tx) error {
		return tx.Save(&record{ID: "abc"})
	})
	if err != ErrReadOnly {
		t.Errorf("Expected ErrReadOnly got %v", err)
	}
	err = db.View(func(tx database.Tx) error {
		var r record
		return tx.Lock(&r, "id = ?", "abc")
	})
	if err != ErrReadOnly {
		t.Errorf("Expected ErrReadOnly got %v", err)
	}
}

func TestDB_LockAndCreate(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	err := db.Update(func(tx database.Tx) error {
		return tx.Create(&record{ID: "abc", Value: 1})
	})
	if err != nil {
		t.Fatal(err)
	}

	err = db.Update(func(tx database.Tx) error {
		return tx.Create(&record{ID: "abc", Value: 2})
	})
	if err == nil {
		t.Error("Expected duplicate create to fail")
	}

	err = db.Update(func(tx database.Tx) error {
		var r record
		if err := tx.Lock(&r, "id = ?", "abc"); err != nil {
			return err
		}
		if r.Value != 1 {
			t.Errorf("Expected value 1 got %d", r.Value)
		}
		return tx.Update("value", 5, map[string]interface{}{"id = ?": "abc"}, &record{})
	})
	if err != nil {
		t.Fatal(err)
	}

	err = db.Update(func(tx database.Tx) error {
		var r record
		return tx.Lock(&r, "id = ?", "missing")
	})
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("Expected record not found got %v", err)
	}

	var r record
	err = db.View(func(tx database.Tx) error {
		return tx.Read().Where("id = ?", "abc").First(&r).Error
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Value != 5 {
		t.Errorf("Expected value 5 got %d", r.Value)
	}

	err = db.Update(func(tx database.Tx) error {
		return tx.Delete("id", "abc", nil, &record{})
	})
	if err != nil {
		t.Fatal(err)
	}
	err = db.View(func(tx database.Tx) error {
		return tx.Read().Where("id = ?", "abc").First(&r).Error
	})
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("Expected record to be deleted got %v", err)
	}
}

func TestDB_CommitHooks(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	var fired int
	err := db.Update(func(tx database.Tx) error {
		tx.RegisterCommitHook(func() { fired++ })
		return tx.Save(&record{ID: "abc"})
	})
	if err != nil {
		t.Fatal(err)
	}
	db.Update(func(tx database.Tx) error {
		tx.RegisterCommitHook(func() { fired++ })
		return errors.New("rolled back")
	})
	if fired != 1 {
		t.Errorf("Expected hook to fire once got %d", fired)
	}
}

func TestDB_CommitHooksRunUnlocked(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	done := make(chan error, 1)
	go func() {
		done <- db.Update(func(tx database.Tx) error {
			tx.RegisterCommitHook(func() {
				var r record
				err := db.View(func(tx database.Tx) error {
					return tx.Read().Where("id = ?", "abc").First(&r).Error
				})
				if err != nil {
					t.Error(err)
				}
				err = db.Update(func(tx database.Tx) error {
					return tx.Save(&record{ID: "def", Value: r.Value + 1})
				})
				if err != nil {
					t.Error(err)
				}
			})
			return tx.Save(&record{ID: "abc", Value: 1})
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second * 5):
		t.Fatal("Commit hook blocked on the database lock")
	}

	var r record
	err := db.View(func(tx database.Tx) error {
		return tx.Read().Where("id = ?", "def").First(&r).Error
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Value != 2 {
		t.Errorf("Expected value 2 got %d", r.Value)
	}
}

func TestOpen_Sqlite(t *testing.T) {
	dir, err := os.MkdirTemp("", "escrow-sqldb")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	db, err := Open(DialectSqlite, dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	err = db.Update(func(tx database.Tx) error {
		if err := tx.Migrate(&record{}); err != nil {
			return err
		}
		return tx.Save(&record{ID: "abc"})
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestOpen_UnknownDialect(t *testing.T) {
	if _, err := Open("mysql", ""); err == nil {
		t.Error("Expected error")
	}
}
