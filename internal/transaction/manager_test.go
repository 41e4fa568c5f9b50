package transaction

import (
	"testing"
	"time"

	"github.com/motedb/motedb/internal/txnpool"
	"github.com/motedb/motedb/internal/wal"
)

func TestTransactionBeginCommit(t *testing.T) {
	tmpdir := t.TempDir()
	sm := txnpool.NewManager()
	walWriter, err := wal.NewWAL(tmpdir)
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}
	defer walWriter.Close()

	tm := NewTransactionManager(sm, walWriter)
	defer tm.Close()

	txn, err := tm.Begin(txnpool.ReadCommitted)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}

	if txn.ID == 0 {
		t.Error("Transaction ID should be non-zero")
	}
	if txn.Status != StatusActive {
		t.Error("New transaction should be active")
	}

	err = tm.Write(txn, "key1", []byte("value1"))
	if err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	err = tm.Write(txn, "key2", []byte("value2"))
	if err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	if len(txn.WriteSet) != 2 {
		t.Errorf("Expected 2 writes, got %d", len(txn.WriteSet))
	}

	err = tm.Commit(txn)
	if err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	if txn.Status != StatusCommitted {
		t.Error("Transaction should be committed")
	}

	count := tm.GetActiveTransactionCount()
	if count != 0 {
		t.Errorf("Expected 0 active transactions, got %d", count)
	}
}

func TestTransactionRollback(t *testing.T) {
	tmpdir := t.TempDir()
	sm := txnpool.NewManager()
	walWriter, err := wal.NewWAL(tmpdir)
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}
	defer walWriter.Close()

	tm := NewTransactionManager(sm, walWriter)
	defer tm.Close()

	txn, err := tm.Begin(txnpool.ReadCommitted)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}

	err = tm.Write(txn, "key1", []byte("value1"))
	if err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	err = tm.Rollback(txn)
	if err != nil {
		t.Fatalf("Failed to rollback: %v", err)
	}

	if txn.Status != StatusAborted {
		t.Error("Transaction should be aborted")
	}
}

func TestConcurrentTransactions(t *testing.T) {
	tmpdir := t.TempDir()
	sm := txnpool.NewManager()
	walWriter, err := wal.NewWAL(tmpdir)
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}
	defer walWriter.Close()

	tm := NewTransactionManager(sm, walWriter)
	defer tm.Close()

	numTxns := 10
	done := make(chan bool, numTxns)
	errors := make(chan error, numTxns)

	for i := 0; i < numTxns; i++ {
		go func(id int) {
			txn, err := tm.Begin(txnpool.ReadCommitted)
			if err != nil {
				errors <- err
				done <- false
				return
			}

			key := string(rune('a' + id))
			value := []byte("value")
			err = tm.Write(txn, key, value)
			if err != nil {
				errors <- err
				done <- false
				return
			}

			time.Sleep(time.Millisecond * 10)

			err = tm.Commit(txn)
			if err != nil {
				errors <- err
				done <- false
				return
			}

			done <- true
		}(i)
	}

	successCount := 0
	for i := 0; i < numTxns; i++ {
		select {
		case success := <-done:
			if success {
				successCount++
			}
		case err := <-errors:
			t.Errorf("Transaction error: %v", err)
		case <-time.After(time.Second * 5):
			t.Fatal("Timeout waiting for transactions")
		}
	}

	if successCount != numTxns {
		t.Errorf("Expected %d successful transactions, got %d", numTxns, successCount)
	}

	count := tm.GetActiveTransactionCount()
	if count != 0 {
		t.Errorf("Expected 0 active transactions, got %d", count)
	}
}

func TestIsolationLevels(t *testing.T) {
	tmpdir := t.TempDir()
	sm := txnpool.NewManager()
	walWriter, err := wal.NewWAL(tmpdir)
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}
	defer walWriter.Close()

	tm := NewTransactionManager(sm, walWriter)
	defer tm.Close()

	levels := []txnpool.IsolationLevel{
		txnpool.ReadUncommitted,
		txnpool.ReadCommitted,
		txnpool.RepeatableRead,
		txnpool.Serializable,
	}

	for _, level := range levels {
		txn, err := tm.Begin(level)
		if err != nil {
			t.Errorf("Failed to begin transaction with level %d: %v", level, err)
			continue
		}

		if txn.IsolationLevel != level {
			t.Errorf("Expected isolation level %d, got %d", level, txn.IsolationLevel)
		}

		tm.Rollback(txn)
	}
}

func TestReadOwnWrites(t *testing.T) {
	tmpdir := t.TempDir()
	sm := txnpool.NewManager()
	walWriter, err := wal.NewWAL(tmpdir)
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}
	defer walWriter.Close()

	tm := NewTransactionManager(sm, walWriter)
	defer tm.Close()

	txn, err := tm.Begin(txnpool.ReadCommitted)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}

	key := "test_key"
	value := []byte("test_value")
	err = tm.Write(txn, key, value)
	if err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	readValue, err := tm.Read(txn, key)
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}

	if string(readValue) != string(value) {
		t.Errorf("Expected to read %s, got %s", value, readValue)
	}

	tm.Rollback(txn)
}

func BenchmarkTransactionCommit(b *testing.B) {
	tmpdir := b.TempDir()
	sm := txnpool.NewManager()
	walWriter, _ := wal.NewWAL(tmpdir)
	defer walWriter.Close()

	tm := NewTransactionManager(sm, walWriter)
	defer tm.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		txn, _ := tm.Begin(txnpool.ReadCommitted)
		tm.Write(txn, "key", []byte("value"))
		tm.Commit(txn)
	}
}
