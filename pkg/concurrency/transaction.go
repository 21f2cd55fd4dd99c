// Package concurrency provides the transaction token threaded through
// storage operations. The storage core never interprets it; it exists
// so the lock manager and recovery driver above can attribute page
// accesses to their owning transaction.
package concurrency

import (
	"fmt"
	"sync/atomic"
	"time"
)

// TransactionID uniquely identifies a transaction for its lifetime.
type TransactionID uint64

var nextTransactionID atomic.Uint64

// Transaction is an opaque token. Storage operations accept it and pass
// it through unchanged; a nil *Transaction is always permitted.
type Transaction struct {
	id      TransactionID
	started time.Time
}

// NewTransaction allocates a token with a fresh process-unique ID.
func NewTransaction() *Transaction {
	return &Transaction{
		id:      TransactionID(nextTransactionID.Add(1)),
		started: time.Now(),
	}
}

// ID returns the transaction's identifier.
func (t *Transaction) ID() TransactionID {
	return t.id
}

// Started returns the creation time of the token.
func (t *Transaction) Started() time.Time {
	return t.started
}

func (t *Transaction) String() string {
	return fmt.Sprintf("txn-%d", t.id)
}
