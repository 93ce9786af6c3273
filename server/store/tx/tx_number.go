package tx

import "sync"

// txNumbers 全局事务号计数器
var txNumbers struct {
	sync.Mutex
	last int
}

// NextTxNumber returns a new transaction number, strictly greater than any
// number handed out or seeded before.
func NextTxNumber() int {
	txNumbers.Lock()
	defer txNumbers.Unlock()
	txNumbers.last++
	return txNumbers.last
}

// SeedTxNumber makes later numbers larger than n. Lower seeds are ignored so
// numbers are never reused.
func SeedTxNumber(n int) {
	txNumbers.Lock()
	defer txNumbers.Unlock()
	if n > txNumbers.last {
		txNumbers.last = n
	}
}
