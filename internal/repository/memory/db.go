// Package memory holds map-backed repositories sharing a single mutex. They
// follow the same contracts as the Postgres repositories and back the service
// tests and single-process deployments without a database.
package memory

import (
	"sync"

	"github.com/honeynil/ShopLedgerService/internal/models"
)

type DB struct {
	mu sync.Mutex

	users        map[int64]*models.User
	transactions []models.BalanceTransaction
	activities   map[int64]*models.RechargeActivity
	nextActivity int64
	usage        map[usageKey][]string
	recharges    map[string]*models.RechargeRecord
	orders       map[string]*models.Order
	products     map[string]*models.Product
}

type usageKey struct {
	activityID int64
	userID     int64
}

func NewDB() *DB {
	return &DB{
		users:      make(map[int64]*models.User),
		activities: make(map[int64]*models.RechargeActivity),
		usage:      make(map[usageKey][]string),
		recharges:  make(map[string]*models.RechargeRecord),
		orders:     make(map[string]*models.Order),
		products:   make(map[string]*models.Product),
	}
}

func (db *DB) Users() *UserRepository { return &UserRepository{db: db} }
func (db *DB) Transactions() *TransactionRepository { return &TransactionRepository{db: db} }
func (db *DB) Activities() *ActivityRepository { return &ActivityRepository{db: db} }
func (db *DB) Recharges() *RechargeRepository { return &RechargeRepository{db: db} }
func (db *DB) Orders() *OrderRepository { return &OrderRepository{db: db} }
func (db *DB) Products() *ProductRepository { return &ProductRepository{db: db} }
