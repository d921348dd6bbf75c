package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	documentBucketName = "documents"
	receiptBucketName  = "receipts"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidRecord is returned when an edit or reorder is rejected
	ErrInvalidRecord = errors.New("invalid record")
)

// DB defines the interface for database operations
type DB interface {
	// SaveDocument saves a document, assigning its Order on first save
	SaveDocument(doc *Document) error

	// GetDocument retrieves a document by ID
	GetDocument(id string) (*Document, error)

	// ListDocuments returns all documents in ascending Order
	ListDocuments() ([]*Document, error)

	// DeleteDocument removes a document from the database
	DeleteDocument(id string) error

	// ReorderDocuments lists ids first, in the given order, followed by the
	// remaining documents in their previous order
	ReorderDocuments(ids []string) error

	// SaveReceipt saves a receipt, assigning its Order on first save
	SaveReceipt(r *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts in ascending Order
	ListReceipts() ([]*Receipt, error)

	// DeleteReceipt removes a receipt from the database
	DeleteReceipt(id string) error

	// ReorderReceipts is ReorderDocuments for receipts
	ReorderReceipts(ids []string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{documentBucketName, receiptBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// put stores v under id. When order points at zero it is set from the
// bucket's sequence first, so records list in insertion order.
func (b *BoltDB) put(bucketName, id string, order *uint64, v any) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if *order == 0 {
			seq, err := bucket.NextSequence()
			if err != nil {
				return fmt.Errorf("next sequence: %w", err)
			}
			*order = seq
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}
		return bucket.Put([]byte(id), data)
	})
}

func (b *BoltDB) get(bucketName, id string, v any) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s %s: %w", bucketName, id, ErrNotFound)
		}
		return json.Unmarshal(data, v)
	})
}

func (b *BoltDB) forEach(bucketName string, fn func(data []byte) error) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(_, v []byte) error {
			return fn(v)
		})
	})
}

func (b *BoltDB) delete(bucketName, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(id))
	})
}

// orderedRecord is a stored record with only its order decoded
type orderedRecord struct {
	id     []byte
	fields map[string]json.RawMessage
	order  uint64
}

// reorder renumbers every record in the bucket from 1 in a single
// transaction. The listed ids come first; an unknown or repeated id aborts
// the whole reorder.
func (b *BoltDB) reorder(bucketName string, ids []string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))

		records := make(map[string]*orderedRecord)
		var all []*orderedRecord
		err := bucket.ForEach(func(k, v []byte) error {
			rec := &orderedRecord{id: append([]byte(nil), k...)}
			if err := json.Unmarshal(v, &rec.fields); err != nil {
				return fmt.Errorf("unmarshaling %s %s: %w", bucketName, k, err)
			}
			if raw, ok := rec.fields["order"]; ok {
				if err := json.Unmarshal(raw, &rec.order); err != nil {
					return fmt.Errorf("reading order of %s %s: %w", bucketName, k, err)
				}
			}
			records[string(k)] = rec
			all = append(all, rec)
			return nil
		})
		if err != nil {
			return err
		}

		ordered := make([]*orderedRecord, 0, len(records))
		listed := make(map[string]bool, len(ids))
		for _, id := range ids {
			if listed[id] {
				return fmt.Errorf("%s %s listed twice: %w", bucketName, id, ErrInvalidRecord)
			}
			rec, ok := records[id]
			if !ok {
				return fmt.Errorf("%s %s: %w", bucketName, id, ErrNotFound)
			}
			listed[id] = true
			ordered = append(ordered, rec)
		}
		sort.SliceStable(all, func(i, j int) bool { return all[i].order < all[j].order })
		for _, rec := range all {
			if !listed[string(rec.id)] {
				ordered = append(ordered, rec)
			}
		}

		for i, rec := range ordered {
			order := uint64(i + 1)
			if order == rec.order {
				continue
			}
			raw, err := json.Marshal(order)
			if err != nil {
				return err
			}
			rec.fields["order"] = raw
			data, err := json.Marshal(rec.fields)
			if err != nil {
				return fmt.Errorf("marshaling record: %w", err)
			}
			if err := bucket.Put(rec.id, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveDocument saves a document to the database
func (b *BoltDB) SaveDocument(doc *Document) error {
	return b.put(documentBucketName, doc.ID, &doc.Order, doc)
}

// GetDocument retrieves a document by ID
func (b *BoltDB) GetDocument(id string) (*Document, error) {
	var doc *Document
	if err := b.get(documentBucketName, id, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments returns all documents
func (b *BoltDB) ListDocuments() ([]*Document, error) {
	docs := make([]*Document, 0)
	err := b.forEach(documentBucketName, func(data []byte) error {
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("unmarshaling document: %w", err)
		}
		docs = append(docs, &doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Order < docs[j].Order })
	return docs, nil
}

// DeleteDocument removes a document from the database
func (b *BoltDB) DeleteDocument(id string) error {
	return b.delete(documentBucketName, id)
}

// ReorderDocuments renumbers the documents with ids first
func (b *BoltDB) ReorderDocuments(ids []string) error {
	return b.reorder(documentBucketName, ids)
}

// SaveReceipt saves a receipt to the database
func (b *BoltDB) SaveReceipt(r *Receipt) error {
	return b.put(receiptBucketName, r.ID, &r.Order, r)
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var r *Receipt
	if err := b.get(receiptBucketName, id, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// ListReceipts returns all receipts
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.forEach(receiptBucketName, func(data []byte) error {
		var r Receipt
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("unmarshaling receipt: %w", err)
		}
		receipts = append(receipts, &r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(receipts, func(i, j int) bool { return receipts[i].Order < receipts[j].Order })
	return receipts, nil
}

// DeleteReceipt removes a receipt from the database
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.delete(receiptBucketName, id)
}

// ReorderReceipts renumbers the receipts with ids first
func (b *BoltDB) ReorderReceipts(ids []string) error {
	return b.reorder(receiptBucketName, ids)
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
