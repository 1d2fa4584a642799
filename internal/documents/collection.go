// Package documents stores entities as JSON bodies in per-collection SQLite tables.
package documents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound indicates that no document is stored under the identifier.
	ErrNotFound = errors.New("documents: not found")
	// ErrDuplicate indicates that a document with the identifier already exists.
	ErrDuplicate = errors.New("documents: duplicate id")
	// ErrMissingID indicates that a document has an empty identifier.
	ErrMissingID = errors.New("documents: document id required")
)

const (
	columnID        = "id"
	columnBody      = "body"
	columnUpdatedAt = "updated_at_s"
	queryID         = columnID + " = ?"
	orderIDAsc      = columnID + " ASC"
)

// Document is implemented by every stored entity.
type Document interface {
	DocumentID() string
}

// Record is the row layout shared by every collection table.
type Record struct {
	ID               string         `gorm:"column:id;primaryKey;size:190;not null"`
	Body             datatypes.JSON `gorm:"column:body;not null"`
	UpdatedAtSeconds int64          `gorm:"column:updated_at_s;not null"`
}

// Filter matches documents whose body holds the value at each dotted JSON path, e.g. "movie.id".
type Filter map[string]any

// Migrate creates the table of each named collection.
func Migrate(db *gorm.DB, tables ...string) error {
	for _, table := range tables {
		if err := db.Table(table).AutoMigrate(&Record{}); err != nil {
			return fmt.Errorf("documents: migrate %s: %w", table, err)
		}
	}
	return nil
}

// Collection is a typed view over one collection table.
type Collection[T Document] struct {
	db    *gorm.DB
	table string
	now   func() time.Time
}

// NewCollection builds a Collection over table.
func NewCollection[T Document](db *gorm.DB, table string, clock func() time.Time) (*Collection[T], error) {
	if db == nil {
		return nil, fmt.Errorf("documents: database connection required")
	}
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("documents: table name required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &Collection[T]{db: db, table: table, now: clock}, nil
}

// FindByID loads the document stored under id.
func (c *Collection[T]) FindByID(ctx context.Context, id string) (T, error) {
	var zero T
	var record Record
	err := c.query(ctx).Where(queryID, id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return zero, fmt.Errorf("%w: %s/%s", ErrNotFound, c.table, id)
	}
	if err != nil {
		return zero, err
	}
	return decode[T](record)
}

// Exists reports whether a document is stored under id.
func (c *Collection[T]) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := c.query(ctx).Where(queryID, id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Insert stores a new document and fails with ErrDuplicate when the identifier is taken.
func (c *Collection[T]) Insert(ctx context.Context, document T) error {
	record, err := c.encode(document)
	if err != nil {
		return err
	}
	result := c.query(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrDuplicate, c.table, record.ID)
	}
	return nil
}

// Save writes the whole document, creating it when absent.
func (c *Collection[T]) Save(ctx context.Context, document T) error {
	record, err := c.encode(document)
	if err != nil {
		return err
	}
	return c.query(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: columnID}},
		DoUpdates: clause.AssignmentColumns([]string{columnBody, columnUpdatedAt}),
	}).Create(&record).Error
}

// DeleteByID removes the document stored under id.
func (c *Collection[T]) DeleteByID(ctx context.Context, id string) error {
	result := c.query(ctx).Where(queryID, id).Delete(&Record{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, c.table, id)
	}
	return nil
}

// FindAll returns the documents matching every filter entry, ordered by identifier.
// An empty filter returns the whole collection.
func (c *Collection[T]) FindAll(ctx context.Context, filter Filter) ([]T, error) {
	query := c.query(ctx)
	paths := make([]string, 0, len(filter))
	for path := range filter {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		query = query.Where(datatypes.JSONQuery(columnBody).Equals(filter[path], strings.Split(path, ".")...))
	}

	var records []Record
	if err := query.Order(orderIDAsc).Find(&records).Error; err != nil {
		return nil, err
	}

	documents := make([]T, 0, len(records))
	for _, record := range records {
		document, err := decode[T](record)
		if err != nil {
			return nil, err
		}
		documents = append(documents, document)
	}
	return documents, nil
}

func (c *Collection[T]) query(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx).Table(c.table)
}

func (c *Collection[T]) encode(document T) (Record, error) {
	id := strings.TrimSpace(document.DocumentID())
	if id == "" {
		return Record{}, ErrMissingID
	}
	body, err := json.Marshal(document)
	if err != nil {
		return Record{}, fmt.Errorf("documents: encode %s/%s: %w", c.table, id, err)
	}
	return Record{ID: id, Body: datatypes.JSON(body), UpdatedAtSeconds: c.now().UTC().Unix()}, nil
}

func decode[T Document](record Record) (T, error) {
	var document T
	if err := json.Unmarshal(record.Body, &document); err != nil {
		return document, fmt.Errorf("documents: decode %s: %w", record.ID, err)
	}
	return document, nil
}
