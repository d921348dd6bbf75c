package library

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/zombor/ocr-scanner/internal/pipeline"
	"github.com/zombor/ocr-scanner/internal/receipt"
)

const (
	// DefaultTitle names a document whose content has no first line
	DefaultTitle = "Scanned Document"
	// DefaultMerchant names a receipt scanned without a merchant label
	DefaultMerchant = "Unknown Merchant"

	titleLength = 30
)

// IDGenerator generates unique IDs for records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service stores scan results and their images. It is the pipeline's sink.
type Service struct {
	db          DB
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

var _ pipeline.Sink = (*Service)(nil)

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, storage Storage) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		idGenerator: &uuidGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	if unsafeChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filepath.Base(filename), ext)

	// Keep only alphanumeric, spaces, hyphens, and underscores
	base = unsafeChars.ReplaceAllString(base, "")
	base = spaceRuns.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// Truncate to reasonable length (50 chars for base, plus extension)
	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "scan"
	}

	return base + ext
}

// StoreImage saves a scanned image and returns its storage path
func (s *Service) StoreImage(filename string, data []byte) (string, error) {
	name := fmt.Sprintf("%s_%s", s.idGenerator.Generate(), sanitizeFilename(filename))
	path, err := s.storage.Save(name, data)
	if err != nil {
		return "", fmt.Errorf("saving image: %w", err)
	}
	return path, nil
}

// DeleteImage removes a stored image
func (s *Service) DeleteImage(path string) error {
	if path == "" {
		return nil
	}
	if err := s.storage.Delete(path); err != nil {
		return fmt.Errorf("deleting image: %w", err)
	}
	return nil
}

// documentTitle is the first line of content, truncated
func documentTitle(content string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(content), "\n")
	first = strings.TrimSpace(first)
	if first == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(first) > titleLength {
		first = string([]rune(first)[:titleLength])
	}
	return first
}

// SaveText stores a Text or Math result as a document
func (s *Service) SaveText(_ context.Context, rec pipeline.TextRecord) (string, error) {
	now := s.timeSource.Now()
	doc := &Document{
		ID:        s.idGenerator.Generate(),
		Title:     documentTitle(rec.Text),
		Content:   rec.Text,
		Mode:      rec.Mode.String(),
		ImagePath: rec.ImageRef,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.SaveDocument(doc); err != nil {
		return "", fmt.Errorf("saving document to database: %w", err)
	}
	slog.Info("Document saved", "id", doc.ID, "mode", doc.Mode, "title", doc.Title)
	return doc.ID, nil
}

// SaveReceipt stores reconstructed receipt rows. The total is the sum of the
// row prices.
func (s *Service) SaveReceipt(_ context.Context, rec pipeline.ReceiptRecord) (string, error) {
	merchant := strings.TrimSpace(rec.Merchant)
	if merchant == "" {
		merchant = DefaultMerchant
	}

	now := s.timeSource.Now()
	r := &Receipt{
		ID:           s.idGenerator.Generate(),
		MerchantName: merchant,
		Items:        append([]receipt.Row(nil), rec.Rows...),
		TotalAmount:  receipt.Total(rec.Rows),
		ImagePath:    rec.ImageRef,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.SaveReceipt(r); err != nil {
		return "", fmt.Errorf("saving receipt to database: %w", err)
	}
	slog.Info("Receipt saved", "id", r.ID, "merchant", r.MerchantName, "items", len(r.Items), "total_cents", r.TotalAmount)
	return r.ID, nil
}

// GetDocument retrieves a document by ID
func (s *Service) GetDocument(id string) (*Document, error) {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns all documents
func (s *Service) ListDocuments() ([]*Document, error) {
	docs, err := s.db.ListDocuments()
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

// UpdateDocument replaces a document's title and content. A blank title is
// taken from the content again.
func (s *Service) UpdateDocument(id, title, content string) (*Document, error) {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		return nil, fmt.Errorf("getting document for update: %w", err)
	}

	doc.Title = strings.TrimSpace(title)
	if doc.Title == "" {
		doc.Title = documentTitle(content)
	}
	doc.Content = content
	doc.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveDocument(doc); err != nil {
		return nil, fmt.Errorf("updating document in database: %w", err)
	}
	slog.Info("Document updated", "id", doc.ID, "title", doc.Title)
	return doc, nil
}

// ReorderDocuments moves the given documents to the front, in order
func (s *Service) ReorderDocuments(ids []string) error {
	if err := s.db.ReorderDocuments(ids); err != nil {
		return fmt.Errorf("reordering documents: %w", err)
	}
	return nil
}

// DeleteDocument removes a document and its image
func (s *Service) DeleteDocument(id string) error {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		return fmt.Errorf("getting document for deletion: %w", err)
	}

	if err := s.DeleteImage(doc.ImagePath); err != nil {
		// Log error but continue with database deletion
		slog.Warn("Failed to delete image", "path", doc.ImagePath, "error", err)
	}

	if err := s.db.DeleteDocument(id); err != nil {
		return fmt.Errorf("deleting document from database: %w", err)
	}
	return nil
}

// GetDocumentImage retrieves the image a document was scanned from
func (s *Service) GetDocumentImage(id string) ([]byte, error) {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return s.image(doc.ImagePath)
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	r, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return r, nil
}

// ListReceipts returns all receipts
func (s *Service) ListReceipts() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// UpdateReceipt replaces a receipt's merchant and items and recomputes its
// total. Every item needs a name and a positive price.
func (s *Service) UpdateReceipt(id, merchant string, items []receipt.Row) (*Receipt, error) {
	for i, item := range items {
		if !item.Valid() {
			return nil, fmt.Errorf("item %d needs a name and a price above zero: %w", i+1, ErrInvalidRecord)
		}
	}

	r, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt for update: %w", err)
	}

	r.MerchantName = strings.TrimSpace(merchant)
	if r.MerchantName == "" {
		r.MerchantName = DefaultMerchant
	}
	r.Items = append([]receipt.Row(nil), items...)
	r.TotalAmount = receipt.Total(items)
	r.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveReceipt(r); err != nil {
		return nil, fmt.Errorf("updating receipt in database: %w", err)
	}
	slog.Info("Receipt updated", "id", r.ID, "merchant", r.MerchantName, "items", len(r.Items), "total_cents", r.TotalAmount)
	return r, nil
}

// ReorderReceipts moves the given receipts to the front, in order
func (s *Service) ReorderReceipts(ids []string) error {
	if err := s.db.ReorderReceipts(ids); err != nil {
		return fmt.Errorf("reordering receipts: %w", err)
	}
	return nil
}

// DeleteReceipt removes a receipt and its image
func (s *Service) DeleteReceipt(id string) error {
	r, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if err := s.DeleteImage(r.ImagePath); err != nil {
		// Log error but continue with database deletion
		slog.Warn("Failed to delete image", "path", r.ImagePath, "error", err)
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptImage retrieves the image a receipt was scanned from
func (s *Service) GetReceiptImage(id string) ([]byte, error) {
	r, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return s.image(r.ImagePath)
}

func (s *Service) image(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("image: %w", ErrNotFound)
	}
	data, err := s.storage.Get(path)
	if err != nil {
		return nil, fmt.Errorf("getting image: %w", err)
	}
	return data, nil
}
