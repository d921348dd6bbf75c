package library

import (
	"time"

	"github.com/zombor/ocr-scanner/internal/receipt"
)

// Document is a saved Text or Math scan
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Mode      string    `json:"mode"` // "text" or "math"
	ImagePath string    `json:"image_path,omitempty"`
	Order     uint64    `json:"order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Receipt is a saved Receipt scan
type Receipt struct {
	ID           string        `json:"id"`
	MerchantName string        `json:"merchant_name"`
	Items        []receipt.Row `json:"items"`
	TotalAmount  int           `json:"total_amount"` // Total in cents
	ImagePath    string        `json:"image_path,omitempty"`
	Order        uint64        `json:"order"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
