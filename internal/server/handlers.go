package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/ocr-scanner/internal/library"
	"github.com/zombor/ocr-scanner/internal/pipeline"
	"github.com/zombor/ocr-scanner/internal/receipt"
	"github.com/zombor/ocr-scanner/internal/scanning"
)

// maxUploadSize bounds uploads; high-resolution phone photos run large
const maxUploadSize = int64(50 << 20)

const tooLargeMessage = "File is too large. Maximum size is 50MB. Please compress or resize your image."

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// jsonError writes a JSON {"error": message} response with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// writeJSON writes v as a JSON response
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// handleGetSession returns the session status
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

// handleSelectMode changes the persistent scan mode
func (s *Server) handleSelectMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	mode, err := pipeline.ParseMode(req.Mode)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.session.SelectMode(mode)
	writeJSON(w, http.StatusOK, s.session.Status())
}

// handleRetryEngine restarts a failed math engine initialization
func (s *Server) handleRetryEngine(w http.ResponseWriter, r *http.Request) {
	s.session.RetryMath()
	writeJSON(w, http.StatusAccepted, s.session.Status())
}

// handleScan stores an uploaded image and runs it through the session in the
// requested (or current) mode
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = tooLargeMessage
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}
	defer f.Close()

	rect, err := cropRect(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var mode *pipeline.Mode
	if v := r.FormValue("mode"); v != "" {
		m, err := pipeline.ParseMode(v)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		mode = &m
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	path, err := s.library.StoreImage(header.Filename, data)
	if err != nil {
		slog.Error("Error storing image", "filename", header.Filename, "error", err)
		jsonError(w, "Error storing image", http.StatusInternalServerError)
		return
	}

	src := pipeline.BytesSource{
		Data:        data,
		ContentType: uploadContentType(header.Header.Get("Content-Type"), header.Filename),
		Ref:         path,
		Label:       strings.TrimSpace(r.FormValue("label")),
	}
	var result *pipeline.Result
	if mode != nil {
		// the mode sticks only if the session accepts the scan
		result, err = s.session.ScanAs(r.Context(), *mode, src, rect)
	} else {
		result, err = s.session.Scan(r.Context(), src, rect)
	}
	if err != nil {
		if delErr := s.library.DeleteImage(path); delErr != nil {
			slog.Warn("Failed to delete image", "path", path, "error", delErr)
		}
		slog.Error("Error scanning image", "filename", header.Filename, "error", err)
		jsonError(w, scanning.Details(err), scanStatus(err))
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// scanStatus maps a scan failure to a response code
func scanStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, scanning.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, scanning.ErrEmptyResult):
		return http.StatusUnprocessableEntity
	case errors.Is(err, scanning.ErrRecognition):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var cropFields = [...]string{"crop_x", "crop_y", "crop_w", "crop_h"}

// cropRect reads the optional crop region. All four fields are required once
// any is given; no fields means the whole image.
func cropRect(r *http.Request) (image.Rectangle, error) {
	var vals [4]int
	given := 0
	for i, name := range cropFields {
		raw := r.FormValue(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return image.Rectangle{}, fmt.Errorf("invalid %s %q", name, raw)
		}
		vals[i] = n
		given++
	}
	switch given {
	case 0:
		return image.Rectangle{}, nil
	case len(cropFields):
	default:
		return image.Rectangle{}, errors.New("crop requires crop_x, crop_y, crop_w and crop_h")
	}
	if vals[2] == 0 || vals[3] == 0 {
		return image.Rectangle{}, errors.New("crop region is empty")
	}
	return image.Rect(vals[0], vals[1], vals[0]+vals[2], vals[1]+vals[3]), nil
}

// uploadContentType normalizes the declared content type, falling back to the
// file extension
func uploadContentType(declared, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(declared))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// lookupError maps a library lookup failure to a response
func lookupError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, library.ErrNotFound) {
		corsError(w, what+" not found", http.StatusNotFound)
		return
	}
	slog.Error("Error loading "+strings.ToLower(what), "error", err)
	corsError(w, "Internal server error", http.StatusInternalServerError)
}

// writeImage writes stored image bytes with a sniffed content type
func writeImage(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Write(data)
}

// handleListDocuments returns all documents in scan order
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.library.ListDocuments()
	if err != nil {
		slog.Error("Error listing documents", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []*library.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// handleGetDocument returns a single document
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.library.GetDocument(r.PathValue("id"))
	if err != nil {
		lookupError(w, "Document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleGetDocumentImage returns the image a document was scanned from
func (s *Server) handleGetDocumentImage(w http.ResponseWriter, r *http.Request) {
	data, err := s.library.GetDocumentImage(r.PathValue("id"))
	if err != nil {
		corsError(w, "Image not found", http.StatusNotFound)
		return
	}
	writeImage(w, data)
}

// editError maps a failed edit or reorder to a response
func editError(w http.ResponseWriter, what string, err error) {
	switch {
	case errors.Is(err, library.ErrNotFound):
		jsonError(w, what+" not found", http.StatusNotFound)
	case errors.Is(err, library.ErrInvalidRecord):
		jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("Error saving "+strings.ToLower(what), "error", err)
		jsonError(w, "Error saving "+strings.ToLower(what), http.StatusInternalServerError)
	}
}

// handleUpdateDocument saves an edited title and content
func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	doc, err := s.library.UpdateDocument(r.PathValue("id"), req.Title, req.Content)
	if err != nil {
		editError(w, "Document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// orderRequest lists record ids in their new order
type orderRequest struct {
	IDs []string `json:"ids"`
}

// handleReorderDocuments moves the listed documents to the front
func (s *Server) handleReorderDocuments(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.library.ReorderDocuments(req.IDs); err != nil {
		editError(w, "Document", err)
		return
	}
	s.handleListDocuments(w, r)
}

// handleDeleteDocument deletes a document
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.library.DeleteDocument(r.PathValue("id")); err != nil {
		if errors.Is(err, library.ErrNotFound) {
			corsError(w, "Document not found", http.StatusNotFound)
			return
		}
		slog.Error("Error deleting document", "error", err)
		corsError(w, "Error deleting document", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListReceipts returns all receipts in scan order
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.library.ListReceipts()
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if receipts == nil {
		receipts = []*library.Receipt{}
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	rcpt, err := s.library.GetReceipt(r.PathValue("id"))
	if err != nil {
		lookupError(w, "Receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

// handleGetReceiptImage returns the image a receipt was scanned from
func (s *Server) handleGetReceiptImage(w http.ResponseWriter, r *http.Request) {
	data, err := s.library.GetReceiptImage(r.PathValue("id"))
	if err != nil {
		corsError(w, "Image not found", http.StatusNotFound)
		return
	}
	writeImage(w, data)
}

// handleUpdateReceipt saves an edited merchant and item list
func (s *Server) handleUpdateReceipt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MerchantName string        `json:"merchant_name"`
		Items        []receipt.Row `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rcpt, err := s.library.UpdateReceipt(r.PathValue("id"), req.MerchantName, req.Items)
	if err != nil {
		editError(w, "Receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

// handleReorderReceipts moves the listed receipts to the front
func (s *Server) handleReorderReceipts(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.library.ReorderReceipts(req.IDs); err != nil {
		editError(w, "Receipt", err)
		return
	}
	s.handleListReceipts(w, r)
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.library.DeleteReceipt(r.PathValue("id")); err != nil {
		if errors.Is(err, library.ErrNotFound) {
			corsError(w, "Receipt not found", http.StatusNotFound)
			return
		}
		slog.Error("Error deleting receipt", "error", err)
		corsError(w, "Error deleting receipt", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
