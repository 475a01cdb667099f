package validation

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/username/sipfolio/backend/src/logger"
)

// AllowedClientContentTypes is a map for quick lookup of allowed client-declared MIME types.
// CAS statements arrive as PDF; some registrars export XLSX.
var AllowedClientContentTypes = map[string]bool{
	"application/pdf": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true, // .xlsx
	"application/octet-stream": true, // Fallback, magic-byte check decides
}

// ValidateClientContentType checks the Content-Type header provided by the client.
func ValidateClientContentType(contentType string) error {
	if allowed, exists := AllowedClientContentTypes[strings.ToLower(contentType)]; !exists || !allowed {
		logger.L.Warn("Disallowed client-declared Content-Type", "contentType", contentType)
		return fmt.Errorf("client-declared file type '%s' is not allowed for statement upload", contentType)
	}
	return nil
}

var (
	pdfMagic = []byte("%PDF-")
	// XLSX is a ZIP container; PK\x03\x04 is the local file header signature.
	zipMagic = []byte{0x50, 0x4B, 0x03, 0x04}
)

// ValidateFileContentByMagicBytes checks the actual file content signature (magic bytes).
// It returns the detected content type and an error if validation fails.
func ValidateFileContentByMagicBytes(file io.ReadSeeker) (string, error) {
	if file == nil {
		return "", fmt.Errorf("file is nil")
	}

	buffer := make([]byte, 8)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read file for content type checking: %w", err)
	}

	// IMPORTANT: Reset the file read pointer to the beginning so the actual parser can read the full file.
	_, seekErr := file.Seek(0, io.SeekStart)
	if seekErr != nil {
		return "", fmt.Errorf("failed to reset file read pointer: %w", seekErr)
	}

	switch {
	case bytes.HasPrefix(buffer[:n], pdfMagic):
		logger.L.Debug("File content type (magic bytes) validated", "detectedContentType", "application/pdf")
		return "application/pdf", nil
	case bytes.HasPrefix(buffer[:n], zipMagic):
		logger.L.Debug("File content type (magic bytes) validated", "detectedContentType", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", nil
	}

	logger.L.Warn("Disallowed detected file content type (magic bytes)")
	return "", fmt.Errorf("file content is not a PDF or XLSX statement")
}
