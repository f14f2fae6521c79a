package validation

import (
	"testing"

	apperrors "go-image-upscaler/internal/errors"
)

const pixelDataURL = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8/5+hHgAHggJ/PchI7wAAAABJRU5ErkJggg=="

func TestNewURLValidator(t *testing.T) {
	validator := NewURLValidator()
	if validator == nil {
		t.Fatal("Expected non-nil URL validator")
	}

	expectedSchemes := []string{"http", "https", "data"}
	if len(validator.allowedSchemes) != len(expectedSchemes) {
		t.Errorf("Expected %d schemes, got %d", len(expectedSchemes), len(validator.allowedSchemes))
	}
	for i, scheme := range expectedSchemes {
		if validator.allowedSchemes[i] != scheme {
			t.Errorf("Expected scheme %s, got %s", scheme, validator.allowedSchemes[i])
		}
	}
}

func TestValidateImageURL_ValidURLs(t *testing.T) {
	validator := NewURLValidator()

	validURLs := []string{
		"http://example.com/image.jpg",
		"https://example.com/image.png",
		"https://myaccount.blob.core.windows.net/uploads/cat.png",
		"http://192.168.1.1:8080/image.jpg",
		pixelDataURL,
	}

	for _, url := range validURLs {
		if err := validator.ValidateImageURL(url); err != nil {
			t.Errorf("Expected valid URL %.60s to pass validation, got error: %v", url, err)
		}
	}
}

func TestValidateImageURL_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		validator *URLValidator
		url       string
		wantMsg   string
	}{
		{"empty", NewURLValidator(), "", "URL cannot be empty"},
		{"blank", NewURLValidator(), " \t\n", "URL cannot be empty"},
		{"no scheme", NewURLValidator(), "not-a-url", "URL scheme not allowed"},
		{"ftp", NewURLValidator(), "ftp://example.com/image.jpg", "URL scheme not allowed"},
		{"file by default", NewURLValidator(), "file:///srv/images/cat.png", "URL scheme not allowed"},
		{"no host", NewURLValidator(), "http:///path", "URL must have a valid host"},
		{"empty https", NewURLValidator(), "https://", "URL must have a valid host"},
		{"non-image data", NewURLValidator(), "data:text/plain;base64,aGVsbG8=", "data URL must carry an image payload"},
		{"data without payload", NewURLValidator(), "data:image/png;base64", "data URL must carry an image payload"},
		{"data disabled", NewURLValidatorWithOptions([]string{"https"}, nil), pixelDataURL, "URL scheme not allowed"},
		{"file without path", NewURLValidatorWithOptions([]string{"file"}, nil), "file:///", "file URL must name a file"},
		{"host restricted", NewURLValidatorWithOptions([]string{"https"}, []string{"trusted.com"}), "https://malicious.com/a.png", "URL host not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.validator.ValidateImageURL(tt.url)
			if err == nil {
				t.Fatalf("Expected %q to fail validation", tt.url)
			}
			appErr, ok := err.(*apperrors.AppError)
			if !ok {
				t.Fatalf("Expected AppError, got %T", err)
			}
			if appErr.Message != tt.wantMsg {
				t.Errorf("Expected %q, got %q", tt.wantMsg, appErr.Message)
			}
			if appErr.Type != apperrors.ErrorTypeValidation {
				t.Errorf("Expected validation error type, got %s", appErr.Type)
			}
		})
	}
}

func TestValidateImageURL_RestrictedHosts(t *testing.T) {
	validator := NewURLValidatorWithOptions([]string{"http", "https", "file"}, []string{"example.com"})

	if err := validator.ValidateImageURL("https://example.com:443/image.png"); err != nil {
		t.Errorf("Expected allowed host with port to pass, got %v", err)
	}
	// host restrictions do not apply to local files
	if err := validator.ValidateImageURL("file:///srv/images/cat.png"); err != nil {
		t.Errorf("Expected file URL to pass, got %v", err)
	}
}

func TestIsHostAllowed(t *testing.T) {
	validator := NewURLValidator()
	if !validator.isHostAllowed("example.com") {
		t.Error("Expected any host to be allowed when no restrictions")
	}

	restricted := NewURLValidatorWithOptions([]string{"http", "https"}, []string{"example.com", "trusted.com"})
	if !restricted.isHostAllowed("trusted.com") {
		t.Error("Expected trusted.com to be allowed")
	}
	if restricted.isHostAllowed("malicious.com") {
		t.Error("Expected malicious.com to be disallowed")
	}
}
