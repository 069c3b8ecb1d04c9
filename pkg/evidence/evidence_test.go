package evidence

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"examshield/pkg/alert"
)

func TestStoreFrameWritesFile(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	frame := base64.StdEncoding.EncodeToString([]byte("jpegbytes"))
	key, err := s.StoreFrame(context.Background(), "sess-1", alert.KindPhoneDetected, frame)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if !strings.HasPrefix(key, filepath.Join("screenshots", "session_sess-1")) {
		t.Fatalf("unexpected key %q", key)
	}
	if !strings.Contains(key, "phone_detected") {
		t.Fatalf("key should embed the alert kind: %q", key)
	}

	data, err := os.ReadFile(filepath.Join(root, key))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "jpegbytes" {
		t.Fatalf("content mismatch: %q", data)
	}
}

func TestStoreFrameRejectsBadBase64(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := s.StoreFrame(context.Background(), "s", alert.KindTabSwitch, "%%%not-base64%%%"); err == nil {
		t.Fatalf("expected decode error")
	}
}
