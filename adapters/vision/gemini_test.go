package vision

import "testing"

func TestSplitDataURL(t *testing.T) {
	mime, payload := splitDataURL("data:image/png;base64,AAAA")
	if mime != "image/png" {
		t.Errorf("mime = %s, want image/png", mime)
	}
	if payload != "AAAA" {
		t.Errorf("payload = %q", payload)
	}

	mime, payload = splitDataURL("data:image/webp;base64,BBBB")
	if mime != "image/webp" {
		t.Errorf("mime = %s, want image/webp", mime)
	}
	if payload != "BBBB" {
		t.Errorf("payload = %q", payload)
	}

	// Raw base64 without a data URL defaults to JPEG.
	mime, payload = splitDataURL("CCCC")
	if mime != "image/jpeg" {
		t.Errorf("mime = %s, want image/jpeg", mime)
	}
	if payload != "CCCC" {
		t.Errorf("payload = %q", payload)
	}
}
