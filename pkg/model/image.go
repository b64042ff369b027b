package model

import (
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
)

// Image is either a *LiveImage owned by the current session or a
// PersistedImage string. Code that sends images to the generation API
// accepts Image and lets the codec read either form.
type Image interface {
	isImage()
}

// LiveImage holds decoded image bytes for the current session. It must be
// released by its last holder; reads after Release fail with TagRead.
type LiveImage struct {
	mimeType string
	name     string

	mu       sync.RWMutex
	data     []byte
	released bool
}

func (*LiveImage) isImage() {}

// NewLiveImage wraps data. The slice is owned by the image afterwards.
func NewLiveImage(mimeType string, data []byte) *LiveImage {
	return &LiveImage{mimeType: mimeType, data: data}
}

// WithName sets a display name (usually the source file name)
func (x *LiveImage) WithName(name string) *LiveImage {
	x.name = name
	return x
}

func (x *LiveImage) Name() string     { return x.name }
func (x *LiveImage) MIMEType() string { return x.mimeType }

// Bytes returns the image content. The returned slice must not be modified.
func (x *LiveImage) Bytes() ([]byte, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.released {
		return nil, goerr.New("image already released", goerr.T(TagRead), goerr.V("name", x.name))
	}
	return x.data, nil
}

// Release drops the underlying bytes. Calling it twice is harmless.
func (x *LiveImage) Release() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.data = nil
	x.released = true
}

// Released reports whether Release has been called
func (x *LiveImage) Released() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.released
}

// PersistedImage is a data URL: "data:<mime>;base64,<payload>"
type PersistedImage string

func (PersistedImage) isImage() {}

const (
	dataURLPrefix   = "data:"
	base64Separator = ";base64,"
)

// Split returns the MIME type and the base64 payload without decoding it
func (x PersistedImage) Split() (mimeType, payload string, err error) {
	s := string(x)
	if !strings.HasPrefix(s, dataURLPrefix) {
		return "", "", goerr.New("missing data URL prefix", goerr.T(TagFormat))
	}

	head, body, ok := strings.Cut(s[len(dataURLPrefix):], base64Separator)
	if !ok {
		return "", "", goerr.New("missing base64 separator", goerr.T(TagFormat))
	}
	if head == "" || !strings.Contains(head, "/") {
		return "", "", goerr.New("missing MIME type", goerr.T(TagFormat), goerr.V("mime", head))
	}
	if body == "" {
		return "", "", goerr.New("empty payload", goerr.T(TagFormat), goerr.V("mime", head))
	}

	return head, body, nil
}

// MIMEType returns the MIME tag of the data URL
func (x PersistedImage) MIMEType() (string, error) {
	mimeType, _, err := x.Split()
	return mimeType, err
}

// NewPersistedImage joins a MIME type and an already base64 encoded payload
func NewPersistedImage(mimeType, payload string) PersistedImage {
	return PersistedImage(dataURLPrefix + mimeType + base64Separator + payload)
}
