// Package codec converts images between the in-memory LiveImage form and
// the PersistedImage data URL form kept in history.
package codec

import (
	"encoding/base64"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// MaxUploadBytes is the largest file Load accepts
const MaxUploadBytes = 10 * 1024 * 1024

// Encode reads the whole image and returns its data URL. The image is not
// modified.
func Encode(img *model.LiveImage) (model.PersistedImage, error) {
	if img == nil {
		return "", goerr.New("image is nil", goerr.T(model.TagRead))
	}

	data, err := img.Bytes()
	if err != nil {
		return "", err
	}
	if img.MIMEType() == "" {
		return "", goerr.New("image has no MIME type", goerr.T(model.TagRead), goerr.V("name", img.Name()))
	}

	return model.NewPersistedImage(img.MIMEType(), base64.StdEncoding.EncodeToString(data)), nil
}

// Decode is the inverse of Encode
func Decode(p model.PersistedImage) (*model.LiveImage, error) {
	mimeType, payload, err := p.Split()
	if err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid base64 payload", goerr.T(model.TagFormat), goerr.V("mime", mimeType))
	}

	return model.NewLiveImage(mimeType, data), nil
}

// Bytes reads the content of either image form
func Bytes(img model.Image) ([]byte, string, error) {
	switch v := img.(type) {
	case *model.LiveImage:
		if v == nil {
			return nil, "", goerr.New("image is nil", goerr.T(model.TagRead))
		}
		data, err := v.Bytes()
		if err != nil {
			return nil, "", err
		}
		return data, v.MIMEType(), nil

	case model.PersistedImage:
		live, err := Decode(v)
		if err != nil {
			return nil, "", err
		}
		data, _ := live.Bytes()
		return data, live.MIMEType(), nil

	default:
		return nil, "", goerr.New("unknown image type", goerr.T(model.TagRead))
	}
}

// MIMEType returns the MIME type of either image form without decoding
// the payload
func MIMEType(img model.Image) (string, error) {
	switch v := img.(type) {
	case *model.LiveImage:
		if v == nil {
			return "", goerr.New("image is nil", goerr.T(model.TagRead))
		}
		return v.MIMEType(), nil
	case model.PersistedImage:
		return v.MIMEType()
	default:
		return "", goerr.New("unknown image type", goerr.T(model.TagRead))
	}
}

// Persist converts any image form to PersistedImage. A persisted input is
// returned as is.
func Persist(img model.Image) (model.PersistedImage, error) {
	switch v := img.(type) {
	case *model.LiveImage:
		return Encode(v)
	case model.PersistedImage:
		if _, err := v.MIMEType(); err != nil {
			return "", err
		}
		return v, nil
	default:
		return "", goerr.New("unknown image type", goerr.T(model.TagRead))
	}
}

// FromBytes builds a LiveImage, detecting the MIME type from the content.
// Non-image content is rejected.
func FromBytes(data []byte) (*model.LiveImage, error) {
	if len(data) == 0 {
		return nil, goerr.New("image is empty", goerr.T(model.TagValidation))
	}

	mt := mimetype.Detect(data)
	if !isImage(mt) {
		return nil, goerr.New("content is not an image", goerr.T(model.TagValidation), goerr.V("mime", mt.String()))
	}

	return model.NewLiveImage(mt.String(), data), nil
}

func isImage(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("image/png") || m.Is("image/jpeg") || m.Is("image/webp") || m.Is("image/gif") || m.Is("image/heic") {
			return true
		}
	}
	return false
}

// Load reads an image file from disk
func Load(path string) (*model.LiveImage, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to stat image file", goerr.T(model.TagRead), goerr.V("path", path))
	}
	if st.Size() > MaxUploadBytes {
		return nil, goerr.New("image file is too large", goerr.T(model.TagValidation),
			goerr.V("path", path), goerr.V("size", st.Size()), goerr.V("limit", MaxUploadBytes))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read image file", goerr.T(model.TagRead), goerr.V("path", path))
	}

	img, err := FromBytes(data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load image", goerr.V("path", path))
	}
	return img.WithName(path), nil
}

// Extension returns a file extension for the MIME type, ".bin" when unknown
func Extension(mimeType string) string {
	if mt := mimetype.Lookup(mimeType); mt != nil && mt.Extension() != "" {
		return mt.Extension()
	}
	return ".bin"
}
