package codec_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/atelier/pkg/codec"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		mime string
		data []byte
	}{
		{"png", "image/png", pngHeader},
		{"jpeg", "image/jpeg", []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}},
		{"binary noise", "image/webp", bytes.Repeat([]byte{0x00, 0xff, 0x7f, 0x80}, 1024)},
		{"single byte", "image/gif", []byte{0x47}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			original := model.NewLiveImage(tc.mime, tc.data)

			encoded, err := codec.Encode(original)
			gt.NoError(t, err)

			decoded, err := codec.Decode(encoded)
			gt.NoError(t, err)
			gt.Equal(t, decoded.MIMEType(), tc.mime)

			data, err := decoded.Bytes()
			gt.NoError(t, err)
			gt.True(t, bytes.Equal(data, tc.data))

			// Encode must not consume or change the input
			src, err := original.Bytes()
			gt.NoError(t, err)
			gt.True(t, bytes.Equal(src, tc.data))

			again, err := codec.Encode(decoded)
			gt.NoError(t, err)
			gt.Equal(t, again, encoded)
		})
	}
}

func TestEncodeReleased(t *testing.T) {
	img := model.NewLiveImage("image/png", pngHeader)
	img.Release()

	_, err := codec.Encode(img)
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, model.TagRead))
}

func TestDecodeMalformed(t *testing.T) {
	for _, input := range []model.PersistedImage{
		"",
		"hello",
		"data:image/png,AAAA",
		"data:;base64,AAAA",
		"data:image/png;base64,***",
	} {
		_, err := codec.Decode(input)
		gt.Error(t, err)
		gt.True(t, goerr.HasTag(err, model.TagFormat))
	}
}

func TestBytesBothForms(t *testing.T) {
	live := model.NewLiveImage("image/png", pngHeader)
	persisted, err := codec.Encode(live)
	gt.NoError(t, err)

	for _, img := range []model.Image{live, persisted} {
		data, mime, err := codec.Bytes(img)
		gt.NoError(t, err)
		gt.Equal(t, mime, "image/png")
		gt.True(t, bytes.Equal(data, pngHeader))
	}

	p, err := codec.Persist(persisted)
	gt.NoError(t, err)
	gt.Equal(t, p, persisted)

	_, err = codec.Persist(model.PersistedImage("broken"))
	gt.True(t, goerr.HasTag(err, model.TagFormat))
}

func TestFromBytes(t *testing.T) {
	img, err := codec.FromBytes(pngHeader)
	gt.NoError(t, err)
	gt.Equal(t, img.MIMEType(), "image/png")

	_, err = codec.FromBytes([]byte("just some text"))
	gt.True(t, goerr.HasTag(err, model.TagValidation))

	_, err = codec.FromBytes(nil)
	gt.True(t, goerr.HasTag(err, model.TagValidation))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "photo.png")
	gt.NoError(t, os.WriteFile(path, pngHeader, 0o600))

	img, err := codec.Load(path)
	gt.NoError(t, err)
	gt.Equal(t, img.Name(), path)
	gt.Equal(t, img.MIMEType(), "image/png")

	t.Run("missing file", func(t *testing.T) {
		_, err := codec.Load(filepath.Join(dir, "missing.png"))
		gt.True(t, goerr.HasTag(err, model.TagRead))
	})

	t.Run("too large", func(t *testing.T) {
		large := filepath.Join(dir, "large.png")
		data := append(append([]byte{}, pngHeader...), make([]byte, codec.MaxUploadBytes)...)
		gt.NoError(t, os.WriteFile(large, data, 0o600))

		_, err := codec.Load(large)
		gt.True(t, goerr.HasTag(err, model.TagValidation))
	})
}

func TestExtension(t *testing.T) {
	gt.Equal(t, codec.Extension("image/png"), ".png")
	gt.Equal(t, codec.Extension("image/jpeg"), ".jpg")
	gt.Equal(t, codec.Extension("unknown/type"), ".bin")
}
