package imaging

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// countingStore is an in-memory ObjectStore recording every Put.
type countingStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newCountingStore() *countingStore {
	return &countingStore{objects: make(map[string][]byte)}
}

func (s *countingStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *countingStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.puts++
	return s.URI(key), nil
}

func (s *countingStore) URI(key string) string {
	return "mem://images/" + key
}

// MockStore lets tests inject store failures.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	args := m.Called(ctx, key, data, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockStore) URI(key string) string {
	return "mock://bucket/" + key
}

func encodePNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, c)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func encodeGIF(t *testing.T) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, 2, 2), color.Palette{color.Black, color.White})
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Fingerprint([]byte{}))

	data := []byte("same bytes")
	assert.Equal(t, Fingerprint(data), Fingerprint([]byte("same bytes")))
	assert.NotEqual(t, Fingerprint(data), Fingerprint([]byte("other bytes")))
	assert.Len(t, Fingerprint(data), 64)
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"png", encodePNG(t, color.White), "png"},
		{"jpeg", encodeJPEG(t), "jpeg"},
		{"gif", encodeGIF(t), "gif"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format, err := DetectFormat(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, format)
		})
	}
}

func TestDetectFormat_Corrupt(t *testing.T) {
	_, err := DetectFormat([]byte("<html>not an image</html>"))
	assert.ErrorIs(t, err, ErrUndecodable)

	truncated := encodePNG(t, color.White)[:10]
	_, err = DetectFormat(truncated)
	assert.ErrorIs(t, err, ErrUndecodable)

	_, err = DetectFormat(nil)
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestIngest(t *testing.T) {
	data := encodePNG(t, color.White)

	asset, err := Ingest(data)
	require.NoError(t, err)

	assert.Equal(t, Fingerprint(data), asset.Fingerprint)
	assert.Equal(t, "png", asset.Format)
	assert.Equal(t, asset.Fingerprint+".png", asset.StorageKey)
	assert.Empty(t, asset.StorageURI)
}

func TestIngest_CorruptReturnsError(t *testing.T) {
	asset, err := Ingest([]byte{0xff, 0xd8, 0x00})
	assert.Nil(t, asset)
	assert.ErrorIs(t, err, ErrUndecodable)
}

func TestStore_AtMostOnce(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	data := encodePNG(t, color.Black)

	first, err := Ingest(data)
	require.NoError(t, err)
	wrote, err := Store(ctx, first, data, store)
	require.NoError(t, err)
	assert.True(t, wrote)

	second, err := Ingest(append([]byte(nil), data...))
	require.NoError(t, err)
	wrote, err = Store(ctx, second, data, store)
	require.NoError(t, err)
	assert.False(t, wrote)

	assert.Equal(t, first.StorageKey, second.StorageKey)
	assert.Equal(t, first.StorageURI, second.StorageURI)
	assert.Equal(t, "mem://images/"+first.StorageKey, first.StorageURI)
	assert.Equal(t, 1, store.puts)
}

func TestStore_ConcurrentSameContent(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	data := encodePNG(t, color.White)

	var wg sync.WaitGroup
	uris := make([]string, 8)
	for i := range uris {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			asset, err := Ingest(data)
			if err != nil {
				return
			}
			if _, err := Store(ctx, asset, data, store); err != nil {
				return
			}
			uris[i] = asset.StorageURI
		}(i)
	}
	wg.Wait()

	for _, uri := range uris {
		assert.Equal(t, uris[0], uri)
	}
	assert.Len(t, store.objects, 1)
	assert.GreaterOrEqual(t, store.puts, 1)
}

func TestStore_Failures(t *testing.T) {
	ctx := context.Background()
	data := encodePNG(t, color.White)
	asset, err := Ingest(data)
	require.NoError(t, err)

	t.Run("exists check fails", func(t *testing.T) {
		store := new(MockStore)
		store.On("Exists", ctx, asset.StorageKey).Return(false, errors.New("timeout"))

		_, err := Store(ctx, asset, data, store)
		assert.Error(t, err)
		store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("put fails", func(t *testing.T) {
		store := new(MockStore)
		store.On("Exists", ctx, asset.StorageKey).Return(false, nil)
		store.On("Put", ctx, asset.StorageKey, data, "image/png").Return("", errors.New("quota"))

		wrote, err := Store(ctx, asset, data, store)
		assert.Error(t, err)
		assert.False(t, wrote)
		store.AssertExpectations(t)
	})
}
