package storage

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looks-salon/looks/internal/apperr"
	"github.com/looks-salon/looks/internal/models"
)

func newStore(t *testing.T) *SessionStore {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, s.Init())
	return s
}

func TestValidSessionID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{id: strings.Repeat("a", 32), want: true},
		{id: "0123456789abcdef0123456789abcdef", want: true},
		{id: strings.Repeat("A", 32), want: false},
		{id: strings.Repeat("a", 31), want: false},
		{id: strings.Repeat("g", 32), want: false},
		{id: "../../../../etc/passwd", want: false},
		{id: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidSessionID(tt.id))
		})
	}
}

func TestCreate(t *testing.T) {
	s := newStore(t)

	plain, err := s.Create("")
	require.NoError(t, err)
	assert.True(t, ValidSessionID(plain))
	assert.True(t, s.Exists(plain))
	meta, err := s.LoadMeta(plain)
	require.NoError(t, err)
	assert.Nil(t, meta)
	assert.NoFileExists(t, filepath.Join(s.Dir(plain), "meta.json"))

	tagged, err := s.Create("stylist")
	require.NoError(t, err)
	assert.NotEqual(t, plain, tagged)
	meta, err = s.LoadMeta(tagged)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "stylist", meta.UserType)

	ids, err := s.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{plain, tagged}, ids)
}

func TestStoreUploadReplacesStaleVariants(t *testing.T) {
	s := newStore(t)
	id, err := s.Create("")
	require.NoError(t, err)

	_, err = s.StoreUpload(id, strings.NewReader("first"), ".png")
	require.NoError(t, err)
	path, ok := s.LatestPhoto(id)
	require.True(t, ok)
	assert.Equal(t, "latest.png", filepath.Base(path))

	_, err = s.StoreUpload(id, strings.NewReader("second"), "")
	require.NoError(t, err)
	path, ok = s.LatestPhoto(id)
	require.True(t, ok)
	assert.Equal(t, "latest.jpg", filepath.Base(path))
	assert.NoFileExists(t, filepath.Join(s.Dir(id), "latest.png"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestPhotoExtension(t *testing.T) {
	tests := map[string]string{
		".JPEG": ".jpeg",
		"png":   ".png",
		".webp": ".webp",
		"":      ".jpg",
		".exe":  ".jpg",
		".heic": ".jpg",
	}
	for in, want := range tests {
		assert.Equal(t, want, PhotoExtension(in), in)
	}
}

func TestLatestPhotoOrder(t *testing.T) {
	s := newStore(t)
	id, err := s.Create("")
	require.NoError(t, err)

	_, ok := s.LatestPhoto(id)
	assert.False(t, ok)

	// Written directly so both variants exist at once
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(id), "latest.webp"), []byte("w"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(id), "latest.jpeg"), []byte("j"), 0644))
	path, ok := s.LatestPhoto(id)
	require.True(t, ok)
	assert.Equal(t, "latest.jpeg", filepath.Base(path))
}

func TestUnknownSession(t *testing.T) {
	s := newStore(t)
	unknown := strings.Repeat("b", 32)

	_, err := s.StoreUpload(unknown, strings.NewReader("x"), ".jpg")
	assert.True(t, apperr.Is(err, apperr.NotFound))

	_, err = s.LoadResults(unknown)
	assert.True(t, apperr.Is(err, apperr.NotFound))

	_, err = s.ListResultFiles("../escape")
	assert.True(t, apperr.Is(err, apperr.NotFound))

	assert.False(t, s.Exists("../escape"))
}

func TestLedgerRoundTripAndTolerantRead(t *testing.T) {
	s := newStore(t)
	id, err := s.Create("")
	require.NoError(t, err)

	results, err := s.LoadResults(id)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.NotNil(t, results)

	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	want := []models.Result{{PresetID: "face__round__a.jpg", Category: "face", Filename: "result-face_round_a.jpg.jpg", ResultURL: "/sessions/x", CreatedAt: created}}
	require.NoError(t, s.SaveResults(id, want))
	got, err := s.LoadResults(id)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(id), "results.json"), []byte("{not json"), 0644))
	got, err = s.LoadResults(id)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(id), "calls.json"), []byte("[{]"), 0644))
	calls, err := s.LoadCalls(id)
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestResultPaths(t *testing.T) {
	s := New("/data/sessions")
	id := strings.Repeat("c", 32)

	assert.Equal(t, "result-face_round_a.jpg.jpg", ResultFilename("face__round__a.jpg"))
	assert.Equal(t, filepath.Join("/data/sessions", id, "face", "result-face_round_a.jpg.jpg"), s.ResultPath(id, "face", "face__round__a.jpg"))
	assert.Equal(t, "/sessions/"+id+"/face/result-face_round_a.jpg.jpg", FileURL(id, "face", "result-face_round_a.jpg.jpg"))
	assert.Equal(t, "/sessions/"+id+"/my%20cat/x.jpg", FileURL(id, "my cat", "x.jpg"))
}

func TestListResultFilesIgnoresLedger(t *testing.T) {
	s := newStore(t)
	id, err := s.Create("")
	require.NoError(t, err)

	require.NoError(t, WriteFile(filepath.Join(s.Dir(id), "face", "result-a.jpg"), strings.NewReader("a")))
	require.NoError(t, WriteFile(filepath.Join(s.Dir(id), "latest.jpg"), strings.NewReader("photo")))
	require.NoError(t, s.SaveResults(id, []models.Result{{PresetID: "gone"}}))

	files, err := s.ListResultFiles(id)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, models.ResultFile{Category: "face", Filename: "result-a.jpg", ImageURL: "/sessions/" + id + "/face/result-a.jpg"}, files[0])
}

func TestLocker(t *testing.T) {
	l := NewLocker()

	var mu sync.Mutex
	inside := map[string]int{}
	maxInside := 0

	var wg sync.WaitGroup
	for i := range 40 {
		key := []string{"a", "b"}[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(key)
			defer unlock()

			mu.Lock()
			inside[key]++
			maxInside = max(maxInside, inside[key])
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside[key]--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside, "a key is held by one caller at a time")
	assert.Zero(t, l.Len(), "released keys are dropped")
}
