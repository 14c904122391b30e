package server_test

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codedcells/favarch/pkg/server"
	"github.com/codedcells/favarch/pkg/storage/sqlite"
	"github.com/codedcells/favarch/pkg/store"
)

type fixture struct {
	srv   *httptest.Server
	db    *sqlite.DB
	store *store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.New(
		filepath.Join(dir, "faves.db"),
		filepath.Join(dir, "pages.db"),
		filepath.Join(dir, "media.db"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	st, err := store.New(filepath.Join(dir, "archive"))
	require.NoError(t, err)

	srv := httptest.NewServer(server.New(db, st, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, db: db, store: st}
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 32), G: uint8(y * 32), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func (fx *fixture) archive(t *testing.T, id int64, data []byte, ext string) {
	t.Helper()
	res, err := fx.store.Store(id, bytes.NewReader(data), ext)
	require.NoError(t, err)
	require.NoError(t, fx.db.UpsertMedia(id, res.RelPath, res.Fingerprint))
}

func TestGetMedia(t *testing.T) {
	fx := newFixture(t)
	fx.archive(t, 42, []byte("gif-bytes"), ".gif")

	resp, err := http.Get(fx.srv.URL + "/media/42")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "gif-bytes", buf.String())
}

func TestGetMediaErrors(t *testing.T) {
	fx := newFixture(t)

	resp, err := http.Get(fx.srv.URL + "/media/7")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(fx.srv.URL + "/media/not-a-number")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueryMedia(t *testing.T) {
	fx := newFixture(t)
	fx.archive(t, 1, []byte("a"), ".png")
	fx.archive(t, 2, []byte("b"), ".gif")

	resp, err := http.Get(fx.srv.URL + "/query?name=.gif")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Results []struct {
			ID   int64  `json:"id"`
			Path string `json:"path"`
		} `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Results, 1)
	assert.Equal(t, int64(2), payload.Results[0].ID)

	resp, err = http.Get(fx.srv.URL + "/query")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func searchRequest(t *testing.T, url string, imageData []byte, maxDistance string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "query.png")
	require.NoError(t, err)
	_, err = part.Write(imageData)
	require.NoError(t, err)
	if maxDistance != "" {
		require.NoError(t, mw.WriteField("max_distance", maxDistance))
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/search", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func TestSearchSimilar(t *testing.T) {
	fx := newFixture(t)
	img := testPNG(t)
	fx.archive(t, 9, img, ".png")

	resp := searchRequest(t, fx.srv.URL, img, "")
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Fingerprint int64 `json:"fingerprint"`
		Matches     []struct {
			ID       int64 `json:"id"`
			Distance int   `json:"distance"`
		} `json:"matches"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Matches, 1)
	assert.Equal(t, int64(9), payload.Matches[0].ID)
	assert.Zero(t, payload.Matches[0].Distance)
}

func TestSearchSimilarRejectsBadInput(t *testing.T) {
	fx := newFixture(t)

	resp := searchRequest(t, fx.srv.URL, []byte("not an image"), "")
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = searchRequest(t, fx.srv.URL, testPNG(t), "65")
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err := http.Post(fx.srv.URL+"/search", "application/json", bytes.NewReader(nil))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
