package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harutoshi/medialens/internal/config"
	"github.com/harutoshi/medialens/internal/model"
	"github.com/harutoshi/medialens/internal/signing"
	"github.com/harutoshi/medialens/internal/tracker"
)

func newTestServer(t *testing.T, maxBytes int64) (*httptest.Server, *tracker.Tracker) {
	t.Helper()
	cfg := &config.Config{
		MaxFileSize:  maxBytes,
		AllowedTypes: []string{"image/", "video/", "audio/", "application/pdf"},
		SignedURLTTL: time.Minute,
	}
	timing := tracker.Timing{
		Tick:              time.Millisecond,
		StepLo:            40,
		StepHi:            60,
		ProcessingDelayLo: time.Millisecond,
		ProcessingDelayHi: 2 * time.Millisecond,
	}
	tr := tracker.New(nil, nil, nil, timing)
	srv := New(cfg, tr, signing.NewSigner([]byte("test-secret")), nil)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, tr
}

func multipartBody(t *testing.T, files map[string][]byte, contentTypes map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for name, data := range files {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
		hdr.Set("Content-Type", contentTypes[name])
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

type uploadResponse struct {
	Files    []model.UploadRecord `json:"files"`
	Rejected []rejectedFile       `json:"rejected"`
}

func TestUploadLifecycle(t *testing.T) {
	ts, tr := newTestServer(t, 50<<20)

	body, ct := multipartBody(t,
		map[string][]byte{"cat.png": bytes.Repeat([]byte{0xAB}, 2<<20)},
		map[string]string{"cat.png": "image/png"},
	)
	resp, err := http.Post(ts.URL+"/upload", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out uploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Files, 1)
	require.Empty(t, out.Rejected)

	rec := out.Files[0]
	require.Equal(t, "cat.png", rec.Name)
	require.Equal(t, model.KindImage, rec.Kind)
	require.Equal(t, model.StatusPending, rec.Status)
	require.NotEmpty(t, rec.PreviewKey)

	require.Eventually(t, func() bool {
		got, ok := tr.Get(rec.ID)
		return ok && got.Status == model.StatusCompleted
	}, 5*time.Second, time.Millisecond)

	stats, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer stats.Body.Close()
	var counts tracker.Counts
	require.NoError(t, json.NewDecoder(stats.Body).Decode(&counts))
	require.Equal(t, tracker.Counts{Total: 1, Completed: 1}, counts)
}

func TestUploadBatchPreservesOrder(t *testing.T) {
	ts, _ := newTestServer(t, 50<<20)

	// Build parts in a fixed order; maps don't guarantee order, so write the
	// body by hand.
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, f := range []struct{ name, ct string }{
		{"a.jpg", "image/jpeg"},
		{"b.mp4", "video/mp4"},
		{"c.mp3", "audio/mpeg"},
	} {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, f.name))
		hdr.Set("Content-Type", f.ct)
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write([]byte("data"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out uploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Files, 3)
	require.Equal(t, model.KindImage, out.Files[0].Kind)
	require.Equal(t, model.KindVideo, out.Files[1].Kind)
	require.Equal(t, model.KindAudio, out.Files[2].Kind)
}

func TestUploadRejectsOversizeBeforeTracking(t *testing.T) {
	ts, tr := newTestServer(t, 64)

	body, ct := multipartBody(t,
		map[string][]byte{"big.png": bytes.Repeat([]byte{1}, 256)},
		map[string]string{"big.png": "image/png"},
	)
	resp, err := http.Post(ts.URL+"/upload", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out uploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Rejected, 1)
	require.Contains(t, out.Rejected[0].Reason, "exceeds limit")

	// The tracker never saw the oversize file.
	require.Empty(t, tr.Snapshot())
}

func TestUploadRejectsDisallowedType(t *testing.T) {
	ts, tr := newTestServer(t, 1024)

	body, ct := multipartBody(t,
		map[string][]byte{"evil.exe": []byte("MZ....")},
		map[string]string{"evil.exe": "application/x-msdownload"},
	)
	resp, err := http.Post(ts.URL+"/upload", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Empty(t, tr.Snapshot())
}

func TestFileRoutes(t *testing.T) {
	ts, tr := newTestServer(t, 1024)
	recs := tr.AcceptBatch([]tracker.FileInfo{
		{Name: "clip.mp4", Size: 10, ContentType: "video/mp4"},
	})
	id := recs[0].ID

	resp, err := http.Get(ts.URL + "/files/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rec model.UploadRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	require.Equal(t, "clip.mp4", rec.Name)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/files/"+id, nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	require.Equal(t, http.StatusNoContent, del.StatusCode)
	require.Empty(t, tr.Snapshot())

	// Deleting again is still a no-op success.
	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/files/"+id, nil)
	require.NoError(t, err)
	del, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	require.Equal(t, http.StatusNoContent, del.StatusCode)

	missing, err := http.Get(ts.URL + "/files/" + id)
	require.NoError(t, err)
	missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestPreviewRoundTrip(t *testing.T) {
	ts, tr := newTestServer(t, 1024)
	png := []byte("\x89PNG\r\n\x1a\nfakepixels")
	recs := tr.AcceptBatch([]tracker.FileInfo{
		{Name: "pic.png", Size: int64(len(png)), ContentType: "image/png", Preview: png},
	})
	id := recs[0].ID

	resp, err := http.Get(ts.URL + "/files/" + id + "/preview-url")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out["url"])

	pv, err := http.Get(ts.URL + out["url"])
	require.NoError(t, err)
	defer pv.Body.Close()
	require.Equal(t, http.StatusOK, pv.StatusCode)
	data, err := io.ReadAll(pv.Body)
	require.NoError(t, err)
	require.Equal(t, png, data)

	// Tampered signature is refused.
	bad, err := http.Get(ts.URL + "/preview?id=" + id + "&expires=9999999999&sig=deadbeef")
	require.NoError(t, err)
	bad.Body.Close()
	require.Equal(t, http.StatusForbidden, bad.StatusCode)
}

func TestFilesFilter(t *testing.T) {
	ts, tr := newTestServer(t, 1024)
	tr.AcceptBatch([]tracker.FileInfo{
		{Name: "a.png", ContentType: "image/png"},
		{Name: "b.mp4", ContentType: "video/mp4"},
	})

	resp, err := http.Get(ts.URL + "/files?kind=video")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Files []model.UploadRecord `json:"files"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Files, 1)
	require.Equal(t, "b.mp4", out.Files[0].Name)
}
