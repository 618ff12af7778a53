package upload

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehiclecam/internal/vehicle"
)

type progressEvent struct {
	view    vehicle.ViewSlot
	percent int
	status  Status
	message string
}

type recorder struct {
	mu     sync.Mutex
	events []progressEvent
}

func (r *recorder) one(percent int, status Status, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, progressEvent{percent: percent, status: status, message: message})
}

func (r *recorder) batch(view vehicle.ViewSlot, percent int, status Status, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, progressEvent{view: view, percent: percent, status: status, message: message})
}

func (r *recorder) snapshot() []progressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progressEvent(nil), r.events...)
}

func jpegImage(t *testing.T) *vehicle.CapturedImage {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for i := range img.Pix {
		img.Pix[i] = 180
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return vehicle.NewCapturedImage(buf.Bytes(), "image/jpeg", 32, 24)
}

func fullSet(t *testing.T) map[vehicle.ViewSlot]*vehicle.CapturedImage {
	photos := make(map[vehicle.ViewSlot]*vehicle.CapturedImage)
	for _, v := range vehicle.AllViews {
		photos[v] = jpegImage(t)
	}
	return photos
}

// fakeTransport は呼び出しを記録して決められた応答を返す
type fakeTransport struct {
	mu       sync.Mutex
	requests []Request
	respond  func(req Request) (*Response, error)
	inFlight atomic.Int32
	maxPar   atomic.Int32
	delay    time.Duration
}

func (f *fakeTransport) Upload(_ context.Context, req Request) (*Response, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxPar.Load()
		if n <= cur || f.maxPar.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.respond != nil {
		return f.respond(req)
	}
	return &Response{Status: http.StatusOK, Body: []byte(`{"message":"ok"}`)}, nil
}

func (f *fakeTransport) calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

func TestUploadOne_Success(t *testing.T) {
	transport := &fakeTransport{}
	p := NewPipeline(transport)
	rec := &recorder{}

	out := p.UploadOne(context.Background(), jpegImage(t), 7, "frontal", rec.one)

	assert.True(t, out.Success)
	assert.Equal(t, "ok", out.Message)
	assert.NoError(t, out.Err)

	calls := transport.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "frontal.jpg", calls[0].Filename)
	assert.Equal(t, vehicle.ID(7), calls[0].Vehicle)

	events := rec.snapshot()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, progressEvent{percent: 100, status: StatusSuccess, message: "ok"}, last)
}

func TestUploadOne_ProgressIsMonotonic(t *testing.T) {
	transport := &fakeTransport{delay: 120 * time.Millisecond}
	p := NewPipeline(transport, WithEstimator(RampEstimator{Interval: 5 * time.Millisecond, Step: 7, Ceiling: 90}))
	rec := &recorder{}

	out := p.UploadOne(context.Background(), jpegImage(t), 7, "trasero", rec.one)
	require.True(t, out.Success)

	events := rec.snapshot()
	require.Greater(t, len(events), 2)

	terminal := 0
	prev := -1
	for i, e := range events {
		assert.Greater(t, e.percent, prev, "event %d not increasing", i)
		prev = e.percent
		if e.percent == 100 {
			terminal++
			assert.Equal(t, len(events)-1, i, "terminal event must be last")
		} else {
			assert.LessOrEqual(t, e.percent, DefaultCeiling)
			assert.Equal(t, StatusUploading, e.status)
		}
	}
	assert.Equal(t, 1, terminal)
}

func TestUploadOne_ServerError(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"detail", `{"detail":"vehicle not found"}`, "vehicle not found"},
		{"message", `{"message":"disk full"}`, "disk full"},
		{"本文なし", ``, "upload failed with status 500"},
		{"JSON以外", `<html>oops</html>`, "upload failed with status 500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &fakeTransport{respond: func(Request) (*Response, error) {
				return &Response{Status: http.StatusInternalServerError, Body: []byte(tt.body)}, nil
			}}
			p := NewPipeline(transport)
			rec := &recorder{}

			out := p.UploadOne(context.Background(), jpegImage(t), 3, "frontal", rec.one)

			assert.False(t, out.Success)
			assert.Equal(t, tt.wantMsg, out.Message)
			var serverErr *ServerError
			require.ErrorAs(t, out.Err, &serverErr)
			assert.Equal(t, http.StatusInternalServerError, serverErr.Status)

			events := rec.snapshot()
			var terminal []progressEvent
			for _, e := range events {
				if e.percent == 100 {
					terminal = append(terminal, e)
				}
			}
			require.Len(t, terminal, 1)
			assert.Equal(t, StatusError, terminal[0].status)
			assert.Equal(t, tt.wantMsg, terminal[0].message)
		})
	}
}

func TestUploadOne_TransportError(t *testing.T) {
	transport := &fakeTransport{respond: func(Request) (*Response, error) {
		return nil, errors.New("connection refused")
	}}
	p := NewPipeline(transport)
	rec := &recorder{}

	out := p.UploadOne(context.Background(), jpegImage(t), 3, "frontal", rec.one)

	assert.False(t, out.Success)
	assert.Equal(t, transportFailureMessage, out.Message)
	var transportErr *TransportError
	require.ErrorAs(t, out.Err, &transportErr)

	events := rec.snapshot()
	assert.Equal(t, progressEvent{percent: 100, status: StatusError, message: transportFailureMessage}, events[len(events)-1])
}

func TestUploadOne_EmptyImage(t *testing.T) {
	transport := &fakeTransport{}
	p := NewPipeline(transport)
	rec := &recorder{}

	out := p.UploadOne(context.Background(), nil, 3, "frontal", rec.one)

	assert.False(t, out.Success)
	assert.ErrorIs(t, out.Err, ErrEmptyImage)
	assert.Empty(t, transport.calls())
	events := rec.snapshot()
	assert.Equal(t, 100, events[len(events)-1].percent)
}

func TestEncode(t *testing.T) {
	p := NewPipeline(&fakeTransport{})

	original := jpegImage(t)
	data, err := p.Encode(original)
	require.NoError(t, err)
	assert.Equal(t, original.Data, data, "JPEG は再エンコードしない")

	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	img.Set(1, 1, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	data, err = p.Encode(vehicle.NewCapturedImage(buf.Bytes(), "image/png", 10, 10))
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Width)

	_, err = p.Encode(vehicle.NewCapturedImage([]byte("not an image"), "image/png", 1, 1))
	assert.Error(t, err)
}

func TestUploadAll_MissingViews(t *testing.T) {
	transport := &fakeTransport{}
	p := NewPipeline(transport, WithBatchDelay(0))

	photos := fullSet(t)
	delete(photos, vehicle.ViewRear)

	result := p.UploadAll(context.Background(), photos, 7, nil)

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, ErrMissingViews)
	assert.Contains(t, result.Message, "trasero")
	assert.Empty(t, result.Results)
	assert.Empty(t, transport.calls(), "通信してはいけない")
}

func TestUploadAll_InvalidVehicle(t *testing.T) {
	transport := &fakeTransport{}
	p := NewPipeline(transport, WithBatchDelay(0))

	result := p.UploadAll(context.Background(), fullSet(t), 0, nil)

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, vehicle.ErrInvalidID)
	assert.Empty(t, transport.calls())
}

func TestUploadAll_Success(t *testing.T) {
	transport := &fakeTransport{}
	p := NewPipeline(transport, WithBatchDelay(time.Millisecond))
	rec := &recorder{}

	result := p.UploadAll(context.Background(), fullSet(t), 42, rec.batch)

	require.True(t, result.Success, result.Message)
	require.Len(t, result.Results, 4)
	for i, view := range vehicle.AllViews {
		assert.Equal(t, view, result.Results[i].View)
		assert.Equal(t, view.Tag(), result.Results[i].ViewTag)
	}

	calls := transport.calls()
	require.Len(t, calls, 4)
	want := []string{"frontal.jpg", "lateral_izquierdo.jpg", "trasero.jpg", "lateral_derecho.jpg"}
	for i, c := range calls {
		assert.Equal(t, want[i], c.Filename)
	}
	assert.Equal(t, int32(1), transport.maxPar.Load(), "アップロードは逐次でなければならない")

	terminal := map[vehicle.ViewSlot]int{}
	for _, e := range rec.snapshot() {
		if e.percent == 100 {
			terminal[e.view]++
		}
	}
	assert.Len(t, terminal, 4)
	for _, n := range terminal {
		assert.Equal(t, 1, n)
	}
}

func TestUploadAll_StopsAtFirstFailure(t *testing.T) {
	transport := &fakeTransport{respond: func(req Request) (*Response, error) {
		if req.ViewTag == vehicle.ViewLeft.Tag() {
			return &Response{Status: http.StatusBadRequest, Body: []byte(`{"detail":"blurry"}`)}, nil
		}
		return &Response{Status: http.StatusOK}, nil
	}}
	p := NewPipeline(transport, WithBatchDelay(0))

	result := p.UploadAll(context.Background(), fullSet(t), 7, nil)

	assert.False(t, result.Success)
	assert.Equal(t, "lateral_izquierdo failed: blurry", result.Message)
	require.Len(t, result.Results, 2)
	assert.True(t, result.Results[0].Success)
	assert.False(t, result.Results[1].Success)
	assert.Len(t, transport.calls(), 2, "後続のビューは送らない")
}

func TestUploadAll_CanceledDuringDelay(t *testing.T) {
	transport := &fakeTransport{}
	p := NewPipeline(transport, WithBatchDelay(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result := p.UploadAll(ctx, fullSet(t), 7, nil)

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Len(t, result.Results, 1)
	// 送信していないビューを失敗扱いにしない
	assert.Equal(t, "batch canceled before "+vehicle.ViewLeft.Tag()+": context canceled", result.Message)
	assert.NotContains(t, result.Message, "failed")
}

func TestHTTPTransport(t *testing.T) {
	var (
		gotVehicle  string
		gotFilename string
		gotType     string
		gotBytes    []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotVehicle = r.FormValue("vehiculo")
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotFilename = header.Filename
		gotType = header.Header.Get("Content-Type")
		gotBytes, _ = io.ReadAll(file)

		if gotVehicle == "013" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"detail":"vehicle locked"}`))
			return
		}
		_, _ = w.Write([]byte(`{"message":"saved"}`))
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(server.URL+"/", nil)
	require.NoError(t, err)
	p := NewPipeline(transport)
	img := jpegImage(t)

	out := p.UploadOne(context.Background(), img, 7, "lateral_derecho", nil)
	require.True(t, out.Success, out.Message)
	assert.Equal(t, "saved", out.Message)
	assert.Equal(t, "007", gotVehicle)
	assert.Equal(t, "lateral_derecho.jpg", gotFilename)
	assert.Equal(t, "image/jpeg", gotType)
	assert.Equal(t, img.Data, gotBytes)

	out = p.UploadOne(context.Background(), img, 13, "frontal", nil)
	assert.False(t, out.Success)
	assert.Equal(t, "vehicle locked", out.Message)
	assert.Equal(t, http.StatusUnprocessableEntity, out.Status)
}

func TestHTTPTransport_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	transport, err := NewHTTPTransport(url, nil)
	require.NoError(t, err)

	out := NewPipeline(transport).UploadOne(context.Background(), jpegImage(t), 7, "frontal", nil)
	assert.False(t, out.Success)
	var transportErr *TransportError
	assert.ErrorAs(t, out.Err, &transportErr)
}

func TestNewHTTPTransport_InvalidURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "/relative"} {
		_, err := NewHTTPTransport(raw, nil)
		assert.Error(t, err, raw)
	}
}

func TestRampEstimator_StopsAtCeiling(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int
	)
	stop := RampEstimator{Interval: time.Millisecond, Step: 40, Ceiling: 90}.Start(context.Background(), func(p int) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})
	time.Sleep(50 * time.Millisecond)
	stop()
	stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{40, 80, 90}, seen)
}
