package workflow

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"reflect"
	"sync"
	"testing"
	"time"

	"vehiclecam/internal/vehicle"
)

func testImage(t *testing.T) *vehicle.CapturedImage {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: 200, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return vehicle.NewCapturedImage(buf.Bytes(), "image/jpeg", 64, 48)
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

func countKind(events []Event, kind EventKind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestRecordCapture_AutoAdvance(t *testing.T) {
	s := NewState(7)
	img := testImage(t)

	var all []Event
	for _, view := range vehicle.AllViews {
		if s.ActiveView != view {
			t.Fatalf("Expected active view %s, got %s", view, s.ActiveView)
		}
		next, events, err := RecordCapture(s, view, img)
		if err != nil {
			t.Fatalf("RecordCapture(%s) failed: %v", view, err)
		}
		s = next
		all = append(all, events...)
	}

	if s.ActiveView != vehicle.ViewRight {
		t.Errorf("Expected to stay at last view, got %s", s.ActiveView)
	}
	if countKind(all, EventAutoAdvance) != 3 {
		t.Errorf("Expected 3 auto advances, got %v", kinds(all))
	}
	if countKind(all, EventComplete) != 1 {
		t.Errorf("Expected exactly one completion, got %v", kinds(all))
	}
	if !s.IsComplete() {
		t.Error("Expected complete")
	}
	if s.Photos[vehicle.ViewRear].View != vehicle.ViewRear {
		t.Error("Expected stored image to carry its view")
	}
	if img.View != vehicle.ViewUnset {
		t.Error("caller's image was modified")
	}
}

func TestRecordCapture_DoesNotMutateInput(t *testing.T) {
	s := NewState(1)
	next, _, err := RecordCapture(s, vehicle.ViewFront, testImage(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Photos) != 0 || s.ActiveView != vehicle.ViewFront {
		t.Errorf("input state was modified: %+v", s)
	}
	if len(next.Photos) != 1 {
		t.Errorf("Expected 1 photo, got %d", len(next.Photos))
	}
}

func TestRecordCapture_Errors(t *testing.T) {
	s := NewState(1)
	if _, _, err := RecordCapture(s, vehicle.ViewUnset, testImage(t)); !errors.Is(err, vehicle.ErrInvalidView) {
		t.Errorf("Expected ErrInvalidView, got %v", err)
	}
	if _, _, err := RecordCapture(s, vehicle.ViewSlot(5), testImage(t)); !errors.Is(err, vehicle.ErrInvalidView) {
		t.Errorf("Expected ErrInvalidView, got %v", err)
	}
	if _, _, err := RecordCapture(s, vehicle.ViewFront, nil); !errors.Is(err, ErrNoImage) {
		t.Errorf("Expected ErrNoImage, got %v", err)
	}
}

func TestStartEdit(t *testing.T) {
	s := NewState(3)
	img := testImage(t)
	s, _, _ = RecordCapture(s, vehicle.ViewFront, img)
	s, _, _ = RecordCapture(s, vehicle.ViewLeft, img)
	s, _, _ = OpenReview(s, vehicle.ViewFront)

	s, events, err := StartEdit(s, vehicle.ViewFront)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(kinds(events), []EventKind{EventReviewExited}) {
		t.Errorf("unexpected events %v", kinds(events))
	}
	if s.ActiveView != vehicle.ViewFront || !s.EditMode || s.Review != vehicle.ViewUnset {
		t.Errorf("unexpected state %+v", s)
	}

	// 撮り直しは自動送りしない
	replacement := testImage(t)
	s, events, err = RecordCapture(s, vehicle.ViewFront, replacement)
	if err != nil {
		t.Fatal(err)
	}
	if s.EditMode {
		t.Error("Expected edit mode cleared")
	}
	if s.ActiveView != vehicle.ViewFront {
		t.Errorf("Expected to stay at front, got %s", s.ActiveView)
	}
	if countKind(events, EventAutoAdvance) != 0 || countKind(events, EventEditFinished) != 1 {
		t.Errorf("unexpected events %v", kinds(events))
	}
	if s.Photos[vehicle.ViewFront].ID != replacement.ID {
		t.Error("Expected photo to be overwritten")
	}
}

func TestCompletion_ReArmed(t *testing.T) {
	s := NewState(9)
	img := testImage(t)
	var all []Event
	for _, view := range vehicle.AllViews {
		var events []Event
		s, events, _ = RecordCapture(s, view, img)
		all = append(all, events...)
	}

	// 完了中の上書きでは再通知しない
	s, _, _ = StartEdit(s, vehicle.ViewLeft)
	s, events, _ := RecordCapture(s, vehicle.ViewLeft, img)
	all = append(all, events...)
	if countKind(all, EventComplete) != 1 {
		t.Fatalf("Expected one completion before delete, got %v", kinds(all))
	}

	s, events, _ = DeletePhoto(s, vehicle.ViewRear)
	if s.IsComplete() || countKind(events, EventComplete) != 0 {
		t.Fatalf("Expected incomplete after delete, events %v", kinds(events))
	}

	s, events, _ = RecordCapture(s, vehicle.ViewRear, img)
	if countKind(events, EventComplete) != 1 {
		t.Errorf("Expected completion to be re-emitted, got %v", kinds(events))
	}
	if !s.IsComplete() {
		t.Error("Expected complete")
	}
}

func TestDeletePhoto_ReviewTarget(t *testing.T) {
	img := testImage(t)
	full := NewState(2)
	for _, view := range vehicle.AllViews {
		full, _, _ = RecordCapture(full, view, img)
	}

	tests := []struct {
		name       string
		keep       []vehicle.ViewSlot
		review     vehicle.ViewSlot
		wantReview vehicle.ViewSlot
		wantKind   EventKind
	}{
		{"次のスロットを優先", []vehicle.ViewSlot{1, 2, 3, 4}, vehicle.ViewLeft, vehicle.ViewRear, EventReviewTarget},
		{"次が無ければ前", []vehicle.ViewSlot{1, 2, 4}, vehicle.ViewRight, vehicle.ViewLeft, EventReviewTarget},
		{"空きを飛ばして次", []vehicle.ViewSlot{1, 4}, vehicle.ViewFront, vehicle.ViewRight, EventReviewTarget},
		{"最後の1枚", []vehicle.ViewSlot{3}, vehicle.ViewRear, vehicle.ViewUnset, EventEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := full
			for _, view := range vehicle.AllViews {
				if !containsView(tt.keep, view) {
					s, _, _ = DeletePhoto(s, view)
				}
			}
			s, _, err := OpenReview(s, tt.review)
			if err != nil {
				t.Fatal(err)
			}

			s, events, err := DeletePhoto(s, tt.review)
			if err != nil {
				t.Fatal(err)
			}
			if s.Review != tt.wantReview {
				t.Errorf("Expected review %s, got %s", tt.wantReview, s.Review)
			}
			if countKind(events, tt.wantKind) != 1 {
				t.Errorf("Expected %s, got %v", tt.wantKind, kinds(events))
			}
			if !s.ActiveView.Valid() {
				t.Errorf("active view left invalid: %d", s.ActiveView)
			}
		})
	}
}

func TestDeletePhoto_ReassignsActiveView(t *testing.T) {
	img := testImage(t)
	s := NewState(4)
	s, _, _ = RecordCapture(s, vehicle.ViewFront, img)
	s, _, _ = RecordCapture(s, vehicle.ViewLeft, img)
	s, _, _ = StartEdit(s, vehicle.ViewLeft)

	s, _, err := DeletePhoto(s, vehicle.ViewLeft)
	if err != nil {
		t.Fatal(err)
	}
	if s.ActiveView != vehicle.ViewFront {
		t.Errorf("Expected active view front, got %s", s.ActiveView)
	}
	if s.EditMode {
		t.Error("Expected edit mode cleared")
	}

	s, _, _ = DeletePhoto(s, vehicle.ViewFront)
	if s.ActiveView != vehicle.ViewFront {
		t.Errorf("Expected reset to front, got %s", s.ActiveView)
	}

	if _, _, err := DeletePhoto(s, vehicle.ViewFront); !errors.Is(err, ErrNoPhoto) {
		t.Errorf("Expected ErrNoPhoto, got %v", err)
	}
}

func containsView(views []vehicle.ViewSlot, v vehicle.ViewSlot) bool {
	for _, x := range views {
		if x == v {
			return true
		}
	}
	return false
}

func TestWorkflow_Listener(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Event
	)
	w := New(12, func(id vehicle.ID, e Event) {
		if id != 12 {
			t.Errorf("unexpected vehicle %s", id)
		}
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})

	img := testImage(t)
	for range vehicle.AllViews {
		if _, _, err := w.CaptureActive(img); err != nil {
			t.Fatal(err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if countKind(received, EventComplete) != 1 || countKind(received, EventAutoAdvance) != 3 {
		t.Errorf("unexpected events %v", kinds(received))
	}

	status := w.Status()
	if !status.Complete || len(status.Missing) != 0 || len(status.Captured) != 4 {
		t.Errorf("unexpected status %+v", status)
	}
	if n, total := w.Progress(); n != 4 || total != 4 {
		t.Errorf("Expected 4/4, got %d/%d", n, total)
	}
}

func TestWorkflow_ListenerMayCallBack(t *testing.T) {
	var w *Workflow
	w = New(5, func(_ vehicle.ID, e Event) {
		// リスナー内から状態を参照してもデッドロックしない
		_ = w.Status()
	})
	if _, err := w.RecordCapture(vehicle.ViewFront, testImage(t)); err != nil {
		t.Fatal(err)
	}
}

func TestWorkflow_ListenerOrder(t *testing.T) {
	var (
		mu       sync.Mutex
		received []EventKind
		hold     bool
	)
	entered := make(chan struct{})
	gate := make(chan struct{})

	w := New(3, func(_ vehicle.ID, e Event) {
		mu.Lock()
		received = append(received, e.Kind)
		block := hold
		hold = false
		mu.Unlock()
		if block {
			close(entered)
			<-gate
		}
	})

	img := testImage(t)
	for _, v := range []vehicle.ViewSlot{vehicle.ViewFront, vehicle.ViewLeft, vehicle.ViewRear} {
		if _, err := w.RecordCapture(v, img); err != nil {
			t.Fatal(err)
		}
	}
	mu.Lock()
	received = nil
	hold = true
	mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := w.RecordCapture(vehicle.ViewRight, img); err != nil {
			t.Error(err)
		}
	}()
	<-entered

	// 先の通知が終わるまで後の遷移の通知は届かない
	go func() {
		defer wg.Done()
		if _, err := w.DeletePhoto(vehicle.ViewFront); err != nil {
			t.Error(err)
		}
	}()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	early := append([]EventKind(nil), received...)
	mu.Unlock()
	if !reflect.DeepEqual(early, []EventKind{EventComplete}) {
		t.Errorf("events delivered out of order while blocked: %v", early)
	}

	close(gate)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(received) < 2 || received[0] != EventComplete || received[1] != EventPhotoDeleted {
		t.Errorf("unexpected event order %v", received)
	}
}

func TestWorkflow_PhotosIsCopy(t *testing.T) {
	w := New(5, nil)
	if _, err := w.RecordCapture(vehicle.ViewFront, testImage(t)); err != nil {
		t.Fatal(err)
	}
	photos := w.Photos()
	delete(photos, vehicle.ViewFront)
	if _, ok := w.Photo(vehicle.ViewFront); !ok {
		t.Error("Photos() exposed internal map")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(nil, nil)

	if _, err := r.Open(0); !errors.Is(err, vehicle.ErrInvalidID) {
		t.Errorf("Expected ErrInvalidID, got %v", err)
	}
	if _, err := r.Open(261); !errors.Is(err, vehicle.ErrInvalidID) {
		t.Errorf("Expected ErrInvalidID, got %v", err)
	}

	a, err := r.Open(7)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := r.Open(8)
	again, _ := r.Open(7)
	if a != again {
		t.Error("Expected same workflow for same vehicle")
	}

	if _, err := a.RecordCapture(vehicle.ViewFront, testImage(t)); err != nil {
		t.Fatal(err)
	}
	if n, _ := b.Progress(); n != 0 {
		t.Errorf("vehicles are not isolated: %d", n)
	}

	if !reflect.DeepEqual(r.IDs(), []vehicle.ID{7, 8}) {
		t.Errorf("unexpected ids %v", r.IDs())
	}

	if !r.Close(7) || r.Close(7) {
		t.Error("Expected Close to succeed once")
	}
	if _, ok := r.Get(7); ok {
		t.Error("Expected workflow to be discarded")
	}
	fresh, _ := r.Open(7)
	if n, _ := fresh.Progress(); n != 0 {
		t.Errorf("Expected fresh workflow, got %d photos", n)
	}
}

func TestSheetComposer(t *testing.T) {
	sc := NewSheetComposer(400, 300, 90)

	if _, err := sc.Compose(nil); !errors.Is(err, ErrEmptySheet) {
		t.Errorf("Expected ErrEmptySheet, got %v", err)
	}

	w := New(1, nil)
	if _, err := w.RecordCapture(vehicle.ViewRear, testImage(t)); err != nil {
		t.Fatal(err)
	}
	data, err := w.ContactSheet(sc)
	if err != nil {
		t.Fatalf("ContactSheet failed: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Expected JPEG: %v", err)
	}
	if img.Bounds().Dx() != 400 || img.Bounds().Dy() != 300 {
		t.Errorf("Expected 400x300, got %v", img.Bounds())
	}

	// 後面は左下のセル、右上のセルは空
	r, g, _, _ := img.At(100, 225).RGBA()
	if g>>8 < 150 {
		t.Errorf("Expected rear photo in bottom-left cell, got r=%d g=%d", r>>8, g>>8)
	}
	_, g, _, _ = img.At(300, 75).RGBA()
	if g>>8 > 100 {
		t.Errorf("Expected empty top-right cell, got g=%d", g>>8)
	}
}

func TestSheetComposer_Position(t *testing.T) {
	sc := NewSheetComposer(800, 600, 90)
	tests := []struct {
		view vehicle.ViewSlot
		want Position
	}{
		{vehicle.ViewFront, Position{0, 0, 400, 300}},
		{vehicle.ViewLeft, Position{400, 0, 400, 300}},
		{vehicle.ViewRear, Position{0, 300, 400, 300}},
		{vehicle.ViewRight, Position{400, 300, 400, 300}},
	}
	for _, tt := range tests {
		if got := sc.calculatePosition(tt.view); got != tt.want {
			t.Errorf("calculatePosition(%s) = %+v, want %+v", tt.view, got, tt.want)
		}
	}
}
