package workflow

import (
	"errors"
	"fmt"

	"vehiclecam/internal/vehicle"
)

// 遷移のエラー
var (
	ErrNoImage = errors.New("no image to record")
	ErrNoPhoto = errors.New("no photo for this view")
)

// EventKind はワークフローが発行するシグナルの種類
type EventKind string

const (
	EventAutoAdvance  EventKind = "auto_advance"  // 次のビューへ自動送り
	EventEditFinished EventKind = "edit_finished" // 撮り直し完了
	EventComplete     EventKind = "complete"      // 4/4 揃った
	EventPhotoDeleted EventKind = "photo_deleted" // 写真を削除
	EventReviewTarget EventKind = "review_target" // レビュー対象の変更
	EventEmpty        EventKind = "empty"         // レビュー中に写真が無くなった
	EventReviewExited EventKind = "review_exited" // レビュー・ギャラリーを閉じる
)

// Event はUI層へ通知するシグナル
type Event struct {
	Kind EventKind        `json:"kind"`
	View vehicle.ViewSlot `json:"view,omitempty"`
}

// State は1台分の撮影進捗
// 遷移関数は値を受け取り新しい値を返し、引数を変更しない
type State struct {
	Vehicle    vehicle.ID
	Photos     map[vehicle.ViewSlot]*vehicle.CapturedImage
	ActiveView vehicle.ViewSlot
	EditMode   bool
	Review     vehicle.ViewSlot // レビュー中のビュー (ViewUnset なら非表示)

	// 4/4 到達を通知済みか。4未満に戻ると解除される
	announced bool
}

// NewState は前面から始まる空の状態を作成する
func NewState(id vehicle.ID) State {
	return State{
		Vehicle:    id,
		Photos:     make(map[vehicle.ViewSlot]*vehicle.CapturedImage, vehicle.ViewCount),
		ActiveView: vehicle.ViewFront,
	}
}

func (s State) clone() State {
	photos := make(map[vehicle.ViewSlot]*vehicle.CapturedImage, vehicle.ViewCount)
	for v, img := range s.Photos {
		photos[v] = img
	}
	s.Photos = photos
	return s
}

// IsComplete は4つのビューが全て揃っているかを返す
func (s State) IsComplete() bool {
	for _, v := range vehicle.AllViews {
		if s.Photos[v] == nil {
			return false
		}
	}
	return true
}

// Captured は撮影済みのビューをスロット順で返す
func (s State) Captured() []vehicle.ViewSlot {
	views := make([]vehicle.ViewSlot, 0, vehicle.ViewCount)
	for _, v := range vehicle.AllViews {
		if s.Photos[v] != nil {
			views = append(views, v)
		}
	}
	return views
}

// Missing は未撮影のビューをスロット順で返す
func (s State) Missing() []vehicle.ViewSlot {
	views := make([]vehicle.ViewSlot, 0, vehicle.ViewCount)
	for _, v := range vehicle.AllViews {
		if s.Photos[v] == nil {
			views = append(views, v)
		}
	}
	return views
}

// settle は完了状態を再評価する。4/4 への遷移時だけ EventComplete を返す
func (s *State) settle() []Event {
	if !s.IsComplete() {
		s.announced = false
		return nil
	}
	if s.announced {
		return nil
	}
	s.announced = true
	return []Event{{Kind: EventComplete}}
}

// adjacent は view の次の撮影済みスロット、無ければ前の撮影済みスロットを返す
func (s State) adjacent(view vehicle.ViewSlot) vehicle.ViewSlot {
	for v := view + 1; v <= vehicle.ViewRight; v++ {
		if s.Photos[v] != nil {
			return v
		}
	}
	for v := view - 1; v >= vehicle.ViewFront; v-- {
		if s.Photos[v] != nil {
			return v
		}
	}
	return vehicle.ViewUnset
}

func checkView(view vehicle.ViewSlot) error {
	if !view.Valid() {
		return fmt.Errorf("%w: %d", vehicle.ErrInvalidView, int(view))
	}
	return nil
}

// RecordCapture は画像をビューに保存する (上書き可)
// 撮り直し中なら撮り直しを終えて送らない。そうでなければ最後のビュー以外で次へ送る
func RecordCapture(s State, view vehicle.ViewSlot, img *vehicle.CapturedImage) (State, []Event, error) {
	if err := checkView(view); err != nil {
		return s, nil, err
	}
	if img == nil || len(img.Data) == 0 {
		return s, nil, ErrNoImage
	}

	next := s.clone()
	stored := *img
	stored.View = view
	next.Photos[view] = &stored

	var events []Event
	switch {
	case next.EditMode:
		next.EditMode = false
		next.ActiveView = view
		events = append(events, Event{Kind: EventEditFinished, View: view})
	case !view.IsLast():
		next.ActiveView = view.Next()
		events = append(events, Event{Kind: EventAutoAdvance, View: next.ActiveView})
	default:
		next.ActiveView = view
	}

	events = append(events, next.settle()...)
	return next, events, nil
}

// DeletePhoto はビューの写真を削除する
// レビュー中のビューを削除した場合は隣のスロットへ移り、無ければ EventEmpty を返す
func DeletePhoto(s State, view vehicle.ViewSlot) (State, []Event, error) {
	if err := checkView(view); err != nil {
		return s, nil, err
	}
	if s.Photos[view] == nil {
		return s, nil, fmt.Errorf("%w: %s", ErrNoPhoto, view)
	}

	next := s.clone()
	delete(next.Photos, view)
	events := []Event{{Kind: EventPhotoDeleted, View: view}}

	target := next.adjacent(view)
	if next.Review == view {
		if target == vehicle.ViewUnset {
			next.Review = vehicle.ViewUnset
			events = append(events, Event{Kind: EventEmpty})
		} else {
			next.Review = target
			events = append(events, Event{Kind: EventReviewTarget, View: target})
		}
	}

	if next.ActiveView == view {
		if target == vehicle.ViewUnset {
			target = vehicle.ViewFront
		}
		next.ActiveView = target
		next.EditMode = false
	}

	events = append(events, next.settle()...)
	return next, events, nil
}

// StartEdit はビューを撮り直し対象にする。レビュー・ギャラリーは閉じる
func StartEdit(s State, view vehicle.ViewSlot) (State, []Event, error) {
	if err := checkView(view); err != nil {
		return s, nil, err
	}

	next := s.clone()
	next.ActiveView = view
	next.EditMode = true
	next.Review = vehicle.ViewUnset
	return next, []Event{{Kind: EventReviewExited}}, nil
}

// OpenReview は撮影済みビューのレビューを開く
func OpenReview(s State, view vehicle.ViewSlot) (State, []Event, error) {
	if err := checkView(view); err != nil {
		return s, nil, err
	}
	if s.Photos[view] == nil {
		return s, nil, fmt.Errorf("%w: %s", ErrNoPhoto, view)
	}

	next := s.clone()
	next.Review = view
	return next, []Event{{Kind: EventReviewTarget, View: view}}, nil
}

// CloseReview はレビューを閉じる
func CloseReview(s State) (State, []Event) {
	if s.Review == vehicle.ViewUnset {
		return s, nil
	}
	next := s.clone()
	next.Review = vehicle.ViewUnset
	return next, []Event{{Kind: EventReviewExited}}
}

// SelectView は手動でアクティブビューを切り替える。撮り直しは解除する
func SelectView(s State, view vehicle.ViewSlot) (State, error) {
	if err := checkView(view); err != nil {
		return s, err
	}
	next := s.clone()
	next.ActiveView = view
	next.EditMode = false
	return next, nil
}
