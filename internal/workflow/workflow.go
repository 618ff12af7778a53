// Package workflow は1台分の4方向撮影の進捗を管理する
//
// 遷移は State を受け取って新しい State とイベントを返す純粋関数で、
// Workflow はそれをミューテックスで直列化して Listener へ通知する。
package workflow

import (
	"sync"

	"vehiclecam/internal/vehicle"
)

// Listener はイベントを受け取る。状態のロック外で、遷移が適用された順に呼ばれる
// 同じワークフローの遷移をリスナー内から呼んではならない
type Listener func(id vehicle.ID, event Event)

// Status はワークフローの観測用スナップショット
type Status struct {
	Vehicle    vehicle.ID         `json:"vehicle"`
	ActiveView vehicle.ViewSlot   `json:"active_view"`
	EditMode   bool               `json:"edit_mode"`
	Review     vehicle.ViewSlot   `json:"review,omitempty"`
	Captured   []vehicle.ViewSlot `json:"captured"`
	Missing    []vehicle.ViewSlot `json:"missing"`
	Complete   bool               `json:"complete"`
}

// Workflow は1台分の撮影進捗をスレッドセーフに管理する
type Workflow struct {
	mu       sync.Mutex
	state    State
	listener Listener

	// 通知の順序を遷移の順序に揃える
	notifyMu sync.Mutex
}

// New は新しいWorkflowを作成する。listener は nil でもよい
func New(id vehicle.ID, listener Listener) *Workflow {
	return &Workflow{
		state:    NewState(id),
		listener: listener,
	}
}

// apply は遷移を適用してイベントを通知する
func (w *Workflow) apply(transition func(State) (State, []Event, error)) ([]Event, error) {
	w.mu.Lock()
	next, events, err := transition(w.state)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	w.state = next
	id := next.Vehicle

	// 状態ロックを手放す前に通知ロックを取り、次の遷移の通知を後ろに並ばせる
	w.notifyMu.Lock()
	w.mu.Unlock()
	defer w.notifyMu.Unlock()

	if w.listener != nil {
		for _, e := range events {
			w.listener(id, e)
		}
	}
	return events, nil
}

// Vehicle は車両番号を返す
func (w *Workflow) Vehicle() vehicle.ID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Vehicle
}

// RecordCapture は撮影画像をビューに保存する
func (w *Workflow) RecordCapture(view vehicle.ViewSlot, img *vehicle.CapturedImage) ([]Event, error) {
	return w.apply(func(s State) (State, []Event, error) {
		return RecordCapture(s, view, img)
	})
}

// CaptureActive はアクティブビューに画像を保存する
func (w *Workflow) CaptureActive(img *vehicle.CapturedImage) (vehicle.ViewSlot, []Event, error) {
	var view vehicle.ViewSlot
	events, err := w.apply(func(s State) (State, []Event, error) {
		view = s.ActiveView
		return RecordCapture(s, view, img)
	})
	return view, events, err
}

// DeletePhoto はビューの写真を削除する
func (w *Workflow) DeletePhoto(view vehicle.ViewSlot) ([]Event, error) {
	return w.apply(func(s State) (State, []Event, error) {
		return DeletePhoto(s, view)
	})
}

// StartEdit はビューの撮り直しを開始する
func (w *Workflow) StartEdit(view vehicle.ViewSlot) ([]Event, error) {
	return w.apply(func(s State) (State, []Event, error) {
		return StartEdit(s, view)
	})
}

// OpenReview はビューのレビューを開く
func (w *Workflow) OpenReview(view vehicle.ViewSlot) ([]Event, error) {
	return w.apply(func(s State) (State, []Event, error) {
		return OpenReview(s, view)
	})
}

// CloseReview はレビューを閉じる
func (w *Workflow) CloseReview() []Event {
	events, _ := w.apply(func(s State) (State, []Event, error) {
		next, events := CloseReview(s)
		return next, events, nil
	})
	return events
}

// SelectView はアクティブビューを手動で切り替える
func (w *Workflow) SelectView(view vehicle.ViewSlot) error {
	_, err := w.apply(func(s State) (State, []Event, error) {
		next, err := SelectView(s, view)
		return next, nil, err
	})
	return err
}

// IsComplete は4つのビューが揃っているかを返す
func (w *Workflow) IsComplete() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.IsComplete()
}

// Photo はビューの写真を返す
func (w *Workflow) Photo(view vehicle.ViewSlot) (*vehicle.CapturedImage, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	img, ok := w.state.Photos[view]
	return img, ok
}

// Photos は撮影済み写真のコピーを返す
func (w *Workflow) Photos() map[vehicle.ViewSlot]*vehicle.CapturedImage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.clone().Photos
}

// Progress は撮影済み数と必要数を返す
func (w *Workflow) Progress() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.state.Photos), vehicle.ViewCount
}

// Status は現在の状態を返す
func (w *Workflow) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		Vehicle:    w.state.Vehicle,
		ActiveView: w.state.ActiveView,
		EditMode:   w.state.EditMode,
		Review:     w.state.Review,
		Captured:   w.state.Captured(),
		Missing:    w.state.Missing(),
		Complete:   w.state.IsComplete(),
	}
}
