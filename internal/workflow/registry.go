package workflow

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"vehiclecam/internal/vehicle"
)

// Registry は車両ごとにワークフローを分離して保持する
type Registry struct {
	mu       sync.RWMutex
	flows    map[vehicle.ID]*Workflow
	listener Listener
	log      *zap.Logger
}

// NewRegistry は新しいRegistryを作成する
func NewRegistry(listener Listener, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		flows:    make(map[vehicle.ID]*Workflow),
		listener: listener,
		log:      log,
	}
}

// Open は車両のワークフローを返す。無ければ作成する
func (r *Registry) Open(id vehicle.ID) (*Workflow, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: %d", vehicle.ErrInvalidID, int(id))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.flows[id]; ok {
		return w, nil
	}

	w := New(id, r.listener)
	r.flows[id] = w
	r.log.Info("撮影ワークフローを開始しました", zap.String("vehicle", id.String()))
	return w, nil
}

// Get は既存のワークフローを返す
func (r *Registry) Get(id vehicle.ID) (*Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.flows[id]
	return w, ok
}

// Close はワークフローと撮影済み写真を破棄する
func (r *Registry) Close(id vehicle.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.flows[id]
	if !ok {
		return false
	}
	delete(r.flows, id)

	captured, _ := w.Progress()
	r.log.Info("撮影ワークフローを破棄しました",
		zap.String("vehicle", id.String()),
		zap.Int("captured", captured))
	return true
}

// IDs は保持している車両番号を昇順で返す
func (r *Registry) IDs() []vehicle.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]vehicle.ID, 0, len(r.flows))
	for id := range r.flows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
