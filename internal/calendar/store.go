// Package calendar はローカルに表示するカレンダーイベント一覧を保持し、
// 楽観的適用 → API呼び出し → 確定または巻き戻し の順で変更を扱う。
package calendar

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/RamXX/tminus-sub003/internal/classify"
	"github.com/RamXX/tminus-sub003/internal/metrics"
	"github.com/RamXX/tminus-sub003/internal/model"
	"github.com/RamXX/tminus-sub003/internal/optimistic"
	"github.com/RamXX/tminus-sub003/internal/retry"
	"github.com/RamXX/tminus-sub003/internal/telemetry"
)

// ErrClosed はCloseされたStoreへの操作を表す。
var ErrClosed = errors.New("calendar: store is closed")

// EventAPI はバックエンドのイベントAPI。
type EventAPI interface {
	ListEvents(ctx context.Context) ([]model.CalendarEvent, error)
	CreateEvent(ctx context.Context, draft model.EventDraft) (model.CalendarEvent, error)
	UpdateEvent(ctx context.Context, id string, patch model.EventPatch) (model.CalendarEvent, error)
	DeleteEvent(ctx context.Context, id string) error
}

// Sanitizer はユーザー入力のテキストからマークアップを取り除く。
type Sanitizer interface {
	Sanitize(raw string) string
}

// Config はStoreのリトライ設定。
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// mutateFunc は一覧を受け取り新しい一覧を返す。入力は変更しない。
type mutateFunc func([]model.CalendarEvent) []model.CalendarEvent

// change は通信中の変更がある間に一覧へ加えた変更の記録。
// owner は楽観的変更を行った変更のID。確定した結果や再読み込みは0。
type change struct {
	seq   uint64
	owner uint64
	fn    mutateFunc
}

// pendingMutation は結果待ちの変更。from はその変更が最初に記録された位置。
type pendingMutation struct {
	from   uint64
	tempID string
}

// Store はローカルのイベント一覧。
//
// 通信中の変更がある間は、最も古い変更の直前のスナップショット(base)と、
// それ以降の変更の記録(journal)を保持し、events は常に base に journal を順に適用した結果と一致する。
// 失敗した変更は自身の記録だけを取り除いてスナップショットから再適用するため、
// 他の変更の確定結果が巻き戻されることはない。
// Close後に完了したAPI呼び出しの結果は一覧に反映しない。
type Store struct {
	api       EventAPI
	sanitizer Sanitizer
	sink      telemetry.Sink
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	config    Config
	sleep     retry.SleepFunc

	mu       sync.Mutex
	events   []model.CalendarEvent
	base     []model.CalendarEvent
	journal  []change
	seq      uint64
	nextID   uint64
	inflight map[uint64]pendingMutation
	closed   bool
}

// NewStore はStoreを生成する。
func NewStore(api EventAPI, sanitizer Sanitizer, sink telemetry.Sink, collector metrics.MetricsCollector, logger *slog.Logger, config Config) *Store {
	if sink == nil {
		sink = telemetry.Nop{}
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Store{
		api:       api,
		sanitizer: sanitizer,
		sink:      sink,
		metrics:   collector,
		logger:    logger,
		config:    config,
		events:    []model.CalendarEvent{},
		inflight:  map[uint64]pendingMutation{},
	}
}

// Events は現在の一覧のコピーを返す。
func (s *Store) Events() []model.CalendarEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return optimistic.Snapshot(s.events)
}

// Close は以降の完了通知を破棄するよう印を付ける。複数回呼んでもよい。
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Refresh はバックエンドの一覧で置き換える。結果待ちの一時レコードだけを末尾に残す。
// 一覧に作成済みのイベントが含まれていても、作成の確定時にReplaceが一時レコードを畳むためIDは重複しない。
func (s *Store) Refresh(ctx context.Context) error {
	list, err := callAPI(ctx, s, "list", func(ctx context.Context) ([]model.CalendarEvent, error) {
		return s.api.ListEvents(ctx)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	server := optimistic.Snapshot(list)
	// 再適用しても同じ結果になるよう、残す一時IDはこの時点で決める
	keep := s.pendingTempIDs()
	s.record(0, func(current []model.CalendarEvent) []model.CalendarEvent {
		next := optimistic.Snapshot(server)
		if next == nil {
			next = []model.CalendarEvent{}
		}
		for _, e := range current {
			if _, ok := keep[e.ID]; !ok {
				continue
			}
			if _, dup := optimistic.Find(next, e.ID); !dup {
				next = optimistic.Add(next, e)
			}
		}
		return next
	})
	return nil
}

// Create は一時IDのpendingイベントを即座に一覧へ追加し、作成APIの結果で確定させる。
// 失敗した場合は追加前の一覧に戻し、*retry.Errorを返す。
func (s *Store) Create(ctx context.Context, draft model.EventDraft) (model.CalendarEvent, error) {
	draft = s.sanitizeDraft(draft)
	if draft.Title == "" {
		return model.CalendarEvent{}, model.NewInvalidRequestError("title")
	}
	if !draft.End.IsZero() && draft.End.Before(draft.Start) {
		return model.CalendarEvent{}, model.NewInvalidRequestError("end must not be before start")
	}

	temp := model.CalendarEvent{
		ID:          optimistic.NewTempID(),
		Title:       draft.Title,
		Start:       draft.Start,
		End:         draft.End,
		Description: draft.Description,
		Location:    draft.Location,
		Status:      model.EventStatusPending,
	}
	id, err := s.apply(temp.ID, func(list []model.CalendarEvent) []model.CalendarEvent {
		return optimistic.Add(list, temp)
	})
	if err != nil {
		return model.CalendarEvent{}, err
	}

	created, err := callAPI(ctx, s, "create", func(ctx context.Context) (model.CalendarEvent, error) {
		return s.api.CreateEvent(ctx, draft)
	})
	return created, s.settle(id, "create", err, func(list []model.CalendarEvent) []model.CalendarEvent {
		next, _ := optimistic.Replace(list, temp.ID, created)
		return next
	})
}

// Update は指定フィールドのみを即座に反映し、更新APIの結果で確定させる。
func (s *Store) Update(ctx context.Context, id string, patch model.EventPatch) (model.CalendarEvent, error) {
	if optimistic.IsTempID(id) {
		return model.CalendarEvent{}, model.NewEventPendingError()
	}
	patch = s.sanitizePatch(patch)
	if patch.Title != nil && *patch.Title == "" {
		return model.CalendarEvent{}, model.NewInvalidRequestError("title")
	}
	if patch.IsEmpty() {
		if e, ok := s.find(id); ok {
			return e, nil
		}
		return model.CalendarEvent{}, model.NewEventNotFoundError(id)
	}
	if _, ok := s.find(id); !ok {
		return model.CalendarEvent{}, model.NewEventNotFoundError(id)
	}

	mutation, err := s.apply("", func(list []model.CalendarEvent) []model.CalendarEvent {
		return optimistic.MergeUpdate(list, id, patch)
	})
	if err != nil {
		return model.CalendarEvent{}, err
	}

	updated, err := callAPI(ctx, s, "update", func(ctx context.Context) (model.CalendarEvent, error) {
		return s.api.UpdateEvent(ctx, id, patch)
	})
	return updated, s.settle(mutation, "update", err, func(list []model.CalendarEvent) []model.CalendarEvent {
		next, _ := optimistic.Replace(list, id, updated)
		return next
	})
}

// Delete はイベントを即座に一覧から除き、削除APIの結果で確定させる。
func (s *Store) Delete(ctx context.Context, id string) error {
	if optimistic.IsTempID(id) {
		return model.NewEventPendingError()
	}
	if _, ok := s.find(id); !ok {
		return model.NewEventNotFoundError(id)
	}

	remove := func(list []model.CalendarEvent) []model.CalendarEvent {
		return optimistic.Delete(list, id)
	}
	mutation, err := s.apply("", remove)
	if err != nil {
		return err
	}

	_, err = callAPI(ctx, s, "delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.api.DeleteEvent(ctx, id)
	})
	return s.settle(mutation, "delete", err, remove)
}

// apply は楽観的変更を適用し、結果待ちの変更として登録する。
// 通信中の変更が他にない場合は、適用前の一覧を新しいスナップショットにする。
func (s *Store) apply(tempID string, mutate mutateFunc) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if len(s.inflight) == 0 {
		s.base = optimistic.Snapshot(s.events)
		s.journal = nil
	}
	s.nextID++
	id := s.nextID
	s.inflight[id] = pendingMutation{from: s.seq, tempID: tempID}
	s.record(id, mutate)
	return id, nil
}

// record は一覧に変更を適用し、通信中の変更があればjournalに残す。s.muを保持して呼ぶこと。
func (s *Store) record(owner uint64, fn mutateFunc) {
	s.events = fn(s.events)
	if len(s.inflight) > 0 {
		s.journal = append(s.journal, change{seq: s.seq, owner: owner, fn: fn})
	}
	s.seq++
}

// settle はAPI呼び出しの結果を一覧に反映する。
// 失敗時はスナップショットから、この変更の記録を除いたjournalを再適用する。
// 成功時はreconcileを確定した変更として記録する。Close後は一覧に触れない。
func (s *Store) settle(id uint64, operation string, callErr error, reconcile mutateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.inflight[id]
	delete(s.inflight, id)
	defer s.compact()

	if s.closed {
		s.logger.Debug("Close後に完了した変更を破棄しました", slog.String("operation", operation))
		return callErr
	}
	if callErr != nil {
		s.rollback(id)
		s.metrics.RecordOptimisticMutation(operation, "rolled_back")
		return callErr
	}
	if m.tempID != "" {
		if _, ok := optimistic.Find(s.events, m.tempID); !ok {
			s.logger.Warn("確定済みの一時イベントを再度確定しようとしました", slog.String("temp_id", m.tempID))
		}
	}
	if reconcile != nil {
		s.record(0, reconcile)
	}
	s.metrics.RecordOptimisticMutation(operation, "confirmed")
	return nil
}

// rollback はidが記録した変更をjournalから取り除き、スナップショットから一覧を作り直す。
func (s *Store) rollback(id uint64) {
	kept := make([]change, 0, len(s.journal))
	next := optimistic.Snapshot(s.base)
	for _, c := range s.journal {
		if c.owner == id {
			continue
		}
		next = c.fn(next)
		kept = append(kept, c)
	}
	s.journal = kept
	s.events = next
}

// compact は結果待ちの変更が参照しなくなった記録をスナップショットへ畳み込む。
func (s *Store) compact() {
	if len(s.inflight) == 0 {
		s.base = nil
		s.journal = nil
		return
	}
	oldest := s.seq
	for _, m := range s.inflight {
		if m.from < oldest {
			oldest = m.from
		}
	}
	i := 0
	for ; i < len(s.journal) && s.journal[i].seq < oldest; i++ {
		s.base = s.journal[i].fn(s.base)
	}
	s.journal = s.journal[i:]
}

// pendingTempIDs は作成が結果待ちの一時IDの集合を返す。s.muを保持して呼ぶこと。
func (s *Store) pendingTempIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(s.inflight))
	for _, m := range s.inflight {
		if m.tempID != "" {
			ids[m.tempID] = struct{}{}
		}
	}
	return ids
}

func (s *Store) find(id string) (model.CalendarEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return optimistic.Find(s.events, id)
}

func (s *Store) sanitizeDraft(d model.EventDraft) model.EventDraft {
	d.Title = s.clean(d.Title)
	d.Description = s.clean(d.Description)
	d.Location = s.clean(d.Location)
	return d
}

func (s *Store) sanitizePatch(p model.EventPatch) model.EventPatch {
	p.Title = s.cleanPtr(p.Title)
	p.Description = s.cleanPtr(p.Description)
	p.Location = s.cleanPtr(p.Location)
	return p
}

func (s *Store) clean(raw string) string {
	if s.sanitizer == nil {
		return strings.TrimSpace(raw)
	}
	return s.sanitizer.Sanitize(raw)
}

func (s *Store) cleanPtr(raw *string) *string {
	if raw == nil {
		return nil
	}
	v := s.clean(*raw)
	return &v
}

// callAPI はfnを分類付きリトライで実行し、テレメトリと処理時間を記録する。
func callAPI[T any](ctx context.Context, s *Store, operation string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordOperationLatency("event_"+operation, time.Since(start))
	}()
	return telemetry.Retry(ctx, s.sink, fn, classify.Classifier{Origin: classify.OriginAPI}.Classify, retry.Options{
		MaxRetries: s.config.MaxRetries,
		BaseDelay:  s.config.BaseDelay,
		Sleep:      s.sleep,
		Logger:     s.logger,
	})
}
