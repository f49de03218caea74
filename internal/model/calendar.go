// Package model はドメインモデルを定義する。
package model

import "time"

// EventStatus はカレンダーイベントの確定状態。
type EventStatus string

const (
	// EventStatusPending はサーバー確定前の楽観的コピーであることを示す。
	EventStatusPending EventStatus = "pending"
	// EventStatusConfirmed はサーバーが確定したイベントであることを示す。
	EventStatusConfirmed EventStatus = "confirmed"
)

// MirrorStatus はミラー先アカウントでの同期状態。
type MirrorStatus string

const (
	MirrorStatusPending MirrorStatus = "pending"
	MirrorStatusActive  MirrorStatus = "active"
	MirrorStatusError   MirrorStatus = "error"
)

// Mirror はイベントを別アカウントへ投影したコピーを表す。
// 同期状態は正規イベントとは独立に追跡される。
type Mirror struct {
	AccountID string       `json:"account_id"`
	Status    MirrorStatus `json:"status"`
}

// CalendarEvent は複数アカウントにミラーされるカレンダーイベント。
type CalendarEvent struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
	Description string      `json:"description,omitempty"`
	Location    string      `json:"location,omitempty"`
	Status      EventStatus `json:"status"`
	Mirrors     []Mirror    `json:"mirrors,omitempty"`
}

// RecordID はイベントの識別子を返す。
func (e CalendarEvent) RecordID() string {
	return e.ID
}

// EventDraft は新規作成するイベントの入力値。
type EventDraft struct {
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
}

// EventPatch はイベントの部分更新を表す。
// nilのフィールドは「指定なし」を意味し、既存の値を変更しない。
type EventPatch struct {
	Title       *string    `json:"title,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	Description *string    `json:"description,omitempty"`
	Location    *string    `json:"location,omitempty"`
}

// ApplyTo は指定されたフィールドのみをイベントに適用した新しい値を返す。
func (p EventPatch) ApplyTo(e CalendarEvent) CalendarEvent {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Start != nil {
		e.Start = *p.Start
	}
	if p.End != nil {
		e.End = *p.End
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Location != nil {
		e.Location = *p.Location
	}
	return e
}

// IsEmpty は適用するフィールドが1つもないかを返す。
func (p EventPatch) IsEmpty() bool {
	return p.Title == nil && p.Start == nil && p.End == nil && p.Description == nil && p.Location == nil
}
