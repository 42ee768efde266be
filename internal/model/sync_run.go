package model

import (
	"time"

	"gorm.io/datatypes"
)

// ==================== 运行状态 ====================

// RunState 单次运行的状态机
// Idle -> Pulling -> Diffing -> Pushing -> Idle，致命错误进入 Error
type RunState string

const (
	RunStateIdle    RunState = "idle"
	RunStatePulling RunState = "pulling"
	RunStateDiffing RunState = "diffing"
	RunStatePushing RunState = "pushing"
	RunStateError   RunState = "error"
)

// RunKind 运行类型
type RunKind string

const (
	RunKindPull            RunKind = "pull"
	RunKindFullSync        RunKind = "full_sync"
	RunKindIncrementalPush RunKind = "incremental_push"
	RunKindBulkUpload      RunKind = "bulk_upload"
)

// Outcome 单条结果
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// ==================== 运行报告 ====================

// ReportItem 报告中的一行
type ReportItem struct {
	Index       int      `json:"index"`
	ProductID   int64    `json:"product_id,omitempty"`
	CandidateID int64    `json:"candidate_id,omitempty"`
	RemoteID    int64    `json:"remote_id,omitempty"`
	SKU         string   `json:"sku,omitempty"`
	Name        string   `json:"name,omitempty"`
	Outcome     Outcome  `json:"outcome"`
	Reason      string   `json:"reason,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// RunReport 每次同步或批量上传都会产出的报告
type RunReport struct {
	RunID         string       `json:"run_id"`
	SiteID        int64        `json:"site_id"`
	Kind          RunKind      `json:"kind"`
	State         RunState     `json:"state"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
	Pulled        int          `json:"pulled"`
	Categories    int          `json:"categories"`
	RemoteDeleted int          `json:"remote_deleted"`
	Items         []ReportItem `json:"items"`
	Warnings      []string     `json:"warnings,omitempty"`
	FatalError    string       `json:"fatal_error,omitempty"`
	Canceled      bool         `json:"canceled"`
}

// Add 追加一行，Index 按追加顺序编号
func (r *RunReport) Add(item ReportItem) {
	item.Index = len(r.Items)
	r.Items = append(r.Items, item)
}

// Warn 追加运行级警告
func (r *RunReport) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Count 统计某种结果的行数
func (r *RunReport) Count(o Outcome) int {
	n := 0
	for _, item := range r.Items {
		if item.Outcome == o {
			n++
		}
	}
	return n
}

// Failed 是否以致命错误结束
func (r *RunReport) Failed() bool {
	return r.State == RunStateError
}

// ==================== 运行历史 ====================

// SyncRun 持久化的运行记录，站点删除后仍保留
type SyncRun struct {
	BaseModel
	RunID         string                          `gorm:"size:36;not null;uniqueIndex" json:"run_id"`
	SiteID        int64                           `gorm:"not null;index" json:"site_id"`
	Kind          RunKind                         `gorm:"size:32;not null" json:"kind"`
	State         RunState                        `gorm:"size:16;not null" json:"state"`
	StartedAt     time.Time                       `json:"started_at"`
	FinishedAt    *time.Time                      `json:"finished_at"`
	Created       int                             `json:"created"`
	Updated       int                             `json:"updated"`
	Skipped       int                             `json:"skipped"`
	FailedCount   int                             `gorm:"column:failed" json:"failed"`
	Pulled        int                             `json:"pulled"`
	RemoteDeleted int                             `json:"remote_deleted"`
	Canceled      bool                            `gorm:"not null;default:false" json:"canceled"`
	FatalError    string                          `gorm:"size:1024" json:"fatal_error"`
	Items         datatypes.JSONSlice[ReportItem] `json:"items"`
	Warnings      datatypes.JSONSlice[string]     `json:"warnings"`
}

func (SyncRun) TableName() string { return "sync_runs" }

// ToReport 历史记录还原为报告
func (r *SyncRun) ToReport() *RunReport {
	return &RunReport{
		RunID:         r.RunID,
		SiteID:        r.SiteID,
		Kind:          r.Kind,
		State:         r.State,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		Pulled:        r.Pulled,
		RemoteDeleted: r.RemoteDeleted,
		Items:         r.Items,
		Warnings:      r.Warnings,
		FatalError:    r.FatalError,
		Canceled:      r.Canceled,
	}
}

// ApplyReport 将最终报告写回历史记录
func (r *SyncRun) ApplyReport(rep *RunReport) {
	r.State = rep.State
	r.FinishedAt = rep.FinishedAt
	r.Created = rep.Count(OutcomeCreated)
	r.Updated = rep.Count(OutcomeUpdated)
	r.Skipped = rep.Count(OutcomeSkipped)
	r.FailedCount = rep.Count(OutcomeFailed)
	r.Pulled = rep.Pulled
	r.RemoteDeleted = rep.RemoteDeleted
	r.Canceled = rep.Canceled
	r.FatalError = rep.FatalError
	r.Items = rep.Items
	r.Warnings = rep.Warnings
}

// AllModels 自动迁移的模型列表
func AllModels() []interface{} {
	return []interface{}{
		&Site{}, &Product{}, &Category{}, &StagedCandidate{}, &SyncRun{},
	}
}
