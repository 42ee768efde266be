package model

import (
	"time"
)

// BaseModel 公共字段
// 远端删除通过 Product.RemoteDeleted 显式记录，不使用软删除列
type BaseModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Now 统一的时间源：UTC 并截断到微秒，sqlite 与 postgres 比较结果一致
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
