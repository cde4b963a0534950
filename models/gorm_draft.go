package models

// KeyValue is one entry of the durable key-value store backing drafts
// and other client-side persistence (options, sessions).
// It corresponds to the 'kv_entries' table.
type KeyValue struct {
	Key       string `gorm:"primaryKey;column:kv_key" json:"key"`
	Value     []byte `gorm:"not null" json:"value"`
	Size      int    `gorm:"not null" json:"size"`
	CreatedAt int64  `gorm:"not null" json:"created_at"` // Unix timestamp
	UpdatedAt int64  `gorm:"not null" json:"updated_at"` // Unix timestamp
}

// TableName explicitly sets the table name for GORM.
func (KeyValue) TableName() string {
	return "kv_entries"
}
