package storage

import (
	"time"

	"github.com/liamashdown/amlwatch/internal/aml"
	"gorm.io/gorm"
)

// BlacklistRecord is the persisted form of aml.BlacklistEntry
type BlacklistRecord struct {
	Address   string `gorm:"primaryKey;size:42"`
	Reason    string `gorm:"size:512;not null"`
	AddedBy   string `gorm:"size:128;not null;index"`
	AddedTS   int64  `gorm:"not null;index"`
	UpdatedTS int64  `gorm:"not null"`
}

func (BlacklistRecord) TableName() string {
	return "blacklist_entries"
}

// BeforeCreate hook for timestamps
func (b *BlacklistRecord) BeforeCreate(tx *gorm.DB) error {
	if b.UpdatedTS == 0 {
		b.UpdatedTS = time.Now().Unix()
	}
	return nil
}

func recordFromEntry(e *aml.BlacklistEntry) *BlacklistRecord {
	return &BlacklistRecord{
		Address:   e.Address.String(),
		Reason:    e.Reason,
		AddedBy:   e.AddedBy,
		AddedTS:   e.AddedAt.Unix(),
		UpdatedTS: time.Now().Unix(),
	}
}

func (b *BlacklistRecord) entry() aml.BlacklistEntry {
	return aml.BlacklistEntry{
		Address: aml.Address(b.Address),
		Reason:  b.Reason,
		AddedBy: b.AddedBy,
		AddedAt: time.Unix(b.AddedTS, 0).UTC(),
	}
}
