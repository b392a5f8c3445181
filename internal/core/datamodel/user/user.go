package user

import "time"

// Profile mirrors the account row owned by the main application; this
// service only ever touches VideoCredits, and only through atomic increments.
type Profile struct {
	ID           int64     `gorm:"primaryKey"`
	Email        string    `gorm:"column:email;uniqueIndex;not null"`
	DisplayName  string    `gorm:"column:display_name"`
	VideoCredits int64     `gorm:"column:video_credits;not null;default:0"`
	IsActive     bool      `gorm:"column:is_active;default:true"`
	CreatedAt    time.Time `gorm:"column:created_at;default:now()"`
	UpdatedAt    time.Time `gorm:"column:updated_at;default:now()"`
}

func (Profile) TableName() string { return "profiles" }
