package users

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is a registered account. Its identifier lives in the shared identity space.
type User struct {
	ID           uuid.UUID `gorm:"column:id;primaryKey"`
	Username     string    `gorm:"column:username;not null;uniqueIndex"`
	Email        string    `gorm:"column:email;not null"`
	DateOfBirth  time.Time `gorm:"column:date_of_birth;type:date;not null"`
	PasswordHash string    `gorm:"column:password_hash;not null" json:"-"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// Registration is the input to Service.Register.
type Registration struct {
	Username    string
	Email       string
	DateOfBirth time.Time
	Password    string
}

// normalize trims surrounding whitespace from user-supplied fields.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
