package models

// User is an account that can organise meetings and receive invitations. Accounts are
// created by the signup flow outside this service; only the identity fields live here.
type User struct {
	BaseModel

	Name  string `gorm:"size:200" json:"name"`
	Email string `gorm:"size:320;uniqueIndex;not null" json:"email"`
}
