package models

// User is the profile provisioned from the session provider and stored at user:{id}.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	ImageURL  string `json:"imageUrl"`
	Username  string `json:"username"`
	CreatedAt string `json:"createdAt"`
}

// Sender is the short profile attached to new_message notifications.
type Sender struct {
	Username string `json:"username"`
	ImageURL string `json:"imageUrl"`
}

// AsSender returns the notification profile for u.
func (u User) AsSender() Sender {
	return Sender{Username: u.Username, ImageURL: u.ImageURL}
}

// DisplayName returns the username, falling back to the first name or email.
func (u User) DisplayName() string {
	switch {
	case u.Username != "":
		return u.Username
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Email
	}
}
