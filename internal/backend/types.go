package backend

import "time"

// User is the profile returned by the auth endpoints.
type User struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
	Role    string `json:"role"`
}

// AuthResult is returned by a successful credential exchange.
type AuthResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Notification is an unread event about one of the user's bots.
type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	BotID     int64     `json:"bot_id"`
	EventType string    `json:"event_type"`
	EventData string    `json:"event_data"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// Usage carries the word and storage counters of the current plan.
type Usage struct {
	GlobalWordsUsed       int64 `json:"globalWordsUsed"`
	CurrentSessionWords   int64 `json:"currentSessionWords"`
	PlanLimit             int64 `json:"planLimit"`
	GlobalStorageUsed     int64 `json:"globalStorageUsed"`
	CurrentSessionStorage int64 `json:"currentSessionStorage"`
	StorageLimit          int64 `json:"storageLimit"`
}

// Patient is a transcript subject.
type Patient struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
}

// Record is one stored transcript.
type Record struct {
	ID        int64     `json:"id,omitempty"`
	PatientID int64     `json:"patient_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Turn is one message of a transcript QnA conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Bot statuses.
const (
	BotInProgress = "in_progress"
	BotActive     = "active"
	BotInactive   = "inactive"
)

// Bot is the job target of a video ingestion batch.
type Bot struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// SubmitResult is the backend's answer to a video batch submission.
type SubmitResult struct {
	Status string `json:"status"`
}
