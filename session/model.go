package session

// Session is one browser session held behind a cookie.
type Session struct {
	SessionID     string
	SubjectID     string
	SchemaVersion uint8

	CreatedAt int64
	ExpiresAt int64
}
