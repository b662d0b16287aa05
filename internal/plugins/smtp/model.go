// Package smtp delivers outbound email. Settings come from the environment
// (see config.SMTPConfig); the password is never returned by the admin API,
// only a flag saying whether one is set.
//
// Mail is queued and sent by background workers so request handlers never
// wait on the mail server.
package smtp

// Message is a single outbound email with plain-text and HTML bodies.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Settings is the redacted view of the mail configuration served to admins.
type Settings struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	HasPassword bool   `json:"hasPassword"`
	FromAddress string `json:"fromAddress"`
	FromName    string `json:"fromName"`
	Encryption  string `json:"encryption"` // "starttls", "ssl", or "none".
	Enabled     bool   `json:"enabled"`
}

// QueueStats reports dispatcher counters since startup.
type QueueStats struct {
	Queued  int    `json:"queued"`
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

// StatusResponse is the body of GET /api/admin/smtp.
type StatusResponse struct {
	Settings Settings   `json:"settings"`
	Queue    QueueStats `json:"queue"`
}
