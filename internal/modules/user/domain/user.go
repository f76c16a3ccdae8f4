package domain

// SMTPSettings is a user's outbound mail configuration. Password holds
// the encrypted credential; it is decrypted transiently by the email
// sender for the duration of one attempt and never logged.
type SMTPSettings struct {
	Host      string `json:"smtp_host"`
	Port      int    `json:"smtp_port"`
	Username  string `json:"smtp_username"`
	Password  string `json:"smtp_password"`
	UseTLS    bool   `json:"smtp_use_tls"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name,omitempty"`
}

// User is owned by the account CRUD layer; this core reads it for
// scheduling (daily send time, timezone, active flag) and for channel
// destinations.
type User struct {
	ID        int64  `json:"id"`
	SendEmail string `json:"send_email"`
	IsActive  bool   `json:"is_active"`
	// DailySendTime is "HH:MM" local to Timezone; daily subscriptions
	// deliver after this boundary. Empty means 00:00.
	DailySendTime  string       `json:"daily_send_time"`
	Timezone       string       `json:"timezone"` // IANA name, empty means UTC
	TelegramChatID string       `json:"telegram_chat_id,omitempty"`
	SMTP           SMTPSettings `json:"smtp"`
}
