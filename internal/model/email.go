package model

type Email struct {
	ID         int64  `json:"id"`
	Mailbox    string `json:"mailbox"`
	Sender     string `json:"sender"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	ReceivedAt int64  `json:"received_at"`
}
