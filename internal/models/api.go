package models

// APIResponse is the JSON envelope of every REST reply. Only the fields the
// endpoint fills are present.
type APIResponse struct {
	Success        bool           `json:"success"`
	Message        string         `json:"message,omitempty"`
	Token          string         `json:"token,omitempty"`
	UserData       *User          `json:"userData,omitempty"`
	User           *User          `json:"user,omitempty"`
	Keys           *KeyBundle     `json:"keys,omitempty"`
	Users          []*User        `json:"users,omitempty"`
	UnseenMessages map[string]int `json:"unseenMessages,omitempty"`
	Messages       []*Message     `json:"messages,omitempty"`
	NewMessage     *Message       `json:"newMessage,omitempty"`
	PublicKey      string         `json:"publicKey,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SendMessageRequest is the body of POST /api/messages/send/{id}. Text is
// box ciphertext; Image is a data URL.
type SendMessageRequest struct {
	Text  string `json:"text,omitempty"`
	Nonce string `json:"nonce,omitempty"`
	Image string `json:"image,omitempty"`
}
