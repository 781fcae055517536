package auth

import (
	"encoding/json"
	"fmt"

	"github.com/emersion/go-sasl"
)

// Xoauth2Error is the JSON challenge sent by the server when the token
// was refused.
type Xoauth2Error struct {
	Status  string `json:"status"`
	Schemes string `json:"schemes"`
	Scope   string `json:"scope"`
}

func (err *Xoauth2Error) Error() string {
	return fmt.Sprintf("XOAUTH2 authentication error (%v)", err.Status)
}

type xoauth2Client struct {
	username string
	token    string
}

func (a *xoauth2Client) Start() (string, []byte, error) {
	ir := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", a.username, a.token)
	return "XOAUTH2", []byte(ir), nil
}

func (a *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	var xerr Xoauth2Error
	if err := json.Unmarshal(challenge, &xerr); err != nil {
		return nil, err
	}
	return nil, &xerr
}

// NewXoauth2Client implements the XOAUTH2 mechanism of Gmail and Outlook
// on top of go-sasl.
func NewXoauth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}
