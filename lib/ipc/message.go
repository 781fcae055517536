package ipc

import "encoding/json"

// Request is sent by a client as a single line of JSON.
type Request struct {
	// Arguments is the command line of the client, the command name
	// first. An empty list is a ping.
	Arguments []string `json:"arguments"`
}

// Response answers a Request on a single line of JSON.
type Response struct {
	// Error is empty when the command succeeded.
	Error  string   `json:"error"`
	Result []string `json:"result,omitempty"`
}

// encodeLine marshals msg and terminates it with a newline.
func encodeLine(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func decode[T any](data []byte) (*T, error) {
	msg := new(T)
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
