package chain

import "encoding/json"

type rpcBlock struct {
	Number       string            `json:"number"`
	Transactions []json.RawMessage `json:"transactions"`
}
