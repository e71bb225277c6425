package session

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CardList holds card codes such as "AS" or "KD". Collaborators are not
// consistent about the shape: some payloads carry a bare array, others a
// {"cards":[...]} wrapper. Both normalize to the same representation at
// the boundary so nothing past the decoder has to care.
type CardList []string

func (c *CardList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = nil
		return nil
	}
	switch data[0] {
	case '[':
		var plain []string
		if err := json.Unmarshal(data, &plain); err != nil {
			return err
		}
		*c = plain
		return nil
	case '{':
		var wrapped struct {
			Cards []string `json:"cards"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return err
		}
		*c = wrapped.Cards
		return nil
	default:
		return fmt.Errorf("cards: unsupported payload shape %q", data[0])
	}
}
