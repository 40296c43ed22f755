package answer

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// unmarshalAnswer decodes a provider reply, attempting to repair
// malformed JSON before giving up. Model output is close to JSON more
// often than it is JSON.
func unmarshalAnswer(data []byte) (*Answer, error) {
	var a Answer
	err := json.Unmarshal(data, &a)
	if err != nil {
		if _, ok := err.(*json.SyntaxError); !ok {
			return nil, err
		}
		fixed, rerr := jsonrepair.JSONRepair(string(data))
		if rerr != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fixed), &a); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(a.Text) == "" {
		return nil, ErrEmptyAnswer
	}
	return &a, nil
}

// trimFence strips a markdown code fence wrapped around a JSON reply.
func trimFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
