package session

import "encoding/json"

func jsonString(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	return string(raw), err
}
