package query

import (
	"errors"

	"github.com/goccy/go-json"
)

type Limit struct {
	Offset int `json:"off"`
	Num    int `json:"num"`
}

func parseLimit(data []byte) (*Limit, error) {
	if data == nil {
		return nil, nil
	}
	limit := &Limit{}
	err := json.Unmarshal(data, limit)
	if err != nil {
		return nil, err
	}
	// num must gt 0
	if limit.Num <= 0 || limit.Offset < 0 {
		return nil, errors.New("limit num must be positive and offset not negative")
	}
	return limit, nil
}
