package query

import (
	"github.com/goccy/go-json"
)

// Body is the JSON body of the http endpoints:
//
//	{"select":["id"],"vals":{...},"where":[{"col":"id","op":"lt","val":3}],
//	 "order":[{"col":"id","opt":"desc"}],"limit":{"off":0,"num":10}}
type Body struct {
	Columns []string       `json:"select,omitempty"`
	Values  map[string]any `json:"vals,omitempty"`
	Wheres  []*Where       `json:"where,omitempty"`
	Orders  []*Order       `json:"order,omitempty"`
	Limit   *Limit         `json:"limit,omitempty"`
}

// Parse decodes and verifies a Body. An empty input is an empty Body.
func Parse(data []byte) (*Body, error) {
	b := &Body{}
	if len(data) == 0 {
		return b, nil
	}
	raw := map[string]json.RawMessage{}
	err := json.Unmarshal(data, &raw)
	if err != nil {
		return nil, err
	}
	var errs [5]error
	if v, ok := raw["select"]; ok {
		errs[0] = json.Unmarshal(v, &b.Columns)
	}
	if v, ok := raw["vals"]; ok {
		errs[1] = json.Unmarshal(v, &b.Values)
	}
	b.Wheres, errs[2] = parseWhere(raw["where"])
	b.Orders, errs[3] = parseOrder(raw["order"])
	b.Limit, errs[4] = parseLimit(raw["limit"])
	for _, e := range errs {
		if e != nil {
			return nil, e
		}
	}
	return b, nil
}
