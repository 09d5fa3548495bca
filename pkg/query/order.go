package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

type Order struct {
	Col    string `json:"col"`
	Option string `json:"opt,omitempty"`
}

func parseOrder(data []byte) ([]*Order, error) {
	if data == nil {
		return nil, nil
	}
	var orders []*Order
	err := json.Unmarshal(data, &orders)
	if err != nil {
		return nil, err
	}
	for _, o1 := range orders {
		o1.normalize()
		err = o1.Verify()
		if err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (o *Order) normalize() {
	if o.Option == "" {
		o.Option = "ASC"
	} else {
		o.Option = strings.ToUpper(o.Option)
	}
}

func (o *Order) Verify() error {
	if o == nil {
		return errors.New("order is nil")
	}
	if o.Col == "" {
		return errors.New("order col is required")
	}
	if strings.ContainsAny(o.Col, " ;,()'\"") {
		return fmt.Errorf("invalid order col '%s'", o.Col)
	}
	if o.Option != "DESC" && o.Option != "ASC" {
		return errors.New("order option must be 'asc' or 'desc'")
	}
	return nil
}

func (o *Order) String() string {
	return fmt.Sprintf("%s %s", o.Col, o.Option)
}

// NewOrder orders by col; dir is asc or desc, empty means asc.
func NewOrder(col, dir string) (*Order, error) {
	o := &Order{Col: col, Option: dir}
	o.normalize()
	if err := o.Verify(); err != nil {
		return nil, err
	}
	return o, nil
}
