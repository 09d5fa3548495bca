package model

import "github.com/go-openapi/inflect"

func propertyName(naming, column string) string {
	switch naming {
	case NamingSnake:
		return inflect.CamelizeDownFirst(column)
	default:
		return column
	}
}
