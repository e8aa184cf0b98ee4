package postgres

import "errors"

var (
	errMockSyntax = errors.New(`pq: syntax error at or near "GARBAGE"`)
	errMockConn   = errors.New("connection refused")
)
