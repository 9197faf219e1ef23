package taxtable

import "errors"

var (
	ErrNoTable      = errors.New("no tax table effective for date")
	ErrInvalidTable = errors.New("invalid tax table")
)
