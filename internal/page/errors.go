package page

import "errors"

var (
	ErrUnknownPageKind = errors.New("unknown page kind")
	ErrCorruptPage     = errors.New("corrupt page body")
)
