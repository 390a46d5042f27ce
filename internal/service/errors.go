package service

import "errors"

// ErrInvalidInput marks a request missing its session id or message.
var ErrInvalidInput = errors.New("invalid input")

// ErrNoOpeners is returned when the catalog offers nothing to start from.
var ErrNoOpeners = errors.New("catalog has no products with an initial symptom")

var errEmptyReply = errors.New("生成的回复为空")
