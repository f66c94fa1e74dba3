package core

import (
	"errors"
)

var (
	ErrNotFound     = errors.New("sigcas: not found")
	ErrInvalidInput = errors.New("sigcas: invalid input")
	ErrRead         = errors.New("sigcas: read error")
	ErrWrite        = errors.New("sigcas: write error")
	ErrCorrupt      = errors.New("sigcas: corrupt data")
	ErrClosed       = errors.New("sigcas: store closed")
)
