package main

import "errors"

// Pull command errors.
var (
	ErrMissingURL       = errors.New("missing image url")
	ErrResolveImageRoot = errors.New("resolve image root")
	ErrPullFailed       = errors.New("pull failed")
)
