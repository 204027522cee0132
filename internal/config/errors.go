package config

import "errors"

var errInvalidBool = errors.New("invalid boolean")
