package memory

import "errors"

var errEmptyVector = errors.New("vector must not be empty")
