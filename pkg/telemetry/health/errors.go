package health

import "errors"

var errCheckTimeout = errors.New("health check timeout")
