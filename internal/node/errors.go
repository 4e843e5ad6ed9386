package node

import "errors"

var errMissingArgument = errors.New("missing argument")
