package settings

import "errors"

// ErrLoadSettings is returned when the settings file cannot be read or holds invalid values.
var ErrLoadSettings = errors.New("load settings")
