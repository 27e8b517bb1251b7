package api

import "errors"

var (
	errMissingTargetURL = errors.New("target_url is required")
	errInvalidTargetURL = errors.New("target_url must be an absolute http or https URL")
)
