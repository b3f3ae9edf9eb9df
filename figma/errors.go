package figma

import "errors"

// ErrResolution is returned when an identifier or URL cannot be resolved
// to a design file id.
var ErrResolution = errors.New("figma: cannot resolve file identifier")

// ErrAssetNotFound is returned for HTTP 404 on a file.
var ErrAssetNotFound = errors.New("figma: asset not found")

// ErrAssetAccessDenied is returned for HTTP 401/403 on a file.
var ErrAssetAccessDenied = errors.New("figma: asset access denied")

// ErrRateLimited is returned when the retry budget for HTTP 429 responses
// is exhausted.
var ErrRateLimited = errors.New("figma: rate limited, retries exhausted")

// ErrNoImage marks a node the render endpoint returned no usable URL for.
// A null URL in an otherwise successful response is deliberately folded
// into this error rather than distinguished from transport failures.
var ErrNoImage = errors.New("figma: no image rendered for node")
