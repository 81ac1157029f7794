package data

import (
	"errors"

	"github.com/target/docflow/internal/core"
)

// Shared sentinel errors for the job store.
var (
	ErrJobNotFound   = core.ErrJobNotFound
	ErrJobRemoved    = core.ErrJobRemoved
	ErrJobIDRequired = errors.New("job id is required")
)
